package xive

import "github.com/daxtens/xivevm/xive/xivelog"

// TIMA page identifiers: the four mirrors of the same 64-byte register
// bank, ordered from most to least privileged. Grounded on
// XIVE_TM_HW_PAGE..XIVE_TM_USER_PAGE.
const (
	TIMAPageHW   = 0
	TIMAPageHV   = 1
	TIMAPageOS   = 2
	TIMAPageUser = 3

	timaPageShift = 12 // each page is 4K
)

// Per-byte access permissions: 0 none, 1 write-only, 2 read-only, 3 rw.
const (
	accNone  = 0
	accWrite = 1
	accRead  = 2
	accRW    = 3
)

// tmHWView, tmHVView, tmOSView, tmUserView mirror the original
// source's xive_tm_hw_view/hv_view/os_view/user_view tables verbatim:
// one access byte per register offset, 16 bytes per ring, four rings.
var (
	tmHWView = [64]byte{
		3, 0, 0, 0, 0, 0, 0, 0, 3, 3, 3, 3, 0, 0, 0, 0,
		3, 3, 3, 3, 3, 3, 0, 3, 3, 3, 3, 3, 0, 0, 0, 0,
		0, 0, 3, 3, 0, 0, 0, 0, 3, 3, 3, 3, 0, 0, 0, 0,
		3, 3, 3, 3, 0, 3, 0, 3, 3, 0, 0, 3, 3, 3, 3, 0,
	}
	tmHVView = [64]byte{
		3, 0, 0, 0, 0, 0, 0, 0, 3, 3, 3, 3, 0, 0, 0, 0,
		3, 3, 3, 3, 3, 3, 0, 3, 3, 3, 3, 3, 0, 0, 0, 0,
		0, 0, 3, 3, 0, 0, 0, 0, 0, 3, 3, 3, 0, 0, 0, 0,
		3, 3, 3, 3, 0, 3, 0, 3, 3, 0, 0, 3, 0, 0, 0, 0,
	}
	tmOSView = [64]byte{
		3, 0, 0, 0, 0, 0, 0, 0, 3, 3, 3, 3, 0, 0, 0, 0,
		2, 3, 2, 2, 2, 2, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 3, 3, 0,
	}
	tmUserView = [64]byte{
		3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	tmViews = [4]*[64]byte{
		TIMAPageHW:   &tmHWView,
		TIMAPageHV:   &tmHVView,
		TIMAPageOS:   &tmOSView,
		TIMAPageUser: &tmUserView,
	}
)

// timaMask computes the per-byte read or write mask for a size-byte
// access at offset, one byte of 0xff per accessible byte. Grounded on
// xive_tm_mask.
func timaMask(offset uint64, size uint, write bool) uint64 {
	page := (offset >> timaPageShift) & 0x3
	regOff := offset & 0x3F
	need := byte(accRead)
	if write {
		need = accWrite
	}

	view := tmViews[page]
	var mask uint64
	for i := uint(0); i < size; i++ {
		if view[regOff+uint64(i)]&need != 0 {
			mask |= uint64(0xff) << (8 * (size - i - 1))
		}
	}
	return mask
}

// timaOp describes one special TIMA operation: a (page, byte offset
// within the 4K page, size) triple dispatched instead of a raw
// register read/write. Grounded on xive_tm_operations.
type timaOp struct {
	page      int
	opOffset  uint64
	size      uint
	write     func(t *TCTX, value uint64, size uint)
	read      func(t *TCTX, size uint) uint64
}

var timaOps = []timaOp{
	{page: TIMAPageOS, opOffset: uint64(RingOS) + tmCPPR, size: 1,
		write: func(t *TCTX, value uint64, size uint) { t.SetCPPR(RingOS, uint8(value)) }},

	{page: TIMAPageOS, opOffset: 0x800 + 0x00, size: 2,
		read: func(t *TCTX, size uint) uint64 { return uint64(t.Accept(RingOS)) }},

	{page: TIMAPageOS, opOffset: 0x800 + 0x04, size: 1,
		write: func(t *TCTX, value uint64, size uint) { t.RaiseBacklog(RingOS, uint8(value)) }},
}

func findTimaOp(offset uint64, size uint, write bool) *timaOp {
	page := int((offset >> timaPageShift) & 0x3)
	opOffset := offset & 0xFFF

	for i := range timaOps {
		op := &timaOps[i]
		if op.page < page {
			continue
		}
		if op.opOffset != opOffset || op.size != size {
			continue
		}
		if write && op.write != nil {
			return op
		}
		if !write && op.read != nil {
			return op
		}
	}
	return nil
}

// TIMAHandler implements platform.IoOperations for one TCTX's TIMA
// mapping. A Controller creates one per CPU, each wrapping that CPU's
// TCTX; one handler serves all four page mirrors, taking the page from
// the access offset — matching the original where the page is derived
// from the access address and the TCTX from the currently-running CPU.
type TIMAHandler struct {
	tctx *TCTX
	log  *xivelog.GuestErrorLogger
}

// NewTIMAHandler wraps tctx for MMIO access, warning through log on
// every invalid access. Grounded on xive_tm_raw_read/write's and
// xive_tm_read/write's qemu_log_mask(LOG_GUEST_ERROR, ...) calls.
func NewTIMAHandler(tctx *TCTX, log *xivelog.GuestErrorLogger) *TIMAHandler {
	return &TIMAHandler{tctx: tctx, log: log}
}

func (h *TIMAHandler) warnf(format string, args ...interface{}) {
	if h.log != nil {
		h.log.Warnf(format, args...)
	}
}

func (h *TIMAHandler) rawRead(offset uint64, size uint) uint64 {
	ringOffset := offset & 0x30
	regOffset := offset & 0x3F
	mask := timaMask(offset, size, false)

	if size < 4 || mask == 0 || Ring(ringOffset) == RingUser {
		h.warnf("invalid TIMA raw load at %#x, size %d", offset, size)
		return ^uint64(0)
	}

	var ret uint64
	for i := uint(0); i < size; i++ {
		ret |= uint64(h.tctx.regs[regOffset+uint64(i)]) << (8 * (size - i - 1))
	}
	return ret & mask
}

func (h *TIMAHandler) rawWrite(offset uint64, value uint64, size uint) {
	ringOffset := offset & 0x30
	regOffset := offset & 0x3F
	mask := timaMask(offset, size, true)

	if size < 4 || mask == 0 || Ring(ringOffset) == RingUser {
		h.warnf("invalid TIMA raw store at %#x, size %d", offset, size)
		return
	}

	for i := uint(0); i < size; i++ {
		byteMask := byte(mask >> (8 * (size - i - 1)))
		if byteMask != 0 {
			h.tctx.regs[regOffset+uint64(i)] = byte(value>>(8*(size-i-1))) & byteMask
		}
	}
}

// Read implements platform.IoOperations. Grounded on xive_tm_read.
func (h *TIMAHandler) Read(offset uint64, size uint) (uint64, error) {
	write := false
	if offset&0x800 != 0 {
		op := findTimaOp(offset, size, write)
		if op == nil || op.read == nil {
			h.warnf("no TIMA special-op load at %#x, size %d", offset, size)
			return ^uint64(0), nil
		}
		return op.read(h.tctx, size), nil
	}
	if op := findTimaOp(offset, size, write); op != nil && op.read != nil {
		return op.read(h.tctx, size), nil
	}
	return h.rawRead(offset, size), nil
}

// Write implements platform.IoOperations. Grounded on xive_tm_write.
func (h *TIMAHandler) Write(offset uint64, size uint, value uint64) error {
	write := true
	if offset&0x800 != 0 {
		op := findTimaOp(offset, size, write)
		if op == nil || op.write == nil {
			h.warnf("no TIMA special-op store at %#x, size %d", offset, size)
			return nil
		}
		op.write(h.tctx, value, size)
		return nil
	}
	if op := findTimaOp(offset, size, write); op != nil && op.write != nil {
		op.write(h.tctx, value, size)
		return nil
	}
	h.rawWrite(offset, value, size)
	return nil
}
