package xive

import "github.com/daxtens/xivevm/platform"

// EQSource is the EQ ESB source (the MMIO surface a guest OS uses to
// manage notification/escalation coalescing for its own EQs, as
// opposed to triggering event sources). Each EQ gets an even/odd pair
// of pages: even manages ESn, odd manages ESe. Grounded on
// xive_eq_source_read/write/realize.
type EQSource struct {
	nrEQs    uint32
	esbShift uint
	blockID  uint8

	backend RouterBackend
}

// NewEQSource validates its configuration like xive_eq_source_realize
// (only single-page shifts are valid here; the EQ source never has
// its own trigger page since EQs are triggered through the Router,
// not the EQSource).
func NewEQSource(nrEQs uint32, esbShift uint, blockID uint8, backend RouterBackend) (*EQSource, error) {
	if nrEQs == 0 {
		return nil, ErrNoEQs
	}
	if esbShift != ESBShift4K && esbShift != ESBShift64K {
		return nil, ErrBadESBShift
	}
	if backend == nil {
		return nil, ErrMissingBackend
	}
	return &EQSource{nrEQs: nrEQs, esbShift: esbShift, blockID: blockID, backend: backend}, nil
}

// Region returns the MMIO region this EQ source occupies when mapped
// at base: two pages per EQ.
func (es *EQSource) Region(base platform.Paddr) platform.Region {
	return platform.Region{Start: base, Size: (uint64(1) << (es.esbShift + 1)) * uint64(es.nrEQs)}
}

// Read implements platform.IoOperations for the EQ ESB page range.
// Grounded on xive_eq_source_read.
func (es *EQSource) Read(offset uint64, size uint) (uint64, error) {
	if size != 8 {
		es.backend.WarnGuestError("invalid EQ ESB access size %d at %#x, only 8-byte accesses are valid", size, offset)
		return ^uint64(0), nil
	}

	pageOff := offset & 0xFFF
	eqIdx := uint32(offset >> (es.esbShift + 1))

	eq, err := es.backend.GetEQ(es.blockID, eqIdx)
	if err != nil || !eq.Valid() {
		es.backend.WarnGuestError("no valid EQ %x/%x", es.blockID, eqIdx)
		return ^uint64(0), nil
	}

	even := addrIsEven(offset, es.esbShift)
	pq := eq.ESn()
	if !even {
		pq = eq.ESe()
	}

	var ret uint64
	switch {
	case pageOff >= esbLoadEOI && pageOff < esbLoadEOI+0x800:
		// Only the PQ state changes; no Router notification is forwarded, even when esbEOI reports one.
		ret = boolToU64(esbEOI(&pq))
	case pageOff >= esbGet && pageOff < esbGet+0x400:
		ret = uint64(pq)
	case pageOff >= esbSetPQ00 && pageOff < esbSetPQ00+0x100,
		pageOff >= esbSetPQ01 && pageOff < esbSetPQ01+0x100,
		pageOff >= esbSetPQ10 && pageOff < esbSetPQ10+0x100,
		pageOff >= esbSetPQ11 && pageOff < esbSetPQ11+0x100:
		ret = uint64(esbSet(&pq, byte((pageOff>>8)&0x3)))
	default:
		es.backend.WarnGuestError("invalid EQ ESB load addr %#x", pageOff)
		return ^uint64(0), nil
	}

	if even {
		eq.SetESn(pq)
	} else {
		eq.SetESe(pq)
	}
	es.backend.SetEQ(es.blockID, eqIdx, eq)

	return ret, nil
}

// Write always fails: the EQ ESB page range is read/modify-only via
// its load side effects. Grounded on xive_eq_source_write.
func (es *EQSource) Write(offset uint64, size uint, value uint64) error {
	if size != 8 {
		es.backend.WarnGuestError("invalid EQ ESB access size %d at %#x, only 8-byte accesses are valid", size, offset)
		return nil
	}
	es.backend.WarnGuestError("invalid EQ ESB store addr %#x", offset&0xFFF)
	return nil
}
