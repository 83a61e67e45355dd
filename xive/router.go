package xive

import "github.com/daxtens/xivevm/xive/xivelog"

// RouterBackend is the storage collaborator a Router consults for its
// IVE/EQ/VP caches. In the original source this is a per-machine
// subclass (PnvXive, sPAPRXive); here it is a narrow interface so a
// Controller can supply an in-memory map-backed implementation
// without the Router knowing anything about how entries are stored.
// Grounded on XiveRouterClass's get_ive/set_ive/get_eq/set_eq/get_vp/set_vp.
type RouterBackend interface {
	GetIVE(lisn uint32) (IVE, error)
	SetIVE(lisn uint32, ive IVE) error
	GetEQ(eqBlock uint8, eqIndex uint32) (*EQ, error)
	SetEQ(eqBlock uint8, eqIndex uint32, eq *EQ) error
	GetVP(vpBlock uint8, vpIndex uint32) (*VP, error)
	SetVP(vpBlock uint8, vpIndex uint32, vp *VP) error

	// WarnGuestError reports a guest programming error; backends
	// forward it to a xivelog.GuestErrorLogger.
	WarnGuestError(format string, args ...interface{})
}

// MapBackend is a RouterBackend backed by plain Go maps, sufficient
// for a single-machine emulation where the cache-miss/cache-write-back
// distinction the original models (separate EQD/VPD caches behind a
// controller-specific storage format) does not apply.
type MapBackend struct {
	ives map[uint32]IVE
	eqs  map[uint64]*EQ
	vps  map[uint64]*VP
	log  *xivelog.GuestErrorLogger
}

// NewMapBackend returns an empty backend; every lookup fails until
// populated via SetIVE/SetEQ/SetVP.
func NewMapBackend(log *xivelog.GuestErrorLogger) *MapBackend {
	return &MapBackend{
		ives: make(map[uint32]IVE),
		eqs:  make(map[uint64]*EQ),
		vps:  make(map[uint64]*VP),
		log:  log,
	}
}

func eqKey(block uint8, index uint32) uint64 { return uint64(block)<<32 | uint64(index) }
func vpKey(block uint8, index uint32) uint64 { return uint64(block)<<32 | uint64(index) }

func (b *MapBackend) GetIVE(lisn uint32) (IVE, error) {
	ive, ok := b.ives[lisn]
	if !ok {
		return 0, ErrUnknownLISN
	}
	return ive, nil
}

func (b *MapBackend) SetIVE(lisn uint32, ive IVE) error {
	b.ives[lisn] = ive
	return nil
}

func (b *MapBackend) GetEQ(eqBlock uint8, eqIndex uint32) (*EQ, error) {
	eq, ok := b.eqs[eqKey(eqBlock, eqIndex)]
	if !ok {
		return nil, ErrUnknownEQ
	}
	return eq, nil
}

func (b *MapBackend) SetEQ(eqBlock uint8, eqIndex uint32, eq *EQ) error {
	b.eqs[eqKey(eqBlock, eqIndex)] = eq
	return nil
}

func (b *MapBackend) GetVP(vpBlock uint8, vpIndex uint32) (*VP, error) {
	vp, ok := b.vps[vpKey(vpBlock, vpIndex)]
	if !ok {
		return nil, ErrUnknownVP
	}
	return vp, nil
}

func (b *MapBackend) SetVP(vpBlock uint8, vpIndex uint32, vp *VP) error {
	b.vps[vpKey(vpBlock, vpIndex)] = vp
	return nil
}

func (b *MapBackend) WarnGuestError(format string, args ...interface{}) {
	if b.log != nil {
		b.log.Warnf(format, args...)
	}
}

// Router is the IVRE: it turns a source's event trigger into an EQ
// push and, from there, a presenter notification. The presenter
// engine (IVPE) is merged into Router, matching the original's design
// note that it needs no object of its own.
type Router struct {
	backend RouterBackend
	tctxs   map[cpuKey]*TCTX
	writer  MemoryWriterFunc
}

type cpuKey struct {
	block uint8
	index uint32
}

// NewRouter wires a Router to its storage backend.
func NewRouter(backend RouterBackend) (*Router, error) {
	if backend == nil {
		return nil, ErrMissingBackend
	}
	return &Router{backend: backend, tctxs: make(map[cpuKey]*TCTX)}, nil
}

// RegisterTCTX associates a thread context with the (vpBlock, vpIndex)
// identity it was reset with, so presenter matching can find it.
// There is deliberately no separate "CPU id" key: a thread context's
// identity for matching purposes is entirely the CAM line it carries.
func (r *Router) RegisterTCTX(vpBlock uint8, vpIndex uint32, tctx *TCTX) {
	r.tctxs[cpuKey{vpBlock, vpIndex}] = tctx
}

// Notify is the Fabric entry point a Source calls after a trigger or
// EOI decides a notification must be forwarded. Grounded on
// xive_router_notify.
func (r *Router) Notify(lisn uint32) {
	ive, err := r.backend.GetIVE(lisn)
	if err != nil {
		r.backend.WarnGuestError("unknown LISN %x", lisn)
		return
	}
	if !ive.Valid() {
		r.backend.WarnGuestError("invalid LISN %x", lisn)
		return
	}
	if ive.Masked() {
		return
	}
	r.eqNotify(ive.EQBlock(), ive.EQIndex(), ive.EQData())
}

// eqNotify implements xive_router_eq_notify: push the event into the
// EQ's ring buffer (if configured to), then either forward to the
// presenter unconditionally or after the EQ's own ESn coalescing.
func (r *Router) eqNotify(eqBlock uint8, eqIndex uint32, eqData uint32) {
	eq, err := r.backend.GetEQ(eqBlock, eqIndex)
	if err != nil {
		r.backend.WarnGuestError("no EQ %x/%x", eqBlock, eqIndex)
		return
	}
	if !eq.Valid() {
		r.backend.WarnGuestError("EQ %x/%x is invalid", eqBlock, eqIndex)
		return
	}

	if eq.Enqueue() {
		warnf := func(format string, args ...interface{}) {
			r.backend.WarnGuestError("EQ %x/%x: "+format, append([]interface{}{eqBlock, eqIndex}, args...)...)
		}
		pushEQ(eq, eqData, r.writer, warnf)
		r.backend.SetEQ(eqBlock, eqIndex, eq)
	}

	format := eq.Format()
	priority := eq.Priority()

	if format == 0 && priority == 0xff {
		return
	}

	if !eq.UncondNotify() {
		pq := eq.ESn()
		notify := esbTrigger(&pq)
		if pq != eq.ESn() {
			eq.SetESn(pq)
			r.backend.SetEQ(eqBlock, eqIndex, eq)
		}
		if !notify {
			return
		}
	}

	r.presenterNotify(format, eq.NVTBlock(), eq.NVTIndex(), eq.Ignore(), priority, eq.LogServerID())
}

// SetMemoryWriter installs the guest-memory collaborator pushEQ uses
// to deliver EQ payloads. Left unset, EQ pushes still advance the
// index/generation bookkeeping but perform no guest-memory write —
// useful for tests and configurations with no attached guest memory.
func (r *Router) SetMemoryWriter(w MemoryWriterFunc) { r.writer = w }

// MemoryWriterFunc abstracts "write a 32-bit word to guest memory at
// addr", matching platform.MemoryWriter but expressed as a func value
// so Router does not need to import platform for a one-method need.
type MemoryWriterFunc func(addr uint64, word uint32) error

// pushEQ writes one event word into eq's ring buffer via writer and
// advances its index/generation bookkeeping. warnf, if non-nil, is
// called instead of retrying or advancing the index when the DMA write
// fails — Router.eqNotify supplies one bound to its backend; tests that
// have no backend to warn through may pass nil. Grounded on
// xive_eq_push's dma_memory_write error handling.
func pushEQ(eq *EQ, data uint32, writer MemoryWriterFunc, warnf func(format string, args ...interface{})) {
	qindex := eq.QIndex()
	qgen := eq.Generation()
	qaddr := eq.QAddr() + uint64(qindex)*4
	qdata := qgen<<31 | (data & 0x7FFFFFFF)

	if writer != nil {
		if err := writer(qaddr, qdata); err != nil {
			if warnf != nil {
				warnf("DMA write to %#x failed: %v", qaddr, err)
			}
			return
		}
	}

	entries := eq.Entries()
	qindex = (qindex + 1) % entries
	if qindex == 0 {
		eq.flipGeneration()
	}
	eq.setQIndex(qindex)
}
