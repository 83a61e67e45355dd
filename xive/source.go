package xive

import (
	"github.com/daxtens/xivevm/platform"
	"github.com/daxtens/xivevm/xive/xivelog"
)

// ESB shift settings a Source may be configured with: single 4K or
// 64K page per IRQ, or a two-page trigger/management split at either
// granularity. Grounded on XIVE_ESB_4K / XIVE_ESB_4K_2PAGE /
// XIVE_ESB_64K / XIVE_ESB_64K_2PAGE.
const (
	ESBShift4K        = 12
	ESBShift4K2Page   = 13
	ESBShift64K       = 16
	ESBShift64K2Page  = 17
)

// Source flags.
const (
	SourceStoreEOI = uint64(1) << 0
)

const statusAsserted = byte(1) << 2 // bit above the two PQ bits

// ESB management-page byte offsets, replicated every 0x100 bytes
// across a 4K (or 64K) region. Grounded on XIVE_ESB_* in xive_regs.h.
const (
	esbLoadEOI  = 0x000
	esbGet      = 0x800
	esbSetPQ00  = 0xC00
	esbSetPQ01  = 0xD00
	esbSetPQ10  = 0xE00
	esbSetPQ11  = 0xF00
	esbStoreEOI = 0x400
)

// Source is the ESB event-source block (IVSE): one P/Q status byte
// per IRQ, plus an LSI/MSI classification bitmap. Grounded on
// xive_source_esb_read/write/set_irq.
type Source struct {
	nrIRQs   uint32
	esbShift uint
	flags    uint64

	status []byte
	lsi    []bool

	fabric Fabric
	log    *xivelog.GuestErrorLogger
}

// Fabric is the collaborator a Source forwards trigger/EOI
// notifications to: the Router, in the assembled Controller.
// Grounded on XiveFabricClass.notify.
type Fabric interface {
	Notify(srcno uint32)
}

// NewSource validates its configuration the way xive_source_realize
// does and returns a Source primed to OFF (PQ=01).
func NewSource(nrIRQs uint32, esbShift uint, flags uint64, fabric Fabric, log *xivelog.GuestErrorLogger) (*Source, error) {
	if nrIRQs == 0 {
		return nil, ErrNoIRQs
	}
	switch esbShift {
	case ESBShift4K, ESBShift4K2Page, ESBShift64K, ESBShift64K2Page:
	default:
		return nil, ErrBadESBShift
	}
	if fabric == nil {
		return nil, ErrMissingFabric
	}

	s := &Source{
		nrIRQs:   nrIRQs,
		esbShift: esbShift,
		flags:    flags,
		status:   make([]byte, nrIRQs),
		lsi:      make([]bool, nrIRQs),
		fabric:   fabric,
		log:      log,
	}
	s.Reset()
	return s, nil
}

// Reset primes every IRQ's PQ to OFF without touching the LSI bitmap,
// matching xive_source_reset's comment that LSI classification is a
// wiring fact, not transient state.
func (s *Source) Reset() {
	for i := range s.status {
		s.status[i] = ESBOff
	}
}

// SetLSI marks srcno as level-sensitive (true) or edge/MSI (false).
func (s *Source) SetLSI(srcno uint32, lsi bool) { s.lsi[srcno] = lsi }

func (s *Source) isLSI(srcno uint32) bool { return s.lsi[srcno] }

func (s *Source) hasTwoPages() bool {
	return s.esbShift == ESBShift4K2Page || s.esbShift == ESBShift64K2Page
}

func addrIsEven(addr uint64, shift uint) bool {
	return (addr>>shift)&1 == 0
}

func (s *Source) isTriggerPage(addr uint64) bool {
	return s.hasTwoPages() && addrIsEven(addr, s.esbShift-1)
}

// ESBGet returns srcno's current PQ state.
func (s *Source) ESBGet(srcno uint32) byte { return s.status[srcno] & esbPQMask }

// esbSetPQ overwrites srcno's PQ and returns the previous value.
func (s *Source) esbSetPQ(srcno uint32, pq byte) byte { return esbSet(&s.status[srcno], pq) }

// lsiTrigger applies a level assertion edge: only RESET transitions to
// PENDING and forwards a notification. Grounded on xive_source_lsi_trigger.
func (s *Source) lsiTrigger(srcno uint32) bool {
	if s.ESBGet(srcno) == ESBReset {
		s.esbSetPQ(srcno, ESBPending)
		return true
	}
	return false
}

// esbTrigger applies a trigger edge to srcno's PQ, warning if an LSI
// IRQ coalesces into QUEUED (a level source should never need to
// queue a second event). Grounded on xive_source_esb_trigger.
func (s *Source) esbTrigger(srcno uint32) bool {
	notify := esbTrigger(&s.status[srcno])
	if s.isLSI(srcno) && s.ESBGet(srcno) == ESBQueued {
		s.warnf("queued an event on LSI IRQ %d", srcno)
	}
	return notify
}

// esbEOI applies an EOI to srcno's PQ. An asserted LSI line retriggers
// immediately after EOI instead of waiting for a fresh external edge.
// Grounded on xive_source_esb_eoi.
func (s *Source) esbEOI(srcno uint32) bool {
	notify := esbEOI(&s.status[srcno])
	if s.isLSI(srcno) && s.status[srcno]&statusAsserted != 0 {
		notify = s.lsiTrigger(srcno)
	}
	return notify
}

func (s *Source) notify(srcno uint32) {
	if s.fabric != nil {
		s.fabric.Notify(srcno)
	}
}

func (s *Source) warnf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Warnf(format, args...)
	}
}

// SetIRQ drives srcno's external line, the MMIO-free path used for
// IPIs and device-wired IRQs. level selects assert/deassert for LSI
// sources, or is a one-shot edge for MSI sources. Grounded on
// xive_source_set_irq.
func (s *Source) SetIRQ(srcno uint32, level bool) {
	var notify bool

	if s.isLSI(srcno) {
		if level {
			s.status[srcno] |= statusAsserted
			notify = s.lsiTrigger(srcno)
		} else {
			s.status[srcno] &^= statusAsserted
		}
	} else if level {
		notify = s.esbTrigger(srcno)
	}

	if notify {
		s.notify(srcno)
	}
}

// Read implements platform.IoOperations for the per-source ESB page
// range. offset is relative to the source's own region (srcno*pageSize).
func (s *Source) Read(offset uint64, size uint) (uint64, error) {
	if size != 8 {
		s.warnf("invalid ESB access size %d at %#x, only 8-byte accesses are valid", size, offset)
		return ^uint64(0), nil
	}

	srcno := uint32(offset >> s.esbShift)
	pageOff := offset & 0xFFF

	if s.isTriggerPage(offset) {
		s.warnf("invalid load on IRQ %d trigger page at %#x", srcno, offset)
		return ^uint64(0), nil
	}

	switch {
	case pageOff >= esbLoadEOI && pageOff < esbLoadEOI+0x800:
		ret := s.esbEOI(srcno)
		if ret {
			s.notify(srcno)
		}
		return boolToU64(ret), nil

	case pageOff >= esbGet && pageOff < esbGet+0x400:
		return uint64(s.ESBGet(srcno)), nil

	case pageOff >= esbSetPQ00 && pageOff < esbSetPQ00+0x100,
		pageOff >= esbSetPQ01 && pageOff < esbSetPQ01+0x100,
		pageOff >= esbSetPQ10 && pageOff < esbSetPQ10+0x100,
		pageOff >= esbSetPQ11 && pageOff < esbSetPQ11+0x100:
		return uint64(s.esbSetPQ(srcno, byte((pageOff>>8)&0x3))), nil

	default:
		s.warnf("invalid ESB load addr %#x", pageOff)
		return ^uint64(0), nil
	}
}

// Write implements platform.IoOperations for the per-source ESB page
// range.
func (s *Source) Write(offset uint64, size uint, value uint64) error {
	if size != 8 {
		s.warnf("invalid ESB access size %d at %#x, only 8-byte accesses are valid", size, offset)
		return nil
	}

	srcno := uint32(offset >> s.esbShift)
	pageOff := offset & 0xFFF
	var notify bool

	if s.isTriggerPage(offset) {
		notify = s.esbTrigger(srcno)
		if notify {
			s.notify(srcno)
		}
		return nil
	}

	switch {
	case pageOff < 0x400:
		notify = s.esbTrigger(srcno)

	case pageOff >= esbStoreEOI && pageOff < esbStoreEOI+0x400:
		if s.flags&SourceStoreEOI == 0 {
			s.warnf("invalid Store EOI for IRQ %d", srcno)
			return nil
		}
		notify = s.esbEOI(srcno)

	case pageOff >= esbSetPQ00 && pageOff < esbSetPQ00+0x100,
		pageOff >= esbSetPQ01 && pageOff < esbSetPQ01+0x100,
		pageOff >= esbSetPQ10 && pageOff < esbSetPQ10+0x100,
		pageOff >= esbSetPQ11 && pageOff < esbSetPQ11+0x100:
		s.esbSetPQ(srcno, byte((pageOff>>8)&0x3))
		return nil

	default:
		s.warnf("invalid ESB write addr %#x", pageOff)
		return nil
	}

	if notify {
		s.notify(srcno)
	}
	return nil
}

// Region returns the MMIO region this source's ESB pages occupy when
// mapped at base, sized per xive_source_realize.
func (s *Source) Region(base platform.Paddr) platform.Region {
	return platform.Region{Start: base, Size: (uint64(1) << s.esbShift) * uint64(s.nrIRQs)}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
