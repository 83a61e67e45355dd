package xive

// VP is a Virtual Processor descriptor: just enough state to hold a
// pending-interrupt backlog when no thread context currently matches
// the VP's (block, index). Grounded on the xive_vp w0/w4 usage in
// xive_router_get_vp/xive_presenter_notify's no-match path.
type VP struct {
	W0 uint32
	W4 uint32
}

const vpW0Valid = uint32(1) << 31

func (vp *VP) Valid() bool { return vp.W0&vpW0Valid != 0 }

func (vp *VP) SetValid(v bool) {
	if v {
		vp.W0 |= vpW0Valid
	} else {
		vp.W0 &^= vpW0Valid
	}
}

// IPB returns the backlog Interrupt Pending Buffer: one bit per
// priority, set when a priority's interrupt found no matching thread
// context and had to be remembered on the VP itself.
func (vp *VP) IPB() uint8 { return uint8(vp.W4) }

func (vp *VP) SetIPB(ipb uint8) { vp.W4 = uint32(ipb) }

// RaiseBacklog ORs priority's bit into the VP's backlog IPB.
func (vp *VP) RaiseBacklog(priority uint8) {
	vp.W4 |= uint32(priorityToIPB(priority))
}
