package xive

// tctxMatch records which registered thread context, and which ring
// within it, answered a presenter search.
type tctxMatch struct {
	tctx *TCTX
	ring Ring
}

// tctxRingMatch searches the rings of tctx in the privilege order the
// original presenter uses for a format-0 specific-VP notification:
// physical, then HV pool, then OS. Format-1 notifications search only
// the user ring. Grounded on xive_presenter_tctx_match.
func tctxRingMatch(tctx *TCTX, format uint8, vpBlock uint8, vpIndex uint32, logicalServer uint32) (Ring, bool) {
	if format == 0 {
		for _, r := range [...]Ring{RingHVPhys, RingHVPool, RingOS} {
			if tctx.RingMatch(r, vpBlock, vpIndex, 0) {
				return r, true
			}
		}
		return 0, false
	}
	if tctx.RingMatch(RingUser, vpBlock, vpIndex, logicalServer) {
		return RingUser, true
	}
	return 0, false
}

// presenterMatch walks every registered thread context looking for one
// dispatched with (vpBlock, vpIndex). More than one match is an
// internal inconsistency the router cannot resolve and is reported
// via WarnGuestError, matching the original's "already found a thread
// context" guest-error path (this controller treats it as a
// non-fatal event rather than silently picking one, since either
// choice could be the wrong one). Grounded on xive_presenter_match.
func (r *Router) presenterMatch(format uint8, vpBlock uint8, vpIndex uint32, camIgnore bool, logicalServer uint32) (tctxMatch, bool) {
	if format == 0 && camIgnore {
		r.backend.WarnGuestError("no support for logical-server notification VP %x/%x", vpBlock, vpIndex)
		return tctxMatch{}, false
	}

	var match tctxMatch
	found := false
	for _, tctx := range r.tctxs {
		ring, ok := tctxRingMatch(tctx, format, vpBlock, vpIndex, logicalServer)
		if !ok {
			continue
		}
		if found {
			r.backend.WarnGuestError("already found a thread context for VP %x/%x", vpBlock, vpIndex)
			return tctxMatch{}, false
		}
		match = tctxMatch{tctx: tctx, ring: ring}
		found = true
	}

	if !found {
		r.backend.WarnGuestError("VP %x/%x is not dispatched", vpBlock, vpIndex)
	}
	return match, found
}

// presenterNotify is the IVPE entry point an EQ push forwards to: find
// the VP's dispatched thread context and raise its exception, or —
// with no thread context currently dispatched — record the pending
// priority in the VP's own backlog IPB for later delivery. Grounded on
// xive_presenter_notify.
func (r *Router) presenterNotify(format uint8, vpBlock uint8, vpIndex uint32, camIgnore bool, priority uint8, logicalServer uint32) {
	vp, err := r.backend.GetVP(vpBlock, vpIndex)
	if err != nil {
		r.backend.WarnGuestError("no VP %x/%x", vpBlock, vpIndex)
		return
	}
	if !vp.Valid() {
		r.backend.WarnGuestError("VP %x/%x is invalid", vpBlock, vpIndex)
		return
	}

	if match, found := r.presenterMatch(format, vpBlock, vpIndex, camIgnore, logicalServer); found {
		match.tctx.RaiseBacklog(match.ring, priority)
		return
	}

	vp.RaiseBacklog(priority)
	r.backend.SetVP(vpBlock, vpIndex, vp)
}
