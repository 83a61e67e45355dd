package xive

import "testing"

func TestTctxRingMatchFormat0PrivilegeOrder(t *testing.T) {
	tctx := NewTCTX(nil)
	tctx.Reset(0, 9, true) // hv=true: no OS context pushed yet
	tctx.setWord2(RingHVPool, qw2W2VP|camLine(0, 9))

	ring, ok := tctxRingMatch(tctx, 0, 0, 9, 0)
	if !ok || ring != RingHVPool {
		t.Fatalf("tctxRingMatch = (%v, %v), want (RingHVPool, true)", ring, ok)
	}

	// HV-physical outranks HV-pool when both are dispatched.
	tctx.setWord2(RingHVPhys, qw3W2VT|camLine(0, 9))
	ring, ok = tctxRingMatch(tctx, 0, 0, 9, 0)
	if !ok || ring != RingHVPhys {
		t.Fatalf("tctxRingMatch with phys+pool = (%v, %v), want (RingHVPhys, true)", ring, ok)
	}
}

func TestTctxRingMatchFormat1UsesUserRing(t *testing.T) {
	tctx := NewTCTX(nil)
	tctx.Reset(0, 9, false) // pushes OS context for 0/9

	// Format 1 only matches via the user ring, never plain OS.
	if ring, ok := tctxRingMatch(tctx, 1, 0, 9, 0); ok {
		t.Fatalf("format-1 match on bare OS context = (%v, true), want no match", ring)
	}

	tctx.setWord2(RingUser, qw0W2VU|42)
	ring, ok := tctxRingMatch(tctx, 1, 0, 9, 42)
	if !ok || ring != RingUser {
		t.Fatalf("tctxRingMatch(format=1) = (%v, %v), want (RingUser, true)", ring, ok)
	}
	if _, ok := tctxRingMatch(tctx, 1, 0, 9, 43); ok {
		t.Fatal("format-1 match succeeded with wrong logical server id")
	}
}

func TestPresenterMatchRejectsFormat0CamIgnore(t *testing.T) {
	router, _ := newTestRouter(t)
	tctx := NewTCTX(nil)
	tctx.Reset(0, 9, false)
	router.RegisterTCTX(0, 9, tctx)

	_, found := router.presenterMatch(0, 0, 9, true /* camIgnore */, 0)
	if found {
		t.Fatal("presenterMatch honored cam_ignore on format 0")
	}
}

func TestPresenterMatchNoDispatchedContext(t *testing.T) {
	router, _ := newTestRouter(t)
	_, found := router.presenterMatch(0, 0, 9, false, 0)
	if found {
		t.Fatal("presenterMatch found a context for an undispatched VP")
	}
}

func TestPresenterMatchSingleFormat0Match(t *testing.T) {
	router, _ := newTestRouter(t)
	tctx := NewTCTX(nil)
	tctx.Reset(0, 9, false)
	router.RegisterTCTX(0, 9, tctx)

	match, found := router.presenterMatch(0, 0, 9, false, 0)
	if !found {
		t.Fatal("presenterMatch did not find the dispatched OS context")
	}
	if match.tctx != tctx || match.ring != RingOS {
		t.Errorf("match = %+v, want tctx=%p ring=RingOS", match, tctx)
	}
}

func TestPresenterNotifyRaisesDispatchedBeforeBacklog(t *testing.T) {
	router, backend := newTestRouter(t)
	vp := &VP{}
	vp.SetValid(true)
	backend.SetVP(0, 9, vp)

	line := &fakeLine{}
	tctx := NewTCTX(line)
	tctx.Reset(0, 9, false)
	tctx.ring(RingOS)[tmCPPR] = 0xFF
	router.RegisterTCTX(0, 9, tctx)

	router.presenterNotify(0, 0, 9, false, 2, 0)

	if line.raised != 1 {
		t.Errorf("line.raised = %d, want 1", line.raised)
	}
	vp, _ = backend.GetVP(0, 9)
	if vp.IPB() != 0 {
		t.Errorf("VP backlog IPB = %#x, want 0 (delivered directly, not backlogged)", vp.IPB())
	}
}
