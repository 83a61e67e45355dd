package xive

import "testing"

func TestTimaMaskPerByteOSView(t *testing.T) {
	offset := uint64(TIMAPageOS)<<timaPageShift | 16 // NSR..LSMFB of the OS ring

	readMask := timaMask(offset, 4, false)
	if readMask != 0xFFFFFFFF {
		t.Errorf("OS ring read mask = %#x, want all bytes readable", readMask)
	}

	writeMask := timaMask(offset, 4, true)
	if writeMask != 0x00FF0000 {
		t.Errorf("OS ring write mask = %#x, want only the CPPR byte writable", writeMask)
	}
}

func TestTIMAHandlerRawWriteRespectsPerByteMask(t *testing.T) {
	h := NewTIMAHandler(NewTCTX(nil), nil)
	offset := uint64(TIMAPageOS)<<timaPageShift | 16

	if err := h.Write(offset, 4, 0xAABBCCDD); err != nil {
		t.Fatal(err)
	}

	os := h.tctx.ring(RingOS)
	if os[tmNSR] != 0 {
		t.Errorf("NSR after masked write = %#x, want untouched (0)", os[tmNSR])
	}
	if os[tmCPPR] != 0xBB {
		t.Errorf("CPPR after masked write = %#x, want 0xBB", os[tmCPPR])
	}
	if os[tmIPB] != 0 {
		t.Errorf("IPB after masked write = %#x, want untouched (0)", os[tmIPB])
	}
}

func TestTIMAHandlerRawReadTooSmallReturnsAllOnes(t *testing.T) {
	h := NewTIMAHandler(NewTCTX(nil), nil)
	offset := uint64(TIMAPageOS)<<timaPageShift | 16

	ret, err := h.Read(offset, 1) // raw accesses below 4 bytes are never valid
	if err != nil {
		t.Fatal(err)
	}
	if ret != ^uint64(0) {
		t.Errorf("1-byte raw read = %#x, want all-ones", ret)
	}
}

func TestTIMAHandlerSetOSCPPR(t *testing.T) {
	h := NewTIMAHandler(NewTCTX(nil), nil)
	offset := uint64(TIMAPageOS)<<timaPageShift | (uint64(RingOS) + tmCPPR)

	if err := h.Write(offset, 1, 3); err != nil {
		t.Fatal(err)
	}
	if got := h.tctx.CPPR(RingOS); got != 3 {
		t.Errorf("CPPR = %d, want 3", got)
	}
}

func TestTIMAHandlerAckOSRegAndSetOSPending(t *testing.T) {
	line := &fakeLine{}
	h := NewTIMAHandler(NewTCTX(line), nil)
	h.tctx.ring(RingOS)[tmCPPR] = 0xFF

	pendOffset := uint64(TIMAPageOS)<<timaPageShift | 0x800 | 0x04
	if err := h.Write(pendOffset, 1, 4); err != nil { // raise priority 4
		t.Fatal(err)
	}
	if line.raised != 1 {
		t.Fatalf("line.raised = %d, want 1 after SET_OS_PENDING", line.raised)
	}

	ackOffset := uint64(TIMAPageOS)<<timaPageShift | 0x800 | 0x00
	ret, err := h.Read(ackOffset, 2)
	if err != nil {
		t.Fatal(err)
	}
	wantNSR := uint64(tmNSREO)
	if ret != wantNSR<<8|4 {
		t.Errorf("ACK_OS_REG = %#x, want %#x", ret, wantNSR<<8|4)
	}
	if line.lowered != 1 {
		t.Errorf("line.lowered = %d, want 1", line.lowered)
	}
}

func TestFindTimaOpAllowsMorePrivilegedPageAccess(t *testing.T) {
	cppOffset := uint64(RingOS) + tmCPPR
	if op := findTimaOp(uint64(TIMAPageHW)<<timaPageShift|cppOffset, 1, true); op == nil {
		t.Fatal("SET_OS_CPPR not reachable from the HW page")
	}
	if op := findTimaOp(uint64(TIMAPageUser)<<timaPageShift|cppOffset, 1, true); op != nil {
		t.Fatal("SET_OS_CPPR reachable from the (less privileged) user page")
	}
}

func TestTIMAHandlerUserPageCannotReachOSCPPR(t *testing.T) {
	h := NewTIMAHandler(NewTCTX(nil), nil)
	offset := uint64(TIMAPageUser)<<timaPageShift | (uint64(RingOS) + tmCPPR)

	if err := h.Write(offset, 1, 7); err != nil {
		t.Fatal(err)
	}
	if got := h.tctx.CPPR(RingOS); got != 0 {
		t.Errorf("CPPR after user-page write attempt = %d, want 0 (untouched)", got)
	}
}
