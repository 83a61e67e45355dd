package xive

import (
	"testing"

	"github.com/daxtens/xivevm/platform"
)

type controllerLine struct {
	raised, lowered int
}

func (l *controllerLine) Raise() { l.raised++ }
func (l *controllerLine) Lower() { l.lowered++ }

type controllerMemory struct {
	words map[platform.Paddr]uint32
}

func newControllerMemory() *controllerMemory {
	return &controllerMemory{words: make(map[platform.Paddr]uint32)}
}

func (m *controllerMemory) WriteWord(addr platform.Paddr, word uint32) error {
	m.words[addr] = word
	return nil
}

func newTestController(t *testing.T, nrCPUs int) (*Controller, []*controllerLine) {
	t.Helper()
	lines := make([]*controllerLine, nrCPUs)
	irqLines := make([]platform.IRQLine, nrCPUs)
	for i := range lines {
		lines[i] = &controllerLine{}
		irqLines[i] = lines[i]
	}

	c, err := NewController(Config{
		NrIRQs:     16,
		ESBShift:   ESBShift64K2Page,
		NrEQs:      8,
		EQESBShift: ESBShift64K,
		BlockID:    0,
		NrCPUs:     nrCPUs,
	}, irqLines)
	if err != nil {
		t.Fatal(err)
	}
	return c, lines
}

func configureEQForVP(c *Controller, eqIndex uint32, vpIndex uint32, priority uint8, enqueue bool) {
	eq := &EQ{}
	ResetEQDefaults(eq)
	eq.W0 |= uint32(1) << 31 // VALID
	eq.W0 |= uint32(1) << 29 // UCOND_NOTIFY
	if enqueue {
		eq.W0 |= uint32(1) << 30
		eq.SetQAddr(0x30000000)
	}
	eq.W6 = vpIndex
	eq.W7 = uint32(priority) << 24
	c.ConfigureEQ(eqIndex, eq)

	vp := &VP{}
	vp.SetValid(true)
	c.ConfigureVP(vpIndex, vp)
}

// TestControllerMSIDispatchedDelivery runs the whole path through the
// public Controller surface: a guest configures IVE 3 -> EQ 5 -> VP
// (cpu 0)'s identity, then an MSI trigger must raise cpu 0's line
// without going through the VP backlog.
func TestControllerMSIDispatchedDelivery(t *testing.T) {
	c, lines := newTestController(t, 2)
	mem := newControllerMemory()
	c.SetMemoryWriter(mem)

	c.ConfigureIVE(3, NewIVE(0, 5, 0x1234))
	configureEQForVP(c, 5, 0, 4, true)
	c.TCTX(0).ring(RingOS)[tmCPPR] = 0xFF
	c.source.esbSetPQ(3, ESBReset) // a freshly configured MSI line starts at RESET

	esb := c.HandleESB()
	if err := esb.Write(uint64(3)<<ESBShift64K2Page, 8, 0); err != nil {
		t.Fatal(err)
	}

	if lines[0].raised != 1 {
		t.Fatalf("cpu0 line.raised = %d, want 1", lines[0].raised)
	}
	if lines[1].raised != 0 {
		t.Errorf("cpu1 line.raised = %d, want 0", lines[1].raised)
	}
	if len(mem.words) != 1 {
		t.Fatalf("guest memory writes = %d, want 1", len(mem.words))
	}
}

// TestControllerBacklogWithNoDispatchedContext models a trigger
// arriving for a VP with no thread context currently dispatched: the
// priority must land in the VP's backlog IPB.
func TestControllerBacklogWithNoDispatchedContext(t *testing.T) {
	c, _ := newTestController(t, 1)
	c.ConfigureIVE(3, NewIVE(0, 5, 0))
	configureEQForVP(c, 5, 9, 2, false) // VP 9 has no registered TCTX
	c.source.esbSetPQ(3, ESBReset)

	esb := c.HandleESB()
	if err := esb.Write(uint64(3)<<ESBShift64K2Page, 8, 0); err != nil {
		t.Fatal(err)
	}

	vp, err := c.backend.GetVP(0, 9)
	if err != nil {
		t.Fatal(err)
	}
	if vp.IPB() != priorityToIPB(2) {
		t.Errorf("VP 9 backlog = %#x, want %#x", vp.IPB(), priorityToIPB(2))
	}
}

// TestControllerTIMACPPRGating exercises the CPPR-gated accept path
// through the real TIMA MMIO surface rather than calling TCTX methods
// directly.
func TestControllerTIMACPPRGating(t *testing.T) {
	c, lines := newTestController(t, 1)
	tima := c.HandleTIMA(0)

	os := c.TCTX(0).ring(RingOS)
	os[tmIPB] = 0x40
	os[tmPIPR] = ipbToPIPR(0x40)
	os[tmCPPR] = 0

	ackOffset := uint64(TIMAPageOS)<<timaPageShift | 0x800 | 0x00
	ret, err := tima.Read(ackOffset, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ret != 0 {
		t.Fatalf("first accept = %#x, want 0", ret)
	}

	cpprOffset := uint64(TIMAPageOS)<<timaPageShift | (uint64(RingOS) + tmCPPR)
	if err := tima.Write(cpprOffset, 1, 2); err != nil {
		t.Fatal(err)
	}
	if lines[0].raised != 1 {
		t.Fatalf("line.raised = %d, want 1 after raising CPPR above PIPR", lines[0].raised)
	}

	ret, err = tima.Read(ackOffset, 2)
	if err != nil {
		t.Fatal(err)
	}
	wantNSR := uint64(tmNSREO)
	if ret != wantNSR<<8|1 {
		t.Fatalf("second accept = %#x, want %#x", ret, wantNSR<<8|1)
	}
	if lines[0].lowered != 2 {
		t.Errorf("line.lowered = %d, want 2", lines[0].lowered)
	}
}

func TestControllerLSIReassertThroughESB(t *testing.T) {
	c, lines := newTestController(t, 1)
	c.ConfigureIVE(3, NewIVE(0, 5, 0))
	configureEQForVP(c, 5, 0, 1, false)
	c.TCTX(0).ring(RingOS)[tmCPPR] = 0xFF
	c.SetLSI(3, true)
	c.source.esbSetPQ(3, ESBReset) // a freshly wired LSI line starts deasserted

	c.Trigger(3, true)
	if lines[0].raised != 1 {
		t.Fatalf("line.raised after assert = %d, want 1", lines[0].raised)
	}

	// EOI while still asserted must re-notify instead of going quiet.
	// The EOI-on-load offset lives on IRQ 3's management half-page, not
	// its trigger half-page.
	mgmt := uint64(1) << (ESBShift64K2Page - 1)
	esb := c.HandleESB()
	if _, err := esb.Read(uint64(3)<<ESBShift64K2Page|mgmt, 8); err != nil {
		t.Fatal(err)
	}
	if lines[0].raised < 2 {
		t.Fatalf("line.raised after eoi-while-asserted = %d, want >= 2", lines[0].raised)
	}
}

func TestControllerResetClearsSourceAndTCTX(t *testing.T) {
	c, lines := newTestController(t, 1)
	c.ConfigureIVE(3, NewIVE(0, 5, 0))
	configureEQForVP(c, 5, 0, 1, false)
	c.TCTX(0).ring(RingOS)[tmCPPR] = 0xFF
	c.source.esbSetPQ(3, ESBReset)
	c.Trigger(3, true)
	if lines[0].raised == 0 {
		t.Fatal("setup trigger did not raise the line")
	}

	c.Reset()

	os := c.TCTX(0).ring(RingOS)
	if os[tmIPB] != 0 || os[tmPIPR] != 0xff {
		t.Errorf("TCTX not reset: IPB=%#x PIPR=%#x", os[tmIPB], os[tmPIPR])
	}
	mgmt := uint64(1) << (ESBShift64K2Page - 1)
	esb := c.HandleESB()
	ret, err := esb.Read(uint64(3)<<ESBShift64K2Page|mgmt|0x800, 8)
	if err != nil {
		t.Fatal(err)
	}
	if ret != uint64(ESBOff) {
		t.Errorf("source PQ after reset = %#x, want OFF", ret)
	}
}
