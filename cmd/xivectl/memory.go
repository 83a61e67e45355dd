package main

import (
	"fmt"
	"sync"

	"github.com/daxtens/xivevm/platform"
	"github.com/sirupsen/logrus"
)

// mmioRegion is one device's claim on the guest physical address
// space, as recorded by mmioBus.RegisterMMIO.
type mmioRegion struct {
	name   string
	region platform.Region
	ops    platform.IoOperations
}

// mmioBus is a minimal address-routed MMIO fabric implementing
// platform.MMIORegistrar: RegisterMMIO records a claimed region, and
// Read/Write find the region owning an address and forward the access
// with an offset relative to that region's base, standing in for the
// address decode a real machine model's bus performs before handing
// an access to a device's IoHandlers.
type mmioBus struct {
	mu      sync.Mutex
	regions []mmioRegion
}

func newMMIOBus() *mmioBus { return &mmioBus{} }

func (b *mmioBus) RegisterMMIO(name string, region platform.Region, ops platform.IoOperations) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.regions {
		if r.region.Contains(region.Start, 1) || region.Contains(r.region.Start, 1) {
			return fmt.Errorf("mmio: %s at %#x overlaps %s at %#x", name, uint64(region.Start), r.name, uint64(r.region.Start))
		}
	}
	b.regions = append(b.regions, mmioRegion{name: name, region: region, ops: ops})
	return nil
}

func (b *mmioBus) find(addr platform.Paddr, size uint) (mmioRegion, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.regions {
		if r.region.Contains(addr, uint64(size)) {
			return r, true
		}
	}
	return mmioRegion{}, false
}

// Read and Write route a single MMIO access to whichever registered region
// claims addr, translating addr into an offset relative to that
// region's base the way a real bus would before calling the device.
func (b *mmioBus) Read(addr platform.Paddr, size uint) (uint64, error) {
	r, ok := b.find(addr, size)
	if !ok {
		return 0, fmt.Errorf("mmio: no region registered for %#x", uint64(addr))
	}
	return r.ops.Read(addr.OffsetFrom(r.region.Start), size)
}

func (b *mmioBus) Write(addr platform.Paddr, size uint, value uint64) error {
	r, ok := b.find(addr, size)
	if !ok {
		return fmt.Errorf("mmio: no region registered for %#x", uint64(addr))
	}
	return r.ops.Write(addr.OffsetFrom(r.region.Start), size, value)
}

// staticCPUCount implements platform.CPUEnumerator over a fixed count
// decoded from a deck's nr_cpus field.
type staticCPUCount int

func (n staticCPUCount) NumCPUs() int { return int(n) }

// guestMemory is a tiny sparse in-memory stand-in for guest physical
// memory, just large enough for xivectl to demonstrate EQ pushes
// without an actual VM behind it.
type guestMemory struct {
	mu    sync.Mutex
	words map[platform.Paddr]uint32
}

func newGuestMemory() *guestMemory {
	return &guestMemory{words: make(map[platform.Paddr]uint32)}
}

func (m *guestMemory) WriteWord(addr platform.Paddr, word uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words[addr] = word
	return nil
}

func (m *guestMemory) Dump() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := ""
	for addr, word := range m.words {
		out += fmt.Sprintf("  %#016x: %#08x\n", uint64(addr), word)
	}
	return out
}

// logIRQLine is a demonstration IRQLine that just logs edges, standing
// in for the interrupt pin of a real CPU model.
type logIRQLine struct {
	cpu int
}

func (l logIRQLine) Raise() {
	logrus.WithField("cpu", l.cpu).Info("interrupt line raised")
}

func (l logIRQLine) Lower() {
	logrus.WithField("cpu", l.cpu).Info("interrupt line lowered")
}
