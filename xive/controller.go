package xive

import (
	"fmt"
	"sync"

	"github.com/daxtens/xivevm/platform"
	"github.com/daxtens/xivevm/xive/xivelog"
)

// timaStride is the byte span of one CPU's TIMA mapping: four 4K page
// mirrors (HW/HV/OS/user), consecutively addressed.
const timaStride = 4 * (uint64(1) << timaPageShift)

// Controller aggregates a Source, Router and per-CPU TCTXs behind a
// single mutex, matching the single-global-device-lock execution
// model every MMIO callback and IRQ line observes in a full-system
// emulator: no two operations below ever interleave.
type Controller struct {
	mu sync.Mutex

	source   *Source
	eqSource *EQSource
	router   *Router
	backend  RouterBackend
	log      *xivelog.GuestErrorLogger

	blockID uint8
	tctxs   []*TCTX
}

// Config collects the construction-time parameters for a Controller,
// mirroring the device properties xive_source/_router/_eq_source
// realize from: nr_irqs, ESB/EQ shifts, flags, block/chip id, and the
// number of hardware threads to model.
type Config struct {
	NrIRQs      uint32
	ESBShift    uint
	SourceFlags uint64

	NrEQs      uint32
	EQESBShift uint

	BlockID uint8
	NrCPUs  int

	// CPUs, if set, overrides NrCPUs: the controller asks it how many
	// hardware threads exist rather than trusting the static count.
	// Once created, TCTXs register with the router directly; CPUs is
	// consulted only at construction time.
	CPUs platform.CPUEnumerator

	// Registrar, if set, claims the ESB, EQ ESB and per-CPU TIMA MMIO
	// regions at construction time, at the base addresses below — the
	// way a machine model's Reserve call maps a device's IoHandlers
	// into the guest physical address space. Left nil, a Controller is
	// still fully usable through HandleESB/HandleEQSource/HandleTIMA;
	// Registrar only saves the embedder from calling those and mapping
	// them in by hand.
	Registrar    platform.MMIORegistrar
	ESBBase      platform.Paddr
	EQSourceBase platform.Paddr
	TIMABase     platform.Paddr

	Log *xivelog.GuestErrorLogger
}

// NewController wires a full XIVE instance per Config, creating a
// MapBackend for IVE/EQ/VP storage and one TCTX per CPU with its
// output line supplied by irqLines[cpu].
func NewController(cfg Config, irqLines []platform.IRQLine) (*Controller, error) {
	backend := NewMapBackend(cfg.Log)

	router, err := NewRouter(backend)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		router:  router,
		backend: backend,
		log:     cfg.Log,
		blockID: cfg.BlockID,
	}

	source, err := NewSource(cfg.NrIRQs, cfg.ESBShift, cfg.SourceFlags, c, cfg.Log)
	if err != nil {
		return nil, err
	}
	c.source = source

	eqSource, err := NewEQSource(cfg.NrEQs, cfg.EQESBShift, cfg.BlockID, backend)
	if err != nil {
		return nil, err
	}
	c.eqSource = eqSource

	nrCPUs := cfg.NrCPUs
	if cfg.CPUs != nil {
		nrCPUs = cfg.CPUs.NumCPUs()
	}

	c.tctxs = make([]*TCTX, nrCPUs)
	for i := 0; i < nrCPUs; i++ {
		var line IRQLine
		if i < len(irqLines) && irqLines[i] != nil {
			line = platformIRQLine{irqLines[i]}
		}
		tctx := NewTCTX(line)
		tctx.Reset(cfg.BlockID, uint32(i), false)
		c.tctxs[i] = tctx
		router.RegisterTCTX(cfg.BlockID, uint32(i), tctx)
	}

	if cfg.Registrar != nil {
		if err := cfg.Registrar.RegisterMMIO("xive-esb", source.Region(cfg.ESBBase), lockedOps{c, source}); err != nil {
			return nil, fmt.Errorf("registering ESB MMIO region: %w", err)
		}
		if err := cfg.Registrar.RegisterMMIO("xive-eq-esb", eqSource.Region(cfg.EQSourceBase), lockedOps{c, eqSource}); err != nil {
			return nil, fmt.Errorf("registering EQ ESB MMIO region: %w", err)
		}
		for i, tctx := range c.tctxs {
			base := cfg.TIMABase.After(uint64(i) * timaStride)
			region := platform.Region{Start: base, Size: timaStride}
			name := fmt.Sprintf("xive-tima-cpu%d", i)
			if err := cfg.Registrar.RegisterMMIO(name, region, lockedOps{c, NewTIMAHandler(tctx, cfg.Log)}); err != nil {
				return nil, fmt.Errorf("registering TIMA MMIO region for cpu %d: %w", i, err)
			}
		}
	}

	return c, nil
}

// platformIRQLine adapts platform.IRQLine to the xive package's own
// IRQLine interface so xive need not import platform in tctx.go.
type platformIRQLine struct{ line platform.IRQLine }

func (p platformIRQLine) Raise() { p.line.Raise() }
func (p platformIRQLine) Lower() { p.line.Lower() }

// IRQLine is the minimal interrupt-line collaborator a TCTX raises
// and lowers. Declared in the xive package (rather than imported from
// platform) because TCTX is domain state and should not carry a
// platform import merely to call two methods.
type IRQLine interface {
	Raise()
	Lower()
}

// Notify implements Fabric for Source, routing straight into the
// Router while already holding the controller lock (Source calls
// this synchronously from within Trigger/HandleESB).
func (c *Controller) Notify(srcno uint32) { c.router.Notify(srcno) }

// SetMemoryWriter installs the guest-memory collaborator used when
// pushing EQ entries.
func (c *Controller) SetMemoryWriter(w platform.MemoryWriter) {
	if w == nil {
		c.router.SetMemoryWriter(nil)
		return
	}
	c.router.SetMemoryWriter(func(addr uint64, word uint32) error {
		return w.WriteWord(platform.Paddr(addr), word)
	})
}

// Trigger drives srcno's external line, the entry point for IPIs and
// device-wired interrupts (as opposed to guest MMIO pokes).
func (c *Controller) Trigger(srcno uint32, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source.SetIRQ(srcno, level)
}

// SetLSI marks srcno level-sensitive ahead of first use.
func (c *Controller) SetLSI(srcno uint32, lsi bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source.SetLSI(srcno, lsi)
}

// ConfigureIVE installs an IVE for lisn.
func (c *Controller) ConfigureIVE(lisn uint32, ive IVE) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.SetIVE(lisn, ive)
}

// ConfigureEQ installs an EQ at (blockID, eqIndex).
func (c *Controller) ConfigureEQ(eqIndex uint32, eq *EQ) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.SetEQ(c.blockID, eqIndex, eq)
}

// ConfigureVP installs a VP at (blockID, vpIndex).
func (c *Controller) ConfigureVP(vpIndex uint32, vp *VP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.SetVP(c.blockID, vpIndex, vp)
}

// TCTX returns the thread context for cpu, for TIMA handler wiring.
func (c *Controller) TCTX(cpu int) *TCTX { return c.tctxs[cpu] }

// HandleESB returns the platform.IoOperations implementing the ESB
// MMIO surface, guarded by the controller lock.
func (c *Controller) HandleESB() platform.IoOperations { return lockedOps{c, c.source} }

// HandleEQSource returns the platform.IoOperations implementing the
// EQ ESB MMIO surface, guarded by the controller lock.
func (c *Controller) HandleEQSource() platform.IoOperations { return lockedOps{c, c.eqSource} }

// HandleTIMA returns the platform.IoOperations implementing the TIMA
// MMIO surface for one CPU's thread context, guarded by the
// controller lock.
func (c *Controller) HandleTIMA(cpu int) platform.IoOperations {
	return lockedOps{c, NewTIMAHandler(c.tctxs[cpu], c.log)}
}

// lockedOps wraps an inner platform.IoOperations with the controller
// mutex: a single global device lock, so every MMIO callback executes
// while holding the same lock as every IRQ set and reset handler.
type lockedOps struct {
	c     *Controller
	inner platform.IoOperations
}

func (l lockedOps) Read(offset uint64, size uint) (uint64, error) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.inner.Read(offset, size)
}

func (l lockedOps) Write(offset uint64, size uint, value uint64) error {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.inner.Write(offset, size, value)
}

// Reset restores every owned component to its power-on state, as a
// guest reset handler would. Grounded on xive_source_reset /
// xive_tctx_reset.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.source.Reset()
	for i, tctx := range c.tctxs {
		tctx.Reset(c.blockID, uint32(i), false)
	}
}
