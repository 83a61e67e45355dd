package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/daxtens/xivevm/platform"
	"github.com/daxtens/xivevm/xive"
	"github.com/daxtens/xivevm/xive/xivelog"
)

// buildController loads deckPath and constructs a Controller backed
// by a fresh in-memory guest-memory buffer and one logIRQLine per CPU.
// Its MMIO regions are claimed on an mmioBus, so the mmio command can
// reach them the way a real machine model's bus would: by address,
// not by asking the Controller for its handlers directly.
func buildController(deckPath string) (*xive.Controller, *guestMemory, *mmioBus, error) {
	cfg, err := LoadDeckConfig(deckPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log := xivelog.NewGuestErrorLogger(logrus.StandardLogger(), rate.Every(0))

	irqLines := make([]platform.IRQLine, cfg.NrCPUs)
	for i := range irqLines {
		irqLines[i] = logIRQLine{cpu: i}
	}

	esbShift := cfg.Source.ESBShift
	if esbShift == 0 {
		esbShift = xive.ESBShift64K2Page
	}

	flags := uint64(0)
	if cfg.Source.StoreEOI {
		flags |= xive.SourceStoreEOI
	}

	// Decks that don't care about address-routed MMIO can leave these
	// at zero; default them far enough apart that the ESB, EQ ESB and
	// per-CPU TIMA regions never collide on the bus.
	esbBase, eqBase, timaBase := cfg.MMIO.ESBBase, cfg.MMIO.EQSourceBase, cfg.MMIO.TIMABase
	if eqBase == 0 {
		eqBase = uint64(1) << 40
	}
	if timaBase == 0 {
		timaBase = uint64(2) << 40
	}

	bus := newMMIOBus()

	c, err := xive.NewController(xive.Config{
		NrIRQs:       cfg.Source.NrIRQs,
		ESBShift:     esbShift,
		SourceFlags:  flags,
		NrEQs:        uint32(len(cfg.EQs)),
		EQESBShift:   xive.ESBShift64K,
		BlockID:      cfg.BlockID,
		NrCPUs:       cfg.NrCPUs,
		CPUs:         staticCPUCount(cfg.NrCPUs),
		Registrar:    bus,
		ESBBase:      platform.Paddr(esbBase),
		EQSourceBase: platform.Paddr(eqBase),
		TIMABase:     platform.Paddr(timaBase),
		Log:          log,
	}, irqLines)
	if err != nil {
		return nil, nil, nil, err
	}

	mem := newGuestMemory()
	c.SetMemoryWriter(mem)

	for _, lisn := range cfg.Source.LSI {
		c.SetLSI(lisn, true)
	}

	cfg.Apply(c)
	return c, mem, bus, nil
}

// dumpCommand loads a deck and reports the guest-memory words written
// while loading it. Loading triggers no source and each run starts
// from fresh guest memory, so nothing written by an earlier trigger
// run is shown.
type dumpCommand struct {
	deck string
}

func (*dumpCommand) Name() string     { return "dump" }
func (*dumpCommand) Synopsis() string { return "load a deck and print its guest-memory contents" }
func (*dumpCommand) Usage() string    { return "dump -deck <path>\n" }
func (c *dumpCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.deck, "deck", "", "path to a JSON deck file")
}

func (c *dumpCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.deck == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	_, mem, _, err := buildController(c.deck)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Print(mem.Dump())
	return subcommands.ExitSuccess
}

// triggerCommand loads a deck, fires an IRQ trigger at the requested
// source number, and reports the resulting guest-memory writes.
type triggerCommand struct {
	deck  string
	srcno uint
}

func (*triggerCommand) Name() string    { return "trigger" }
func (*triggerCommand) Synopsis() string { return "load a deck and trigger one source" }
func (*triggerCommand) Usage() string    { return "trigger -deck <path> -srcno <n>\n" }
func (c *triggerCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.deck, "deck", "", "path to a JSON deck file")
	f.UintVar(&c.srcno, "srcno", 0, "source number to trigger")
}

func (c *triggerCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.deck == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	controller, mem, _, err := buildController(c.deck)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	controller.Trigger(uint32(c.srcno), true)
	fmt.Print(mem.Dump())
	return subcommands.ExitSuccess
}

// mmioCommand loads a deck and performs one address-routed MMIO
// access against it, going through the same mmioBus the deck's
// devices were registered on rather than reaching for a Controller
// handler directly — exercising the ESB/EQ-ESB/TIMA base addresses a
// deck configures.
type mmioCommand struct {
	deck  string
	addr  uint64
	size  uint
	write bool
	value uint64
}

func (*mmioCommand) Name() string     { return "mmio" }
func (*mmioCommand) Synopsis() string { return "load a deck and perform one address-routed MMIO access" }
func (*mmioCommand) Usage() string {
	return "mmio -deck <path> -addr <paddr> [-size <n>] [-write -value <n>]\n"
}
func (c *mmioCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.deck, "deck", "", "path to a JSON deck file")
	f.Uint64Var(&c.addr, "addr", 0, "guest physical address to access")
	f.UintVar(&c.size, "size", 8, "access size in bytes")
	f.BoolVar(&c.write, "write", false, "perform a store instead of a load")
	f.Uint64Var(&c.value, "value", 0, "value to store, when -write is set")
}

func (c *mmioCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.deck == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	_, _, bus, err := buildController(c.deck)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	addr := platform.Paddr(c.addr)
	if c.write {
		if err := bus.Write(addr, c.size, c.value); err != nil {
			fmt.Fprintln(f.Output(), err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	ret, err := bus.Read(addr, c.size)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%#x\n", ret)
	return subcommands.ExitSuccess
}
