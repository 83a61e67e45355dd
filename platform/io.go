package platform

// IoOperations is the read/write contract an MMIO-backed device
// implements. It mirrors novmm/machine.IoOperations: one pair of
// methods regardless of whether the caller is a trigger page, a
// management page, or a raw register view — the device itself decides
// what an offset/size combination means.
type IoOperations interface {
	Read(offset uint64, size uint) (uint64, error)
	Write(offset uint64, size uint, value uint64) error
}

// MMIORegistrar is the facility an embedder exposes for a device to
// claim a slice of the guest physical address space. The XIVE core
// never maps memory itself; it only asks to be registered, the way
// novmm/machine.Model.Reserve is asked to reserve a region for a
// device's IoHandlers.
type MMIORegistrar interface {
	RegisterMMIO(name string, region Region, ops IoOperations) error
}

// MemoryWriter is the DMA write channel into guest memory. The Router
// uses it to push EQ entries; a real embedder backs it with a guest
// memory map (or a syscall-level write into a VM's address space), the
// way novmm/platform.Copy writes into a VM's mmap'd guest RAM.
type MemoryWriter interface {
	// WriteWord writes a single big-endian 32-bit word at addr. An
	// error indicates the guest physical address is not backed by
	// memory; callers must not retry or advance any index on error.
	WriteWord(addr Paddr, word uint32) error
}

// IRQLine is a CPU's output line into the host. Raising while already
// raised is idempotent, matching edge-style qemu_irq_raise/lower
// semantics.
type IRQLine interface {
	Raise()
	Lower()
}

// CPUEnumerator tells the controller how many hardware threads exist,
// so it knows how many per-CPU TCTXs to create at machine init. Once
// created, TCTXs are registered directly with the xive Router (a
// registry internal to the xive package, since a TCTX is an XIVE
// type, not a platform one) rather than being re-discovered through
// this interface on every notification.
type CPUEnumerator interface {
	NumCPUs() int
}
