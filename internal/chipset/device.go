package chipset

// MmioHandler handles reads and writes to memory-mapped regions. data is
// little endian and its length is the access width.
type MmioHandler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// MmioRegion is a contiguous range of the physical address space.
type MmioRegion struct {
	Address uint64
	Size    uint64
}

// MmioIntercept describes the MMIO regions a device serves and the handler for them.
type MmioIntercept struct {
	Regions []MmioRegion
	Handler MmioHandler
}

// InterruptSink receives interrupt assertions for a given line.
type InterruptSink interface {
	SetIRQ(line uint8, level bool)
}

// CPUSink receives the IRQ and FIQ outputs of an interrupt controller.
type CPUSink interface {
	SetIRQ(level bool)
	SetFIQ(level bool)
}

// LineInterrupt models an interrupt line that supports level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

type noopLineInterrupt struct{}

func (noopLineInterrupt) SetLevel(bool)   {}
func (noopLineInterrupt) PulseInterrupt() {}

// LineInterruptDetached returns a LineInterrupt that drops all signals.
func LineInterruptDetached() LineInterrupt {
	return noopLineInterrupt{}
}

// ChipsetDevice is the interface all chipset devices implement.
type ChipsetDevice interface {
	Reset() error
	SupportsMmio() *MmioIntercept
}
