// Package irq implements priority-masking interrupt dispatch for the
// cascaded MIC/SIC interrupt controllers of the LPC32xx family.
package irq

// Vector is a global interrupt vector number. It addresses exactly one
// source across all cascaded controller modules.
type Vector uint32

// Module vector bases. Each module owns 32 consecutive vectors.
const (
	ModuleMIC  Vector = 0
	ModuleSIC1 Vector = 32
	ModuleSIC2 Vector = 64
)

const (
	ModuleCount = 3
	VectorCount = ModuleCount * 32
)

// Priority levels. Zero is the highest priority.
const (
	PriorityHighest = 0
	PriorityLowest  = 15
	PriorityCount   = PriorityLowest + 1
)

// split decomposes a vector into its module index and bit position.
func split(v Vector) (module, bit uint32) {
	return uint32(v) >> 5, uint32(v) & 0x1f
}

// Module returns the index of the controller module owning v.
func (v Vector) Module() int {
	module, _ := split(v)
	return int(module)
}

// Bit returns the bit position of v within its module registers.
func (v Vector) Bit() int {
	_, bit := split(v)
	return int(bit)
}

// Fields is a per-module bitmap, one 32-bit word for each controller module.
// The zero value has every bit clear.
type Fields [ModuleCount]uint32

// Test reports whether the bit of v is set. v must be a valid vector.
func (f *Fields) Test(v Vector) bool {
	module, bit := split(v)
	return f[module]&(1<<bit) != 0
}

func (f *Fields) Set(v Vector) {
	module, bit := split(v)
	f[module] |= 1 << bit
}

func (f *Fields) Clear(v Vector) {
	module, bit := split(v)
	f[module] &^= 1 << bit
}
