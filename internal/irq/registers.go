package irq

// Bus provides 32-bit access to memory mapped controller registers.
type Bus interface {
	Load32(addr uint64) uint32
	Store32(addr uint64, value uint32)
}

// Register is the byte offset of a register within a module block.
type Register uint64

const (
	RegisterEnable         Register = 0x00 // ER
	RegisterRawStatus      Register = 0x04 // RSR
	RegisterStatus         Register = 0x08 // SR
	RegisterPolarity       Register = 0x0c // APR
	RegisterActivationType Register = 0x10 // ATR
	RegisterType           Register = 0x14 // ITR
)

// ModuleStride is the distance between two module register blocks.
const ModuleStride = 1 << 14

func (r Register) String() string {
	switch r {
	case RegisterEnable:
		return "ER"
	case RegisterRawStatus:
		return "RSR"
	case RegisterStatus:
		return "SR"
	case RegisterPolarity:
		return "APR"
	case RegisterActivationType:
		return "ATR"
	case RegisterType:
		return "ITR"
	default:
		return "unknown"
	}
}

// Registers lists the registers of a module block in address order.
var Registers = []Register{
	RegisterEnable,
	RegisterRawStatus,
	RegisterStatus,
	RegisterPolarity,
	RegisterActivationType,
	RegisterType,
}

// RegisterAddress returns the address of reg in the block of module.
func RegisterAddress(base uint64, module int, reg Register) uint64 {
	return base + uint64(module)<<14 + uint64(reg)
}

// registers performs single load-modify-store bit operations. Callers
// provide the critical section when the update must be atomic with
// respect to interrupt delivery.
type registers struct {
	bus  Bus
	base uint64
}

func (r registers) load(module int, reg Register) uint32 {
	return r.bus.Load32(RegisterAddress(r.base, module, reg))
}

func (r registers) store(module int, reg Register, value uint32) {
	r.bus.Store32(RegisterAddress(r.base, module, reg), value)
}

func (r registers) isBitSet(v Vector, reg Register) bool {
	module, bit := split(v)
	return r.load(int(module), reg)&(1<<bit) != 0
}

func (r registers) setBit(v Vector, reg Register) {
	module, bit := split(v)
	r.store(int(module), reg, r.load(int(module), reg)|1<<bit)
}

func (r registers) clearBit(v Vector, reg Register) {
	module, bit := split(v)
	r.store(int(module), reg, r.load(int(module), reg)&^(1<<bit))
}
