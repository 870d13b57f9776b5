package irq

import (
	"testing"
)

// memoryBus is a flat register file without side effects.
type memoryBus struct {
	words  map[uint64]uint32
	stores []uint64
}

func newMemoryBus() *memoryBus {
	return &memoryBus{words: make(map[uint64]uint32)}
}

func (b *memoryBus) Load32(addr uint64) uint32 {
	return b.words[addr]
}

func (b *memoryBus) Store32(addr uint64, value uint32) {
	b.words[addr] = value
	b.stores = append(b.stores, addr)
}

func (b *memoryBus) reg(module int, reg Register) uint32 {
	return b.words[RegisterAddress(DefaultBase, module, reg)]
}

func (b *memoryBus) setReg(module int, reg Register, value uint32) {
	b.words[RegisterAddress(DefaultBase, module, reg)] = value
}

// testCPU models the I bit of the status register.
type testCPU struct {
	irqDisabled bool
	disables    int
	handlers    [ExceptionCount]func()

	// onEnableIRQ runs when Dispatch admits IRQs, standing in for a nested
	// trap.
	onEnableIRQ func()
}

func (c *testCPU) level() Level {
	if c.irqDisabled {
		return 1
	}
	return 0
}

func (c *testCPU) Disable() Level {
	prev := c.level()
	c.irqDisabled = true
	c.disables++
	return prev
}

func (c *testCPU) Restore(level Level) {
	c.irqDisabled = level != 0
}

func (c *testCPU) EnableIRQ() Level {
	prev := c.level()
	c.irqDisabled = false
	if fn := c.onEnableIRQ; fn != nil {
		c.onEnableIRQ = nil
		fn()
	}
	return prev
}

func (c *testCPU) SetExceptionHandler(exception Exception, handler func()) {
	if exception < 0 || exception >= ExceptionCount {
		return
	}
	c.handlers[exception] = handler
}

// trap enters the IRQ exception the way the processor does.
func (c *testCPU) trap(t *testing.T) {
	t.Helper()
	handler := c.handlers[ExceptionIRQ]
	if handler == nil {
		t.Fatalf("no IRQ handler installed")
	}
	saved := c.irqDisabled
	c.irqDisabled = true
	handler()
	c.irqDisabled = saved
}

type testEnv struct {
	ctrl *Controller
	bus  *memoryBus
	cpu  *testCPU

	serviced []Vector
	handler  func(v Vector)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		bus: newMemoryBus(),
		cpu: &testCPU{},
	}
	ctrl, err := New(DefaultConfig(), env.bus, env.cpu, DispatchFunc(func(v Vector) {
		env.serviced = append(env.serviced, v)
		if env.handler != nil {
			env.handler(v)
		}
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctrl.Initialize()
	env.ctrl = ctrl
	return env
}

// validVectors returns every vector wired in the default configuration.
func validVectors(t *testing.T, ctrl *Controller) []Vector {
	t.Helper()
	var out []Vector
	for v := Vector(0); v < VectorCount; v++ {
		if ctrl.IsValidVector(v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		t.Fatalf("no valid vectors")
	}
	return out
}
