package chipset

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tinyrange/rtirq/internal/irq"
)

// MIC inputs driven by the secondary controllers.
const (
	micSIC1IRQ = 1 << 0
	micSIC2IRQ = 1 << 1
	micSIC1FIQ = 1 << 30
	micSIC2FIQ = 1 << 31
)

// LPC32xxBlockSize is the size of the register window covering the MIC and
// both SICs.
const LPC32xxBlockSize = irq.ModuleCount * irq.ModuleStride

type lpc32xxModule struct {
	er      uint32
	latched uint32
	apr     uint32
	atr     uint32
	itr     uint32
}

// LPC32xx simulates the cascaded MIC, SIC1 and SIC2 interrupt controllers
// together with the SW_INT register.
//
// Input lines carry the logical request of a source: polarity inversion
// happens before the controller, so APR is stored but does not invert the
// line. Level sensitive sources follow their line. Edge sensitive sources
// latch on assertion and stay pending until a 1 is written to their RSR
// bit. The SIC FIQ cascade inputs of the MIC always drive the FIQ output.
type LPC32xx struct {
	mu sync.Mutex

	base  uint64
	swint uint64

	modules [irq.ModuleCount]lpc32xxModule
	lines   irq.Fields
	sw      bool

	irqOut bool
	fiqOut bool
	cpu    CPUSink
}

// NewLPC32xx creates a controller whose MIC block starts at base and whose
// SW_INT register is at swint.
func NewLPC32xx(base, swint uint64, cpu CPUSink) *LPC32xx {
	return &LPC32xx{
		base:  base,
		swint: swint,
		cpu:   cpu,
	}
}

// AttachCPU connects the IRQ and FIQ outputs.
func (c *LPC32xx) AttachCPU(cpu CPUSink) {
	c.mu.Lock()
	c.cpu = cpu
	irqOut, fiqOut := c.irqOut, c.fiqOut
	c.mu.Unlock()

	if cpu != nil {
		cpu.SetIRQ(irqOut)
		cpu.SetFIQ(fiqOut)
	}
}

// Reset implements ChipsetDevice.
func (c *LPC32xx) Reset() error {
	c.update(func() {
		c.modules = [irq.ModuleCount]lpc32xxModule{}
		c.sw = false
	})
	return nil
}

// SupportsMmio implements ChipsetDevice.
func (c *LPC32xx) SupportsMmio() *MmioIntercept {
	return &MmioIntercept{
		Regions: []MmioRegion{
			{Address: c.base, Size: LPC32xxBlockSize},
			{Address: c.swint, Size: 4},
		},
		Handler: c,
	}
}

// SetIRQ implements InterruptSink. line is the global vector number of the
// source.
func (c *LPC32xx) SetIRQ(line uint8, level bool) {
	v := irq.Vector(line)
	if v >= irq.VectorCount {
		return
	}
	c.update(func() {
		c.setInput(v, level)
	})
}

// setInput must be called with c.mu held.
func (c *LPC32xx) setInput(v irq.Vector, level bool) {
	module, bit := v.Module(), uint32(1)<<v.Bit()
	rising := level && c.lines[module]&bit == 0
	if level {
		c.lines[module] |= bit
	} else {
		c.lines[module] &^= bit
	}
	if rising && c.modules[module].atr&bit != 0 {
		c.modules[module].latched |= bit
	}
}

// ReadMMIO implements MmioHandler.
func (c *LPC32xx) ReadMMIO(addr uint64, data []byte) error {
	if len(data) != 4 || addr%4 != 0 {
		return fmt.Errorf("lpc32xx: unsupported read of %d bytes at 0x%x", len(data), addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if addr == c.swint {
		var value uint32
		if c.sw {
			value = 1
		}
		binary.LittleEndian.PutUint32(data, value)
		return nil
	}

	module, reg, err := c.decode(addr)
	if err != nil {
		return err
	}

	m := &c.modules[module]
	var value uint32
	switch reg {
	case irq.RegisterEnable:
		value = m.er
	case irq.RegisterRawStatus:
		value = c.raw(module)
	case irq.RegisterStatus:
		value = c.raw(module) & m.er
	case irq.RegisterPolarity:
		value = m.apr
	case irq.RegisterActivationType:
		value = m.atr
	case irq.RegisterType:
		value = m.itr
	default:
		return fmt.Errorf("lpc32xx: read of unknown register 0x%x", addr)
	}
	binary.LittleEndian.PutUint32(data, value)
	return nil
}

// WriteMMIO implements MmioHandler.
func (c *LPC32xx) WriteMMIO(addr uint64, data []byte) error {
	if len(data) != 4 || addr%4 != 0 {
		return fmt.Errorf("lpc32xx: unsupported write of %d bytes at 0x%x", len(data), addr)
	}
	value := binary.LittleEndian.Uint32(data)

	var err error
	c.update(func() {
		if addr == c.swint {
			c.sw = value&1 != 0
			c.setInput(irq.VectorSoftware, c.sw)
			return
		}

		var (
			module int
			reg    irq.Register
		)
		module, reg, err = c.decode(addr)
		if err != nil {
			return
		}

		m := &c.modules[module]
		switch reg {
		case irq.RegisterEnable:
			m.er = value
		case irq.RegisterRawStatus:
			m.latched &^= value
		case irq.RegisterStatus:
			// read only
		case irq.RegisterPolarity:
			m.apr = value
		case irq.RegisterActivationType:
			m.atr = value
			m.latched &= value
		case irq.RegisterType:
			m.itr = value
		default:
			err = fmt.Errorf("lpc32xx: write to unknown register 0x%x", addr)
		}
	})
	return err
}

func (c *LPC32xx) decode(addr uint64) (int, irq.Register, error) {
	if addr < c.base || addr >= c.base+LPC32xxBlockSize {
		return 0, 0, fmt.Errorf("lpc32xx: address 0x%x outside controller", addr)
	}
	off := addr - c.base
	return int(off / irq.ModuleStride), irq.Register(off % irq.ModuleStride), nil
}

// raw must be called with c.mu held.
func (c *LPC32xx) raw(module int) uint32 {
	m := &c.modules[module]
	value := c.lines[module]&^m.atr | m.latched
	if module == 0 {
		value |= c.cascade()
	}
	return value
}

// cascade returns the MIC inputs driven by the SIC outputs.
func (c *LPC32xx) cascade() uint32 {
	sics := [...]struct {
		module   int
		irq, fiq uint32
	}{
		{1, micSIC1IRQ, micSIC1FIQ},
		{2, micSIC2IRQ, micSIC2FIQ},
	}

	var value uint32
	for _, sic := range sics {
		m := &c.modules[sic.module]
		status := c.raw(sic.module) & m.er
		if status&^m.itr != 0 {
			value |= sic.irq
		}
		if status&m.itr != 0 {
			value |= sic.fiq
		}
	}
	return value
}

// update applies fn under the lock and forwards output changes to the
// processor after releasing it, so a trap taken in response can access
// the registers again.
func (c *LPC32xx) update(fn func()) {
	c.mu.Lock()
	fn()
	mic := &c.modules[0]
	status := c.raw(0) & mic.er
	fiqRouted := mic.itr | micSIC1FIQ | micSIC2FIQ
	irqOut := status&^fiqRouted != 0
	fiqOut := status&fiqRouted != 0
	irqChanged := irqOut != c.irqOut
	fiqChanged := fiqOut != c.fiqOut
	c.irqOut, c.fiqOut = irqOut, fiqOut
	cpu := c.cpu
	c.mu.Unlock()

	if cpu == nil {
		return
	}
	if fiqChanged {
		cpu.SetFIQ(fiqOut)
	}
	if irqChanged {
		cpu.SetIRQ(irqOut)
	}
}

var (
	_ ChipsetDevice = (*LPC32xx)(nil)
	_ InterruptSink = (*LPC32xx)(nil)
	_ MmioHandler   = (*LPC32xx)(nil)
)
