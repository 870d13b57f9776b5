// Package armv4 models the exception-entry behaviour of an ARMv4 core: the
// I and F bits of the CPSR, the processor modes and the vector table. It
// does not execute instructions; exception handlers are Go functions that
// run synchronously when a request line is high and the matching mask bit
// is clear.
package armv4

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/rtirq/internal/irq"
)

// CPSR bits.
const (
	PSRModeMask   = 0x1f
	PSRFIQDisable = 1 << 6
	PSRIRQDisable = 1 << 7
)

// Mode is the processor mode held in the low bits of the CPSR.
type Mode uint32

const (
	ModeUser       Mode = 0x10
	ModeFIQ        Mode = 0x11
	ModeIRQ        Mode = 0x12
	ModeSupervisor Mode = 0x13
	ModeAbort      Mode = 0x17
	ModeUndefined  Mode = 0x1b
	ModeSystem     Mode = 0x1f
)

func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "usr"
	case ModeFIQ:
		return "fiq"
	case ModeIRQ:
		return "irq"
	case ModeSupervisor:
		return "svc"
	case ModeAbort:
		return "abt"
	case ModeUndefined:
		return "und"
	case ModeSystem:
		return "sys"
	default:
		return fmt.Sprintf("mode(0x%02x)", uint32(m))
	}
}

// DefaultStormLimit bounds the number of back to back traps a single
// admission may take before the processor stops accepting exceptions.
const DefaultStormLimit = 4096

// ErrInterruptStorm is reported by Fault when an asserted line was never
// acknowledged by its handler.
var ErrInterruptStorm = errors.New("armv4: interrupt storm")

// Stats counts taken exceptions.
type Stats struct {
	Taken    [irq.ExceptionCount]uint64
	MaxDepth int
}

// CPU is a single core. It is driven from one goroutine: the interrupt
// controller output, critical sections and handlers all run on the caller's
// stack.
type CPU struct {
	cpsr    uint32
	irqLine bool
	fiqLine bool

	vectors [irq.ExceptionCount]func()

	depth      int
	stats      Stats
	stormLimit int
	fault      error

	logger *slog.Logger
}

// New returns a core in its reset state: supervisor mode with IRQ and FIQ
// masked.
func New() *CPU {
	c := &CPU{
		stormLimit: DefaultStormLimit,
		logger:     slog.Default(),
	}
	c.Reset()
	return c
}

// SetLogger overrides the logger used for faults.
func (c *CPU) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetStormLimit changes the storm detection threshold. Values below one
// disable detection.
func (c *CPU) SetStormLimit(limit int) {
	c.stormLimit = limit
}

// Reset returns the core to supervisor mode with both exceptions masked and
// clears any recorded fault. Installed handlers and line levels are kept.
func (c *CPU) Reset() {
	c.cpsr = uint32(ModeSupervisor) | PSRIRQDisable | PSRFIQDisable
	c.depth = 0
	c.fault = nil
}

// CPSR returns the current program status register.
func (c *CPU) CPSR() uint32 { return c.cpsr }

// Mode returns the current processor mode.
func (c *CPU) Mode() Mode { return Mode(c.cpsr & PSRModeMask) }

// IRQMasked reports whether the I bit is set.
func (c *CPU) IRQMasked() bool { return c.cpsr&PSRIRQDisable != 0 }

// Depth is the number of exceptions currently being handled.
func (c *CPU) Depth() int { return c.depth }

// Lines returns the levels of the IRQ and FIQ inputs.
func (c *CPU) Lines() (irqLevel, fiqLevel bool) { return c.irqLine, c.fiqLine }

// Stats returns the exception counters.
func (c *CPU) Stats() Stats { return c.stats }

// Fault returns the error that stopped exception delivery, if any.
func (c *CPU) Fault() error { return c.fault }

// Disable implements irq.Processor.
func (c *CPU) Disable() irq.Level {
	prev := irq.Level(c.cpsr & PSRIRQDisable)
	c.cpsr |= PSRIRQDisable
	return prev
}

// Restore implements irq.Processor.
func (c *CPU) Restore(level irq.Level) {
	c.cpsr = c.cpsr&^PSRIRQDisable | uint32(level)&PSRIRQDisable
	c.poll()
}

// EnableIRQ implements irq.Processor. A pending IRQ is taken before it
// returns.
func (c *CPU) EnableIRQ() irq.Level {
	prev := irq.Level(c.cpsr & PSRIRQDisable)
	c.cpsr &^= PSRIRQDisable
	c.poll()
	return prev
}

// EnableFIQ clears the F bit.
func (c *CPU) EnableFIQ() {
	c.cpsr &^= PSRFIQDisable
	c.poll()
}

// SetExceptionHandler implements irq.Processor.
func (c *CPU) SetExceptionHandler(exception irq.Exception, handler func()) {
	if exception < 0 || exception >= irq.ExceptionCount {
		return
	}
	c.vectors[exception] = handler
}

// SetIRQ drives the IRQ input.
func (c *CPU) SetIRQ(level bool) {
	c.irqLine = level
	c.poll()
}

// SetFIQ drives the FIQ input.
func (c *CPU) SetFIQ(level bool) {
	c.fiqLine = level
	c.poll()
}

// SoftwareInterrupt takes the SWI exception.
func (c *CPU) SoftwareInterrupt() {
	c.take(irq.ExceptionSWI)
}

func (c *CPU) pending() (irq.Exception, bool) {
	if c.fault != nil {
		return 0, false
	}
	if c.fiqLine && c.cpsr&PSRFIQDisable == 0 && c.vectors[irq.ExceptionFIQ] != nil {
		return irq.ExceptionFIQ, true
	}
	if c.irqLine && c.cpsr&PSRIRQDisable == 0 && c.vectors[irq.ExceptionIRQ] != nil {
		return irq.ExceptionIRQ, true
	}
	return 0, false
}

// poll takes exceptions until no unmasked line is asserted.
func (c *CPU) poll() {
	for taken := 0; ; taken++ {
		exception, ok := c.pending()
		if !ok {
			return
		}
		if c.stormLimit > 0 && taken >= c.stormLimit {
			c.fault = fmt.Errorf("%w: %d consecutive %s traps", ErrInterruptStorm, taken, exceptionNames[exception])
			c.logger.Error("exception delivery stopped", "err", c.fault)
			return
		}
		c.take(exception)
	}
}

var exceptionNames = [irq.ExceptionCount]string{
	irq.ExceptionReset:         "reset",
	irq.ExceptionUndefined:     "undefined",
	irq.ExceptionSWI:           "swi",
	irq.ExceptionPrefetchAbort: "prefetch abort",
	irq.ExceptionDataAbort:     "data abort",
	irq.ExceptionReserved:      "reserved",
	irq.ExceptionIRQ:           "irq",
	irq.ExceptionFIQ:           "fiq",
}

var exceptionModes = [irq.ExceptionCount]Mode{
	irq.ExceptionReset:         ModeSupervisor,
	irq.ExceptionUndefined:     ModeUndefined,
	irq.ExceptionSWI:           ModeSupervisor,
	irq.ExceptionPrefetchAbort: ModeAbort,
	irq.ExceptionDataAbort:     ModeAbort,
	irq.ExceptionReserved:      ModeSupervisor,
	irq.ExceptionIRQ:           ModeIRQ,
	irq.ExceptionFIQ:           ModeFIQ,
}

// take enters an exception: the CPSR is banked, the mode switched and IRQs
// masked. FIQ and reset entry also mask FIQs. The banked CPSR is restored
// when the handler returns, even if it panics.
func (c *CPU) take(exception irq.Exception) {
	handler := c.vectors[exception]
	if handler == nil {
		c.logger.Warn("no handler for exception", "exception", exceptionNames[exception])
		return
	}

	spsr := c.cpsr
	cpsr := c.cpsr&^PSRModeMask | uint32(exceptionModes[exception]) | PSRIRQDisable
	if exception == irq.ExceptionFIQ || exception == irq.ExceptionReset {
		cpsr |= PSRFIQDisable
	}
	c.cpsr = cpsr

	c.stats.Taken[exception]++
	c.depth++
	if c.depth > c.stats.MaxDepth {
		c.stats.MaxDepth = c.depth
	}
	defer func() {
		c.depth--
		c.cpsr = spsr
	}()

	handler()
}

var _ irq.Processor = (*CPU)(nil)
