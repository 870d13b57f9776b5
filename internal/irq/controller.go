package irq

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Polarity selects the active level or edge of a source.
type Polarity int

const (
	ActiveLowOrFallingEdge Polarity = iota
	ActiveHighOrRisingEdge
)

func (p Polarity) String() string {
	if p == ActiveHighOrRisingEdge {
		return "high"
	}
	return "low"
}

// ActivationType selects level or edge sensitivity of a source.
type ActivationType int

const (
	LevelSensitive ActivationType = iota
	EdgeSensitive
)

func (t ActivationType) String() string {
	if t == EdgeSensitive {
		return "edge"
	}
	return "level"
}

// Type routes a source to the IRQ or the FIQ exception.
type Type int

const (
	TypeIRQ Type = iota
	TypeFIQ
)

func (t Type) String() string {
	if t == TypeFIQ {
		return "fiq"
	}
	return "irq"
}

// Stats counts dispatch activity since the controller was created.
type Stats struct {
	Dispatched uint64
	Spurious   uint64
	MaxDepth   int
}

// Controller owns the priority table, the mask bank and the enable shadow
// of one set of cascaded controllers. Mutations from thread context run
// inside Processor critical sections so they are atomic with respect to
// Dispatch.
type Controller struct {
	cfg      Config
	regs     registers
	cpu      Processor
	handlers HandlerDispatcher
	logger   *slog.Logger

	priority [VectorCount]uint8
	masks    [PriorityCount]Fields
	enabled  Fields

	// depth is only touched from the processor context. The counters may
	// be read by Stats from any goroutine.
	depth      int
	maxDepth   atomic.Int64
	dispatched atomic.Uint64
	spurious   atomic.Uint64
}

// New returns a controller for the hardware described by cfg. Initialize
// must be called before the first interrupt is admitted.
func New(cfg Config, bus Bus, cpu Processor, handlers HandlerDispatcher) (*Controller, error) {
	if bus == nil {
		return nil, fmt.Errorf("irq: bus is nil")
	}
	if cpu == nil {
		return nil, fmt.Errorf("irq: processor is nil")
	}
	if handlers == nil {
		return nil, fmt.Errorf("irq: handler dispatcher is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		regs:     registers{bus: bus, base: cfg.Base},
		cpu:      cpu,
		handlers: handlers,
		logger:   slog.Default(),
	}, nil
}

// SetLogger sets the logger used for diagnostics.
func (c *Controller) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
}

// Config returns the hardware description the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg
}

// Initialize sets every vector to the lowest priority, disables all
// sources except the cascade inputs of the secondary controllers, routes
// everything to IRQ, programs the reset polarities and activation types
// and installs Dispatch as the IRQ exception handler.
func (c *Controller) Initialize() {
	level := c.cpu.Disable()
	defer c.cpu.Restore(level)

	for i := range c.priority {
		c.priority[i] = PriorityLowest
	}

	for i := range c.masks {
		c.masks[i] = Fields{c.cfg.CascadeEnable}
	}

	c.enabled = Fields{c.cfg.CascadeEnable}
	for module := ModuleCount - 1; module >= 0; module-- {
		c.regs.store(module, RegisterEnable, c.enabled[module])
	}

	for module := 0; module < ModuleCount; module++ {
		c.regs.store(module, RegisterType, 0)
		c.regs.store(module, RegisterPolarity, c.cfg.Polarity[module])
		c.regs.store(module, RegisterActivationType, c.cfg.ActivationType[module])
	}

	c.cpu.SetExceptionHandler(ExceptionIRQ, c.Dispatch)

	c.logger.Debug("interrupt facility initialized",
		slog.String("base", fmt.Sprintf("0x%08x", c.cfg.Base)),
		slog.Int("modules", ModuleCount),
	)
}

// IsEnabled reports whether v is logically enabled. Transient priority
// masking during dispatch does not affect the result.
func (c *Controller) IsEnabled(v Vector) (bool, error) {
	if !c.IsValidVector(v) {
		return false, ErrInvalidVector
	}
	return c.enabled.Test(v), nil
}

// Enable enables v in the enable shadow and in hardware. Enabling an
// enabled vector changes nothing.
func (c *Controller) Enable(v Vector) error {
	if !c.IsValidVector(v) {
		c.logger.Warn("enable of invalid vector", slog.Int("vector", int(v)))
		return ErrInvalidVector
	}

	level := c.cpu.Disable()
	if !c.enabled.Test(v) {
		c.enabled.Set(v)
		c.regs.setBit(v, RegisterEnable)
	}
	c.cpu.Restore(level)

	return nil
}

// Disable disables v in the enable shadow and in hardware.
func (c *Controller) Disable(v Vector) error {
	if !c.IsValidVector(v) {
		c.logger.Warn("disable of invalid vector", slog.Int("vector", int(v)))
		return ErrInvalidVector
	}

	level := c.cpu.Disable()
	c.enabled.Clear(v)
	c.regs.clearBit(v, RegisterEnable)
	c.cpu.Restore(level)

	return nil
}

// Enabled returns a copy of the enable shadow.
func (c *Controller) Enabled() Fields {
	level := c.cpu.Disable()
	defer c.cpu.Restore(level)
	return c.enabled
}

func (c *Controller) setRegisterBit(v Vector, reg Register, set bool) {
	level := c.cpu.Disable()
	if set {
		c.regs.setBit(v, reg)
	} else {
		c.regs.clearBit(v, reg)
	}
	c.cpu.Restore(level)
}

func (c *Controller) SetActivationPolarity(v Vector, polarity Polarity) {
	if !c.IsValidVector(v) {
		return
	}
	c.setRegisterBit(v, RegisterPolarity, polarity == ActiveHighOrRisingEdge)
}

// ActivationPolarity returns the polarity of v. Invalid vectors report
// ActiveLowOrFallingEdge.
func (c *Controller) ActivationPolarity(v Vector) Polarity {
	if c.IsValidVector(v) && c.regs.isBitSet(v, RegisterPolarity) {
		return ActiveHighOrRisingEdge
	}
	return ActiveLowOrFallingEdge
}

func (c *Controller) SetActivationType(v Vector, activation ActivationType) {
	if !c.IsValidVector(v) {
		return
	}
	c.setRegisterBit(v, RegisterActivationType, activation == EdgeSensitive)
}

// ActivationType returns the sensitivity of v. Invalid vectors report
// LevelSensitive.
func (c *Controller) ActivationType(v Vector) ActivationType {
	if c.IsValidVector(v) && c.regs.isBitSet(v, RegisterActivationType) {
		return EdgeSensitive
	}
	return LevelSensitive
}

// SetInterruptType routes v to IRQ or FIQ. Sources routed to FIQ are never
// resolved by Dispatch and are reported as not maskable.
func (c *Controller) SetInterruptType(v Vector, typ Type) {
	if !c.IsValidVector(v) {
		return
	}
	c.setRegisterBit(v, RegisterType, typ == TypeFIQ)
}

// InterruptType returns the routing of v. Invalid vectors report TypeIRQ.
func (c *Controller) InterruptType(v Vector) Type {
	if c.IsValidVector(v) && c.regs.isBitSet(v, RegisterType) {
		return TypeFIQ
	}
	return TypeIRQ
}

// Register reads a register of a module block. Modules outside the cascade
// read as zero.
func (c *Controller) Register(module int, reg Register) uint32 {
	if module < 0 || module >= ModuleCount {
		return 0
	}
	return c.regs.load(module, reg)
}

func (c *Controller) Stats() Stats {
	return Stats{
		Dispatched: c.dispatched.Load(),
		Spurious:   c.spurious.Load(),
		MaxDepth:   int(c.maxDepth.Load()),
	}
}
