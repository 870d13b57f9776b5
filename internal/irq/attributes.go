package irq

// Attributes describes what the generic interrupt layer may do with a
// vector.
type Attributes struct {
	IsMaskable     bool
	CanEnable      bool
	MaybeEnable    bool
	CanDisable     bool
	MaybeDisable   bool
	CanRaise       bool
	CanRaiseOn     bool
	CanClear       bool
	CanGetAffinity bool
	CanSetAffinity bool
}

// Affinity is a set of processor indices, one bit per processor.
type Affinity uint32

// ProcessorCount is the number of processors interrupts can be routed to.
const ProcessorCount = 1

func (c *Controller) Attributes(v Vector) (Attributes, error) {
	if !c.IsValidVector(v) {
		return Attributes{}, ErrInvalidVector
	}

	software := v == c.cfg.SoftwareVector
	return Attributes{
		IsMaskable:     !c.regs.isBitSet(v, RegisterType),
		CanEnable:      true,
		MaybeEnable:    true,
		CanDisable:     true,
		MaybeDisable:   true,
		CanRaise:       software,
		CanRaiseOn:     software,
		CanClear:       software,
		CanGetAffinity: true,
		CanSetAffinity: true,
	}, nil
}

// IsPending reports the raw status of v, independent of its enable bit.
func (c *Controller) IsPending(v Vector) (bool, error) {
	if !c.IsValidVector(v) {
		return false, ErrInvalidVector
	}
	return c.regs.isBitSet(v, RegisterRawStatus), nil
}

// Raise triggers v. Only the software vector can be raised.
func (c *Controller) Raise(v Vector) error {
	if !c.IsValidVector(v) {
		return ErrInvalidVector
	}
	if v != c.cfg.SoftwareVector {
		return ErrUnsatisfied
	}
	c.cfg.softwareStore(c.regs.bus, 1)
	return nil
}

// RaiseOn triggers v on the given processor.
func (c *Controller) RaiseOn(v Vector, cpu uint32) error {
	if !c.IsValidVector(v) {
		return ErrInvalidVector
	}
	if cpu >= ProcessorCount {
		return ErrInvalidProcessor
	}
	return c.Raise(v)
}

// Clear withdraws a software triggered v.
func (c *Controller) Clear(v Vector) error {
	if !c.IsValidVector(v) {
		return ErrInvalidVector
	}
	if v != c.cfg.SoftwareVector {
		return ErrUnsatisfied
	}
	c.cfg.softwareStore(c.regs.bus, 0)
	return nil
}

// Affinity returns the processors v is routed to.
func (c *Controller) Affinity(v Vector) (Affinity, error) {
	if !c.IsValidVector(v) {
		return 0, ErrInvalidVector
	}
	return 1<<ProcessorCount - 1, nil
}

// SetAffinity accepts any set containing a processor the controller can
// route to. Routing is fixed in hardware, so nothing is written.
func (c *Controller) SetAffinity(v Vector, affinity Affinity) error {
	if !c.IsValidVector(v) {
		return ErrInvalidVector
	}
	if affinity&(1<<ProcessorCount-1) == 0 {
		return ErrInvalidProcessor
	}
	return nil
}

func (c Config) softwareStore(bus Bus, value uint32) {
	bus.Store32(c.SoftwareInterrupt, value)
}
