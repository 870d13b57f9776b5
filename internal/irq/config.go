package irq

import "fmt"

// VectorSoftware is the only source that can be raised and cleared by
// software, through the SW_INT register.
const VectorSoftware = ModuleSIC2 + 31

// LPC32xx hardware constants.
const (
	DefaultBase              = 0x40008000
	DefaultSoftwareInterrupt = 0x400040a8

	// DefaultPrimaryStatusMask hides the SIC1/SIC2 IRQ and FIQ cascade bits
	// of the MIC status register.
	DefaultPrimaryStatusMask = 0x3ffffffc

	// DefaultCascadeEnable keeps the SIC1/SIC2 cascade inputs of the MIC
	// enabled at every priority.
	DefaultCascadeEnable = 0xc0000003
)

// Config describes the wiring of one cascaded controller family.
type Config struct {
	// Base is the address of the primary (MIC) register block.
	Base uint64

	// SoftwareInterrupt is the address of the SW_INT register.
	SoftwareInterrupt uint64
	SoftwareVector    Vector

	PrimaryStatusMask uint32
	CascadeEnable     uint32

	// Valid marks the bit positions wired to a real source.
	Valid Fields

	// Reset values written to APR and ATR by Initialize.
	Polarity       Fields
	ActivationType Fields
}

// DefaultConfig returns the LPC32xx configuration.
func DefaultConfig() Config {
	return Config{
		Base:              DefaultBase,
		SoftwareInterrupt: DefaultSoftwareInterrupt,
		SoftwareVector:    VectorSoftware,
		PrimaryStatusMask: DefaultPrimaryStatusMask,
		CascadeEnable:     DefaultCascadeEnable,
		Valid:             Fields{0x3fffeff8, 0xffde71d6, 0x9fdc9fff},
		Polarity:          Fields{0x3ff0efe0, 0xfbd27184, 0x801810c0},
		ActivationType:    Fields{0x0, 0x26000, 0x0},
	}
}

// Validate checks the alignment and consistency of the configuration.
func (c Config) Validate() error {
	if c.Base%4 != 0 {
		return fmt.Errorf("irq: base 0x%x is not word aligned", c.Base)
	}
	if c.SoftwareInterrupt%4 != 0 {
		return fmt.Errorf("irq: software interrupt register 0x%x is not word aligned", c.SoftwareInterrupt)
	}
	if c.SoftwareVector >= VectorCount || !c.Valid.Test(c.SoftwareVector) {
		return fmt.Errorf("irq: software vector %d is not a valid vector", c.SoftwareVector)
	}
	if c.CascadeEnable&c.PrimaryStatusMask != 0 {
		return fmt.Errorf("irq: cascade enable 0x%08x overlaps primary status mask 0x%08x",
			c.CascadeEnable, c.PrimaryStatusMask)
	}
	return nil
}
