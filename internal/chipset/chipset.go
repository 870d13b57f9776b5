package chipset

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
)

// Chipset routes register accesses to the devices registered with a
// ChipsetBuilder. It implements the 32-bit bus used by the interrupt
// controller driver.
type Chipset struct {
	devices map[string]ChipsetDevice
	mmio    []mmioBinding
	logger  *slog.Logger
}

// Reset resets all registered devices.
func (c *Chipset) Reset() error {
	for _, name := range c.deviceNames() {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// HandleMMIO dispatches an MMIO access to the registered device.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		start := binding.region.Address
		end := start + binding.region.Size
		if addr >= start && accessEnd <= end {
			if isWrite {
				return binding.handler.WriteMMIO(addr, data)
			}
			return binding.handler.ReadMMIO(addr, data)
		}
	}

	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
}

// Load32 reads a word. Faulting accesses are logged and read as zero.
func (c *Chipset) Load32(addr uint64) uint32 {
	var data [4]byte
	if err := c.HandleMMIO(addr, data[:], false); err != nil {
		c.logger.Warn("MMIO load", "addr", fmt.Sprintf("0x%08x", addr), "err", err)
		return 0
	}
	return binary.LittleEndian.Uint32(data[:])
}

// Store32 writes a word. Faulting accesses are logged and dropped.
func (c *Chipset) Store32(addr uint64, value uint32) {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], value)
	if err := c.HandleMMIO(addr, data[:], true); err != nil {
		c.logger.Warn("MMIO store", "addr", fmt.Sprintf("0x%08x", addr), "value", fmt.Sprintf("0x%08x", value), "err", err)
	}
}

// Device returns a registered device by name.
func (c *Chipset) Device(name string) (ChipsetDevice, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

func (c *Chipset) deviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
