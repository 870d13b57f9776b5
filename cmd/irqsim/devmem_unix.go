//go:build unix

package main

import (
	"fmt"

	"github.com/tinyrange/rtirq/internal/board"
	"github.com/tinyrange/rtirq/internal/chipset"
	"github.com/tinyrange/rtirq/internal/mmio"
)

const devmemPath = mmio.DefaultDevice

// physBus reads the controller block and SW_INT through two mappings.
type physBus struct {
	block *mmio.Mapped
	swint *mmio.Mapped
}

func (p *physBus) Load32(addr uint64) uint32 {
	if addr == p.swint.Base() {
		return p.swint.Load32(addr)
	}
	return p.block.Load32(addr)
}

func (p *physBus) Store32(addr uint64, value uint32) {
	if addr == p.swint.Base() {
		p.swint.Store32(addr, value)
		return
	}
	p.block.Store32(addr, value)
}

// dumpDevmem prints the live registers of the controller described by b.
// The mappings are read only.
func (a *app) dumpDevmem(b *board.Board) error {
	cfg, err := b.Config()
	if err != nil {
		return err
	}

	block, err := mmio.Open(devmemPath, cfg.Base, chipset.LPC32xxBlockSize, true)
	if err != nil {
		return fmt.Errorf("failed to map controller: %w", err)
	}
	defer block.Close()
	block.SetLogger(a.logger)

	swint, err := mmio.Open(devmemPath, cfg.SoftwareInterrupt, 4, true)
	if err != nil {
		return fmt.Errorf("failed to map SW_INT: %w", err)
	}
	defer swint.Close()
	swint.SetLogger(a.logger)

	a.printRegisters(b, &physBus{block: block, swint: swint})
	return nil
}
