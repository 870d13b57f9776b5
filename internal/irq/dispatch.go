package irq

import (
	"context"
	"log/slog"
	"math/bits"
	"time"

	"github.com/tinyrange/rtirq/internal/timeslice"
)

var (
	timesliceResolve = timeslice.RegisterKind("irq.resolve")
	timesliceService = timeslice.RegisterKind("irq.service")
)

// Dispatch services one IRQ trap. It runs with IRQs disabled by the trap
// entry, resolves the pending source, narrows the enable registers to the
// mask of the source priority, admits IRQs again and calls the handler
// registry. A source of strictly higher priority may trap while the
// handler runs and re-enter Dispatch. On every exit path the enable
// registers return to their value on entry, less the vectors disabled
// meanwhile. The outermost dispatch also applies vectors enabled meanwhile.
func (c *Controller) Dispatch() {
	recording := timeslice.Enabled()
	var start time.Time
	if recording {
		start = time.Now()
	}

	v, ok := c.resolve()
	if !ok {
		c.spurious.Add(1)
		c.logger.Debug("spurious interrupt")
		return
	}

	var snapshot Fields
	for module := range snapshot {
		snapshot[module] = c.regs.load(module, RegisterEnable)
	}
	shadow := c.enabled

	masks := &c.masks[c.priority[v]]
	for module := range snapshot {
		c.regs.store(module, RegisterEnable, snapshot[module]&masks[module])
	}

	c.dispatched.Add(1)
	c.depth++
	c.recordDepth(int64(c.depth))

	if recording {
		now := time.Now()
		timeslice.Record(timesliceResolve, uint32(v), now.Sub(start))
		start = now
	}

	psr := c.cpu.EnableIRQ()
	defer func() {
		c.cpu.Restore(psr)
		c.depth--

		// A nested dispatch returns to the mask of the handler it
		// interrupted. Vectors enabled while servicing only reach the
		// hardware once the outermost handler is done.
		outermost := c.depth == 0
		for module := range snapshot {
			restore := snapshot[module]
			if outermost {
				restore |= c.enabled[module] &^ shadow[module]
			}
			c.regs.store(module, RegisterEnable, restore&c.enabled[module])
		}

		if recording {
			timeslice.Record(timesliceService, uint32(v), time.Since(start))
		}
	}()

	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.Debug("dispatch",
			slog.Int("vector", int(v)),
			slog.Int("priority", int(c.priority[v])),
			slog.Int("depth", c.depth),
		)
	}

	c.handlers.DispatchHandler(v)
}

func (c *Controller) recordDepth(depth int64) {
	for {
		cur := c.maxDepth.Load()
		if depth <= cur || c.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// resolve returns the pending, IRQ routed source with the lowest bit
// index, looking at the primary controller first and then at each
// secondary controller in cascade order.
func (c *Controller) resolve() (Vector, bool) {
	status := c.regs.load(0, RegisterStatus) &^ c.regs.load(0, RegisterType)
	status &= c.cfg.PrimaryStatusMask
	if status != 0 {
		return Vector(lowestBit(status)), true
	}

	for module := 1; module < ModuleCount; module++ {
		status = c.regs.load(module, RegisterStatus) &^ c.regs.load(module, RegisterType)
		if status != 0 {
			return Vector(module*32) + Vector(lowestBit(status)), true
		}
	}

	return 0, false
}

func lowestBit(x uint32) uint32 {
	return uint32(bits.TrailingZeros32(x))
}
