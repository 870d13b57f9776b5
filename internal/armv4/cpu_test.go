package armv4

import (
	"errors"
	"testing"

	"github.com/tinyrange/rtirq/internal/irq"
)

func TestResetState(t *testing.T) {
	c := New()
	if c.Mode() != ModeSupervisor {
		t.Fatalf("mode = %s, want svc", c.Mode())
	}
	if c.CPSR()&(PSRIRQDisable|PSRFIQDisable) != PSRIRQDisable|PSRFIQDisable {
		t.Fatalf("cpsr = 0x%08x, want I and F set", c.CPSR())
	}
}

func TestMaskedLineIsNotTaken(t *testing.T) {
	c := New()
	var taken int
	c.SetExceptionHandler(irq.ExceptionIRQ, func() {
		taken++
		c.SetIRQ(false)
	})

	c.SetIRQ(true)
	if taken != 0 {
		t.Fatalf("IRQ taken while masked")
	}

	c.Restore(0)
	if taken != 1 {
		t.Fatalf("taken = %d, want 1", taken)
	}
	if c.IRQMasked() {
		t.Fatalf("I bit not restored after the handler returned")
	}
}

func TestExceptionEntry(t *testing.T) {
	c := New()
	c.Restore(0)

	var mode Mode
	var cpsr uint32
	c.SetExceptionHandler(irq.ExceptionIRQ, func() {
		mode = c.Mode()
		cpsr = c.CPSR()
		c.SetIRQ(false)
	})
	c.SetIRQ(true)

	if mode != ModeIRQ {
		t.Fatalf("handler ran in %s mode", mode)
	}
	if cpsr&PSRIRQDisable == 0 {
		t.Fatalf("handler ran with IRQs unmasked")
	}
	if c.Mode() != ModeSupervisor {
		t.Fatalf("mode after return = %s", c.Mode())
	}
	if c.Stats().Taken[irq.ExceptionIRQ] != 1 {
		t.Fatalf("unexpected stats %+v", c.Stats())
	}
}

func TestDisableRestore(t *testing.T) {
	c := New()
	c.Restore(0)

	outer := c.Disable()
	inner := c.Disable()
	if outer != 0 || inner == 0 {
		t.Fatalf("levels outer=%d inner=%d", outer, inner)
	}
	c.Restore(inner)
	if !c.IRQMasked() {
		t.Fatalf("inner restore unmasked IRQs")
	}
	c.Restore(outer)
	if c.IRQMasked() {
		t.Fatalf("outer restore left IRQs masked")
	}
}

func TestNestedIRQ(t *testing.T) {
	c := New()
	c.Restore(0)

	var order []int
	pending := []int{1, 2}
	c.SetExceptionHandler(irq.ExceptionIRQ, func() {
		n := pending[0]
		pending = pending[1:]
		order = append(order, n)
		if len(pending) == 0 {
			c.SetIRQ(false)
			return
		}
		// The first handler opens a window while the line is still high.
		prev := c.EnableIRQ()
		c.Restore(prev)
	})
	c.SetIRQ(true)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v", order)
	}
	if c.Stats().MaxDepth != 2 {
		t.Fatalf("max depth = %d, want 2", c.Stats().MaxDepth)
	}
	if c.Depth() != 0 {
		t.Fatalf("depth = %d after return", c.Depth())
	}
}

func TestFIQPreemptsIRQ(t *testing.T) {
	c := New()
	c.EnableFIQ()

	var order []irq.Exception
	c.SetExceptionHandler(irq.ExceptionIRQ, func() {
		order = append(order, irq.ExceptionIRQ)
		c.SetIRQ(false)
	})
	c.SetExceptionHandler(irq.ExceptionFIQ, func() {
		order = append(order, irq.ExceptionFIQ)
		if c.CPSR()&PSRFIQDisable == 0 {
			t.Errorf("FIQ handler ran with FIQs unmasked")
		}
		c.SetFIQ(false)
	})

	c.SetIRQ(true)
	c.SetFIQ(true)
	c.Restore(0)

	if len(order) != 2 || order[0] != irq.ExceptionFIQ || order[1] != irq.ExceptionIRQ {
		t.Fatalf("order = %v", order)
	}
}

func TestInterruptStorm(t *testing.T) {
	c := New()
	c.SetStormLimit(8)
	c.Restore(0)

	var taken int
	c.SetExceptionHandler(irq.ExceptionIRQ, func() { taken++ })
	c.SetIRQ(true)

	if taken != 8 {
		t.Fatalf("taken = %d, want 8", taken)
	}
	if !errors.Is(c.Fault(), ErrInterruptStorm) {
		t.Fatalf("fault = %v", c.Fault())
	}

	c.Reset()
	if c.Fault() != nil {
		t.Fatalf("fault survived reset")
	}
}

func TestHandlerPanicRestoresCPSR(t *testing.T) {
	c := New()
	c.Restore(0)
	c.SetExceptionHandler(irq.ExceptionIRQ, func() { panic("boom") })

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		c.SetIRQ(true)
	}()

	if c.Mode() != ModeSupervisor || c.Depth() != 0 {
		t.Fatalf("mode=%s depth=%d after panic", c.Mode(), c.Depth())
	}
}

func TestSetExceptionHandlerOutOfRange(t *testing.T) {
	c := New()
	c.SetExceptionHandler(irq.ExceptionCount, func() {})
	c.SetExceptionHandler(-1, func() {})
}
