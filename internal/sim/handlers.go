package sim

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/rtirq/internal/irq"
)

// Handler services one vector.
type Handler func(v irq.Vector)

// HandlerTable is the generic handler registry called by irq.Controller
// once a vector has been resolved. Only vectors wired in the controller
// configuration can have a handler.
type HandlerTable struct {
	mu       sync.Mutex
	valid    irq.Fields
	handlers [irq.VectorCount]Handler

	// OnDispatch, when set, observes every dispatched vector before its
	// handler runs.
	OnDispatch func(v irq.Vector)

	unhandled uint64
	logger    *slog.Logger
}

// NewHandlerTable returns an empty table for the vectors wired in cfg.
func NewHandlerTable(cfg irq.Config) *HandlerTable {
	return &HandlerTable{
		valid:  cfg.Valid,
		logger: slog.Default(),
	}
}

// SetLogger overrides the logger used for unhandled vectors.
func (t *HandlerTable) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Install sets the handler of v. A vector has at most one handler.
func (t *HandlerTable) Install(v irq.Vector, h Handler) error {
	if v >= irq.VectorCount || !t.valid.Test(v) {
		return fmt.Errorf("sim: install handler for %d: %w", v, irq.ErrInvalidVector)
	}
	if h == nil {
		return fmt.Errorf("sim: handler for %d is nil", v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers[v] != nil {
		return fmt.Errorf("sim: vector %d already has a handler", v)
	}
	t.handlers[v] = h
	return nil
}

// Remove drops the handler of v.
func (t *HandlerTable) Remove(v irq.Vector) {
	if v >= irq.VectorCount {
		return
	}
	t.mu.Lock()
	t.handlers[v] = nil
	t.mu.Unlock()
}

// Unhandled returns the number of dispatched vectors that had no handler.
func (t *HandlerTable) Unhandled() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unhandled
}

// DispatchHandler implements irq.HandlerDispatcher. The table lock is not
// held while the handler runs, so handlers may be preempted by nested
// dispatches.
func (t *HandlerTable) DispatchHandler(v irq.Vector) {
	if t.OnDispatch != nil {
		t.OnDispatch(v)
	}

	t.mu.Lock()
	var h Handler
	if v < irq.VectorCount {
		h = t.handlers[v]
	}
	if h == nil {
		t.unhandled++
	}
	t.mu.Unlock()

	if h == nil {
		t.logger.Warn("unhandled interrupt", slog.Int("vector", int(v)))
		return
	}
	h(v)
}

var _ irq.HandlerDispatcher = (*HandlerTable)(nil)
