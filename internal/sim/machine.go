// Package sim assembles a simulated LPC32xx board (interrupt controller,
// processor and register bus) around irq.Controller and runs interrupt
// scenarios against it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinyrange/rtirq/internal/armv4"
	"github.com/tinyrange/rtirq/internal/board"
	"github.com/tinyrange/rtirq/internal/chipset"
	"github.com/tinyrange/rtirq/internal/irq"
)

// ErrUnexpectedOrder is returned by Run when the service order differs from
// the scenario expectation.
var ErrUnexpectedOrder = errors.New("sim: unexpected service order")

// Event is one serviced vector.
type Event struct {
	Vector   irq.Vector
	Priority uint
	Depth    int
}

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string
	Trace    []Event
	Stats    irq.Stats
	CPU      armv4.Stats
}

// Vectors returns the serviced vectors in order.
func (r *Result) Vectors() []irq.Vector {
	out := make([]irq.Vector, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = ev.Vector
	}
	return out
}

type options struct {
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*options)

// WithLogger sets the logger shared by every component of the machine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Machine is one simulated board. It is not safe for concurrent use: the
// processor runs traps on the stack of whichever call raised the line.
type Machine struct {
	Board      *board.Board
	Chip       *chipset.LPC32xx
	Bus        *chipset.Chipset
	Lines      *chipset.LineSet
	CPU        *armv4.CPU
	Controller *irq.Controller
	Handlers   *HandlerTable

	cfg    irq.Config
	trace  []Event
	logger *slog.Logger
}

// NewMachine builds and initializes a machine for b. The processor starts
// with IRQs masked; call Start to admit them.
func NewMachine(b *board.Board, opts ...Option) (*Machine, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}

	cpu := armv4.New()
	cpu.SetLogger(o.logger)

	chip := chipset.NewLPC32xx(cfg.Base, cfg.SoftwareInterrupt, nil)
	builder := chipset.NewBuilder().WithLogger(o.logger)
	if err := builder.RegisterDevice("intc", chip); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	bus, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	lines := chipset.NewLineSet(chip)
	for v := irq.Vector(0); v < irq.VectorCount; v++ {
		if !cfg.Valid.Test(v) || v == cfg.SoftwareVector {
			continue
		}
		if _, err := lines.AllocateLine(uint8(v), b.VectorName(v)); err != nil {
			return nil, fmt.Errorf("sim: %w", err)
		}
	}

	m := &Machine{
		Board:    b,
		Chip:     chip,
		Bus:      bus,
		Lines:    lines,
		CPU:      cpu,
		Handlers: NewHandlerTable(cfg),
		cfg:      cfg,
		logger:   o.logger,
	}
	m.Handlers.SetLogger(o.logger)
	m.Handlers.OnDispatch = m.observe

	ctrl, err := irq.New(cfg, bus, cpu, m.Handlers)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	ctrl.SetLogger(o.logger)
	ctrl.Initialize()
	m.Controller = ctrl

	chip.AttachCPU(cpu)

	if err := b.Apply(ctrl); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) observe(v irq.Vector) {
	m.trace = append(m.trace, Event{
		Vector:   v,
		Priority: m.Controller.Priority(v),
		Depth:    m.CPU.Depth(),
	})
}

// Trace returns the vectors serviced so far.
func (m *Machine) Trace() []Event {
	return slices.Clone(m.trace)
}

// Start admits IRQs. Pending sources are serviced before it returns.
func (m *Machine) Start() {
	m.CPU.Restore(0)
}

func (m *Machine) line(v irq.Vector) (chipset.LineInterrupt, error) {
	if v >= irq.VectorCount {
		return nil, irq.ErrInvalidVector
	}
	line, ok := m.Lines.Line(uint8(v))
	if !ok {
		return nil, irq.ErrInvalidVector
	}
	return line, nil
}

// Assert drives the input of v high. The software vector is raised
// through SW_INT.
func (m *Machine) Assert(v irq.Vector) error {
	if v == m.cfg.SoftwareVector {
		return m.Controller.Raise(v)
	}
	line, err := m.line(v)
	if err != nil {
		return err
	}
	line.SetLevel(true)
	return nil
}

// Deassert drives the input of v low.
func (m *Machine) Deassert(v irq.Vector) error {
	if v == m.cfg.SoftwareVector {
		return m.Controller.Clear(v)
	}
	line, err := m.line(v)
	if err != nil {
		return err
	}
	line.SetLevel(false)
	return nil
}

// Pulse raises and drops the input of v. Only edge sensitive sources
// notice it.
func (m *Machine) Pulse(v irq.Vector) error {
	line, err := m.line(v)
	if err != nil {
		return err
	}
	line.PulseInterrupt()
	return nil
}

// Ack is what a device driver does at the end of its handler: the source
// stops requesting and, for edge sensitive sources, the latched edge is
// cleared through RSR.
func (m *Machine) Ack(v irq.Vector) error {
	if err := m.Deassert(v); err != nil {
		return err
	}
	if m.Controller.ActivationType(v) == irq.EdgeSensitive {
		m.Bus.Store32(irq.RegisterAddress(m.cfg.Base, v.Module(), irq.RegisterRawStatus), 1<<v.Bit())
	}
	return nil
}

// Do performs one action.
func (m *Machine) Do(a Action) error {
	var err error
	switch a.Op {
	case OpAssert:
		err = m.Assert(a.Vector)
	case OpDeassert:
		err = m.Deassert(a.Vector)
	case OpPulse:
		err = m.Pulse(a.Vector)
	case OpEnable:
		err = m.Controller.Enable(a.Vector)
	case OpDisable:
		err = m.Controller.Disable(a.Vector)
	case OpRaise:
		err = m.Controller.Raise(a.Vector)
	case OpClear:
		err = m.Controller.Clear(a.Vector)
	case OpAck:
		err = m.Ack(a.Vector)
	default:
		err = fmt.Errorf("unknown op %d", a.Op)
	}
	if err != nil {
		return fmt.Errorf("sim: %s: %w", a, err)
	}
	return nil
}

// Setup programs the scenario controller state.
func (m *Machine) Setup(s Setup) error {
	for _, v := range s.FIQ {
		if !m.Controller.IsValidVector(v) {
			return fmt.Errorf("sim: fiq %d: %w", v, irq.ErrInvalidVector)
		}
		m.Controller.SetInterruptType(v, irq.TypeFIQ)
	}
	for _, v := range s.Edge {
		if !m.Controller.IsValidVector(v) {
			return fmt.Errorf("sim: edge %d: %w", v, irq.ErrInvalidVector)
		}
		m.Controller.SetActivationType(v, irq.EdgeSensitive)
	}

	vectors := make([]irq.Vector, 0, len(s.Priorities))
	for v := range s.Priorities {
		vectors = append(vectors, v)
	}
	slices.Sort(vectors)
	for _, v := range vectors {
		p := s.Priorities[v]
		if !m.Controller.IsValidVector(v) {
			return fmt.Errorf("sim: priority of %d: %w", v, irq.ErrInvalidVector)
		}
		if p > irq.PriorityLowest {
			return fmt.Errorf("sim: priority %d of vector %d out of range", p, v)
		}
		m.Controller.SetPriority(v, p)
	}

	for _, v := range s.Enable {
		if err := m.Controller.Enable(v); err != nil {
			return fmt.Errorf("sim: enable %d: %w", v, err)
		}
	}
	return nil
}

// Run applies s to a freshly built machine for b and returns the service
// trace. ctx is checked between stimulus steps.
func Run(ctx context.Context, b *board.Board, s *Scenario, opts ...Option) (*Result, error) {
	m, err := NewMachine(b, opts...)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, s)
}

// Run executes s on m. Vectors without a scenario handler are acknowledged
// by a default handler.
func (m *Machine) Run(ctx context.Context, s *Scenario) (*Result, error) {
	if err := m.Setup(s.Setup); err != nil {
		return nil, err
	}

	for v := range s.Handlers {
		if !m.Controller.IsValidVector(v) {
			return nil, fmt.Errorf("sim: handler for %d: %w", v, irq.ErrInvalidVector)
		}
	}

	var runErr error
	for v := irq.Vector(0); v < irq.VectorCount; v++ {
		if !m.Controller.IsValidVector(v) {
			continue
		}
		actions, ok := s.Handlers[v]
		if !ok {
			actions = []Action{{Op: OpAck, Vector: v}}
		}
		if err := m.Handlers.Install(v, func(irq.Vector) {
			for _, a := range actions {
				if err := m.Do(a); err != nil && runErr == nil {
					runErr = fmt.Errorf("handler %d: %w", v, err)
				}
			}
		}); err != nil {
			return nil, err
		}
	}

	m.Start()

	for i, a := range s.Stimulus {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.Do(a); err != nil {
			return nil, fmt.Errorf("stimulus %d: %w", i, err)
		}
		if err := m.CPU.Fault(); err != nil {
			return nil, fmt.Errorf("stimulus %d: %w", i, err)
		}
		if runErr != nil {
			return nil, runErr
		}
	}

	res := &Result{
		Scenario: s.Name,
		Trace:    m.Trace(),
		Stats:    m.Controller.Stats(),
		CPU:      m.CPU.Stats(),
	}
	if s.Expect != nil && !slices.Equal(res.Vectors(), s.Expect) {
		return res, fmt.Errorf("%w: got %v, want %v", ErrUnexpectedOrder, res.Vectors(), s.Expect)
	}

	m.logger.Debug("scenario complete",
		slog.String("scenario", s.Name),
		slog.Int("serviced", len(res.Trace)),
		slog.Int("max_depth", res.Stats.MaxDepth),
	)
	return res, nil
}
