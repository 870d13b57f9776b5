package chipset

import (
	"fmt"
	"sort"
	"sync"
)

// LineSet owns the named interrupt request lines of a board and forwards
// level changes to the interrupt controller inputs.
type LineSet struct {
	mu sync.Mutex

	sink InterruptSink

	lines map[uint8]*lineState
}

// NewLineSet builds a LineSet that forwards assertions to the provided sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint8]*lineState),
	}
}

// AllocateLine returns a LineInterrupt handle for the given IRQ line. A line
// can only be allocated once.
func (l *LineSet) AllocateLine(irq uint8, name string) (LineInterrupt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.lines[irq]; ok {
		return nil, fmt.Errorf("chipset: line %d already allocated to %q", irq, state.name)
	}
	if name == "" {
		name = fmt.Sprintf("irq%d", irq)
	}
	l.lines[irq] = &lineState{name: name}
	return &lineHandle{owner: l, irq: irq}, nil
}

// Line returns the handle of an allocated line.
func (l *LineSet) Line(irq uint8) (LineInterrupt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[irq]; !ok {
		return nil, false
	}
	return &lineHandle{owner: l, irq: irq}, true
}

// LineInfo describes an allocated line.
type LineInfo struct {
	IRQ   uint8
	Name  string
	Level bool
}

// Lines returns every allocated line ordered by IRQ number.
func (l *LineSet) Lines() []LineInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LineInfo, 0, len(l.lines))
	for irq, state := range l.lines {
		out = append(out, LineInfo{IRQ: irq, Name: state.name, Level: state.level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IRQ < out[j].IRQ })
	return out
}

type lineState struct {
	name  string
	level bool
}

type lineHandle struct {
	owner *LineSet
	irq   uint8
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.irq, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.pulse(h.irq)
}

func (l *LineSet) setLevel(irq uint8, high bool) {
	l.mu.Lock()
	state := l.lines[irq]
	if state == nil {
		state = &lineState{name: fmt.Sprintf("irq%d", irq)}
		l.lines[irq] = state
	}
	changed := state.level != high
	state.level = high
	l.mu.Unlock()

	// The sink may trap into interrupt handlers that touch other lines, so
	// it is called without the lock.
	if changed {
		l.sink.SetIRQ(irq, high)
	}
}

func (l *LineSet) pulse(irq uint8) {
	l.mu.Lock()
	state := l.lines[irq]
	level := state != nil && state.level
	l.mu.Unlock()

	if level {
		return
	}
	l.sink.SetIRQ(irq, true)
	l.sink.SetIRQ(irq, false)
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetIRQ(uint8, bool) {}
