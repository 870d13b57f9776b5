package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/rtirq/internal/board"
	"github.com/tinyrange/rtirq/internal/irq"
	"github.com/tinyrange/rtirq/internal/sim"
	"github.com/tinyrange/rtirq/internal/timeslice"
)

const nameWidth = 16

type styles struct {
	heading ansi.Style
	dim     ansi.Style
	nested  ansi.Style
}

func newStyles(color bool) styles {
	if !color {
		return styles{}
	}
	return styles{
		heading: ansi.Style{}.Bold(),
		dim:     ansi.Style{}.Faint(),
		nested:  ansi.Style{}.Underline(true),
	}
}

// pad truncates or pads s to exactly width terminal cells.
func pad(s string, width int) string {
	s = ansi.Truncate(s, width, "…")
	if w := ansi.StringWidth(s); w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}

func (a *app) printTrace(b *board.Board, res *sim.Result) {
	fmt.Fprintf(a.out, "%s\n", a.styles.heading.Styled(
		fmt.Sprintf("%-6s %s %-8s %s", "VECTOR", pad("NAME", nameWidth), "PRIORITY", "DEPTH")))

	for _, ev := range res.Trace {
		name := pad(strings.Repeat("  ", ev.Depth-1)+b.VectorName(ev.Vector), nameWidth)
		line := fmt.Sprintf("%-6d %s %-8d %d", ev.Vector, name, ev.Priority, ev.Depth)
		if ev.Depth > 1 {
			line = a.styles.nested.Styled(line)
		}
		fmt.Fprintln(a.out, line)
	}

	fmt.Fprintln(a.out, a.styles.dim.Styled(fmt.Sprintf(
		"%s: %d dispatched, %d spurious, max depth %d",
		res.Scenario, res.Stats.Dispatched, res.Stats.Spurious, res.Stats.MaxDepth)))
}

func (a *app) printRegisters(b *board.Board, bus irq.Bus) {
	cfg, err := b.Config()
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return
	}

	header := pad("MODULE", 8)
	for _, reg := range irq.Registers {
		header += fmt.Sprintf(" %-10s", reg)
	}
	fmt.Fprintln(a.out, a.styles.heading.Styled(strings.TrimRight(header, " ")))

	for module := 0; module < irq.ModuleCount; module++ {
		name := fmt.Sprintf("%d", module)
		if module < len(b.Modules) && b.Modules[module].Name != "" {
			name = b.Modules[module].Name
		}
		row := pad(name, 8)
		for _, reg := range irq.Registers {
			row += fmt.Sprintf(" 0x%08x", bus.Load32(irq.RegisterAddress(cfg.Base, module, reg)))
		}
		fmt.Fprintln(a.out, row)
	}
	fmt.Fprintf(a.out, "%s 0x%08x\n", pad("SW_INT", 8), bus.Load32(cfg.SoftwareInterrupt))
}

func (a *app) printSummary(b *board.Board, r io.Reader) error {
	sums, err := timeslice.Summarize(r)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s\n", a.styles.heading.Styled(fmt.Sprintf("%-12s %s %8s %12s %12s",
		"PHASE", pad("VECTOR", nameWidth), "COUNT", "MEAN", "MAX")))
	for _, s := range sums {
		fmt.Fprintf(a.out, "%-12s %s %8d %12s %12s\n",
			s.Kind, pad(b.VectorName(irq.Vector(s.Vector)), nameWidth), s.Count, s.Mean(), s.Max)
	}
	return nil
}
