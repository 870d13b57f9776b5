// Command irqsim runs interrupt scenarios against a simulated LPC32xx
// board and prints the order in which vectors were serviced.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tinyrange/rtirq/internal/board"
	"github.com/tinyrange/rtirq/internal/sim"
	"github.com/tinyrange/rtirq/internal/timeslice"
)

type app struct {
	out    io.Writer
	styles styles
	logger *slog.Logger
}

func (a *app) run(args []string) error {
	fs := flag.NewFlagSet("irqsim", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: irqsim [flags] scenario.yaml\n\n")
		fs.PrintDefaults()
	}

	boardFile := fs.String("board", "", "board description file (default: built-in lpc32xx)")
	traceFile := fs.String("trace", "", "record dispatch timings to a file")
	summary := fs.Bool("summary", false, "print dispatch timings per vector")
	soak := fs.Int("soak", 0, "run the scenario this many times and report totals")
	parallel := fs.Int("parallel", runtime.GOMAXPROCS(0), "concurrent machines while soaking")
	dump := fs.Bool("dump", false, "print the controller registers after the run")
	devmem := fs.Bool("devmem", false, "print the controller registers of this machine through "+devmemPath+" and exit")
	verbose := fs.Bool("v", false, "log every dispatch")
	color := fs.String("color", "auto", "colorize output: auto, always or never")

	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	switch *color {
	case "always":
		a.styles = newStyles(true)
	case "never":
		a.styles = newStyles(false)
	case "auto":
		f, ok := a.out.(*os.File)
		a.styles = newStyles(ok && term.IsTerminal(int(f.Fd())))
	default:
		return fmt.Errorf("invalid -color %q", *color)
	}

	b := board.Default()
	if *boardFile != "" {
		var err error
		if b, err = board.Load(*boardFile); err != nil {
			return err
		}
	}

	if *devmem {
		return a.dumpDevmem(b)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one scenario file")
	}
	scenario, err := sim.LoadScenario(fs.Arg(0))
	if err != nil {
		return err
	}

	var (
		timings   bytes.Buffer
		recording io.Closer
	)
	stopRecording := func() error {
		if recording == nil {
			return nil
		}
		if dropped := timeslice.Dropped(); dropped > 0 {
			a.logger.Warn("timing records dropped", slog.Uint64("dropped", dropped))
		}
		err := recording.Close()
		recording = nil
		return err
	}
	defer stopRecording()

	if *traceFile != "" || *summary {
		var w io.Writer = &timings
		if *traceFile != "" {
			f, err := os.Create(*traceFile)
			if err != nil {
				return fmt.Errorf("failed to create trace file: %w", err)
			}
			defer f.Close()
			if *summary {
				w = io.MultiWriter(f, &timings)
			} else {
				w = f
			}
		}
		if recording, err = timeslice.StartRecording(w); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
	}

	ctx := context.Background()
	if *soak > 0 {
		if err := a.soak(ctx, b, scenario, *soak, *parallel); err != nil {
			return err
		}
	} else {
		m, err := sim.NewMachine(b, sim.WithLogger(a.logger))
		if err != nil {
			return err
		}
		res, runErr := m.Run(ctx, scenario)
		if res != nil {
			a.printTrace(b, res)
		}
		if *dump {
			a.printRegisters(b, m.Bus)
		}
		if runErr != nil {
			return runErr
		}
	}

	if *summary {
		// The summary needs every record flushed.
		if err := stopRecording(); err != nil {
			return err
		}
		return a.printSummary(b, &timings)
	}
	return nil
}

// soak runs n independent machines, at most parallel at a time.
func (a *app) soak(ctx context.Context, b *board.Board, s *sim.Scenario, n, parallel int) error {
	if parallel < 1 {
		parallel = 1
	}

	bar := progressbar.Default(int64(n), "soak "+s.Name)
	defer bar.Close()

	var (
		mu         sync.Mutex
		dispatched uint64
		spurious   uint64
		maxDepth   int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range n {
		g.Go(func() error {
			res, err := sim.Run(ctx, b, s, sim.WithLogger(a.logger))
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			mu.Lock()
			dispatched += res.Stats.Dispatched
			spurious += res.Stats.Spurious
			maxDepth = max(maxDepth, res.Stats.MaxDepth)
			mu.Unlock()
			bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	bar.Finish()

	fmt.Fprintf(a.out, "%s %d runs, %d dispatched, %d spurious, max depth %d\n",
		a.styles.heading.Styled(s.Name), n, dispatched, spurious, maxDepth)
	return nil
}

func main() {
	a := &app{out: os.Stdout}
	if err := a.run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "irqsim: %v\n", err)
		os.Exit(1)
	}
}
