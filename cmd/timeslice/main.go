// Command timeslice prints the dispatch timing files written by
// irqsim -trace.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/rtirq/internal/timeslice"
)

type timesliceRecord struct {
	timeslice.Summary
	Min time.Duration
}

func (r *timesliceRecord) String() string {
	return fmt.Sprintf("% 16s vector=% 4d count=% 8d sum=% 16s min=% 16s max=% 16s avg=% 16s",
		r.Kind, r.Vector, r.Count,
		r.Total,
		r.Min,
		r.Max,
		r.Mean(),
	)
}

func (r *timesliceRecord) Add(duration time.Duration) {
	r.Count++
	r.Total += duration
	if r.Min == 0 || duration < r.Min {
		r.Min = duration
	}
	if duration > r.Max {
		r.Max = duration
	}
}

type recordKey struct {
	kind   string
	vector uint32
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Timeslice file to read")
	sums := fs.Bool("sums", false, "Print per vector sums of dispatch durations")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open timeslice file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if *sums {
		records := map[recordKey]*timesliceRecord{}
		displayOrder := []recordKey{}
		if err := timeslice.ReadAllRecords(f, func(kind string, vector uint32, duration time.Duration) error {
			key := recordKey{kind, vector}
			record, ok := records[key]
			if !ok {
				displayOrder = append(displayOrder, key)
				record = &timesliceRecord{Summary: timeslice.Summary{Kind: kind, Vector: vector}}
				records[key] = record
			}
			record.Add(duration)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
			os.Exit(1)
		}
		for _, key := range displayOrder {
			fmt.Printf("%s\n", records[key].String())
		}
	} else {
		if err := timeslice.ReadAllRecords(f, func(kind string, vector uint32, duration time.Duration) error {
			fmt.Printf("%s %d %s\n", kind, vector, duration)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
			os.Exit(1)
		}
	}
}
