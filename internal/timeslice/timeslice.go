// Package timeslice records dispatch phase durations per interrupt vector
// into a compact binary stream.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x51524954 // "TIRQ"
	Version uint32 = 1
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

// Kind identifies a measured phase.
type Kind uint32

const InvalidKind = Kind(0)

var (
	kindsMu sync.Mutex
	kinds   = make(map[Kind]string)
)

// RegisterKind allocates a Kind. It is meant to be called from package
// level variable initializers.
func RegisterKind(name string) Kind {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	id := Kind(len(kinds) + 1)
	kinds[id] = name
	return id
}

type record struct {
	Kind     Kind
	Vector   uint32
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w        io.Writer
	records  chan record
	complete chan error
	dropped  atomic.Uint64
}

func (w *writer) run() {
	defer close(w.complete)

	buf := make([]byte, 0, 4096)
	for rec := range w.records {
		if len(buf)+recordSize > cap(buf) {
			if _, err := w.w.Write(buf); err != nil {
				w.complete <- err
				return
			}
			buf = buf[:0]
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.Kind))
		buf = binary.LittleEndian.AppendUint32(buf, rec.Vector)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.Duration))
	}

	if len(buf) > 0 {
		if _, err := w.w.Write(buf); err != nil {
			w.complete <- err
			return
		}
	}

	w.complete <- nil
}

// Close flushes pending records and stops the recording.
func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return fmt.Errorf("timeslice: already closed")
	}

	close(w.records)

	if err := <-w.complete; err != nil {
		return fmt.Errorf("timeslice: write thread: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Enabled reports whether a recording is open.
func Enabled() bool {
	return current.Load() != nil
}

// Record appends a duration for kind and vector. It never blocks: records
// that do not fit the queue are counted as dropped.
func Record(kind Kind, vector uint32, duration time.Duration) {
	w := current.Load()
	if w == nil {
		return
	}
	select {
	case w.records <- record{Kind: kind, Vector: vector, Duration: duration.Nanoseconds()}:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of records lost by the open recording.
func Dropped() uint64 {
	if w := current.Load(); w != nil {
		return w.dropped.Load()
	}
	return 0
}

// StartRecording writes the stream header to w and starts accepting
// records. Only one recording can be open at a time.
func StartRecording(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, fmt.Errorf("timeslice: already open")
	}

	kindsMu.Lock()
	names, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(names)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(names); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}

	rec := &writer{
		w:        w,
		records:  make(chan record, 4096),
		complete: make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, rec) {
		return nil, fmt.Errorf("timeslice: already open")
	}
	go rec.run()

	return rec, nil
}

// ReadAllRecords calls fn for every record of a stream in write order.
func ReadAllRecords(r io.Reader, fn func(kind string, vector uint32, duration time.Duration) error) error {
	buf := bufio.NewReaderSize(r, 4096)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic")
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var names map[Kind]string
	dec := json.NewDecoder(io.LimitReader(buf, int64(hdr.KindsLength)))
	if err := dec.Decode(&names); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		name, ok := names[rec.Kind]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.Kind)
		}
		if err := fn(name, rec.Vector, time.Duration(rec.Duration)); err != nil {
			return err
		}
	}
}

// Summary aggregates the records of one kind and vector.
type Summary struct {
	Kind   string
	Vector uint32
	Count  int
	Max    time.Duration
	Total  time.Duration
}

func (s Summary) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Summarize reads a stream and aggregates it by kind and vector, sorted by
// kind name then vector.
func Summarize(r io.Reader) ([]Summary, error) {
	type key struct {
		kind   string
		vector uint32
	}
	sums := make(map[key]*Summary)

	if err := ReadAllRecords(r, func(kind string, vector uint32, duration time.Duration) error {
		k := key{kind, vector}
		s, ok := sums[k]
		if !ok {
			s = &Summary{Kind: kind, Vector: vector}
			sums[k] = s
		}
		s.Count++
		s.Total += duration
		if duration > s.Max {
			s.Max = duration
		}
		return nil
	}); err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(sums))
	for _, s := range sums {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Vector < out[j].Vector
	})
	return out, nil
}
