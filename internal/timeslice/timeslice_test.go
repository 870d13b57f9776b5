package timeslice

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var (
	timesliceA = RegisterKind("a")
	timesliceB = RegisterKind("b")
)

func TestTimeslice(t *testing.T) {
	var buf bytes.Buffer
	func() {
		writer, err := StartRecording(&buf)
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		defer writer.Close()

		if !Enabled() {
			t.Fatalf("expected recording to be enabled")
		}

		Record(timesliceA, 3, 100*time.Millisecond)
		Record(timesliceB, 7, 200*time.Millisecond)
	}()

	if Enabled() {
		t.Fatalf("expected recording to be disabled after close")
	}

	type seenRecord struct {
		kind   string
		vector uint32
		d      time.Duration
	}
	var seen []seenRecord
	if err := ReadAllRecords(bytes.NewReader(buf.Bytes()), func(kind string, vector uint32, duration time.Duration) error {
		seen = append(seen, seenRecord{kind, vector, duration})
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 records, got %d", len(seen))
	}
	if seen[0] != (seenRecord{"a", 3, 100 * time.Millisecond}) {
		t.Fatalf("unexpected first record: %+v", seen[0])
	}
	if seen[1] != (seenRecord{"b", 7, 200 * time.Millisecond}) {
		t.Fatalf("unexpected second record: %+v", seen[1])
	}
}

func TestRecordWithoutWriter(t *testing.T) {
	Record(timesliceA, 1, time.Second)
	if Dropped() != 0 {
		t.Fatalf("expected no dropped records without a writer")
	}
}

func TestStartRecordingTwice(t *testing.T) {
	var buf bytes.Buffer
	writer, err := StartRecording(&buf)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer writer.Close()

	if _, err := StartRecording(&buf); err == nil {
		t.Fatalf("expected second StartRecording to fail")
	}
}

func TestSummarize(t *testing.T) {
	var buf bytes.Buffer
	func() {
		writer, err := StartRecording(&buf)
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		defer writer.Close()

		Record(timesliceB, 2, 30*time.Microsecond)
		Record(timesliceA, 9, 10*time.Microsecond)
		Record(timesliceA, 9, 50*time.Microsecond)
		Record(timesliceA, 1, 5*time.Microsecond)
	}()

	sums, err := Summarize(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(sums))
	}
	if sums[0].Kind != "a" || sums[0].Vector != 1 {
		t.Fatalf("unexpected order: %+v", sums)
	}
	got := sums[1]
	if got.Kind != "a" || got.Vector != 9 || got.Count != 2 || got.Max != 50*time.Microsecond {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if got.Mean() != 30*time.Microsecond {
		t.Fatalf("mean = %v, want 30µs", got.Mean())
	}
}

func TestReadInvalidMagic(t *testing.T) {
	data := make([]byte, 64)
	err := ReadAllRecords(bytes.NewReader(data), func(string, uint32, time.Duration) error { return nil })
	if err == nil {
		t.Fatalf("expected error for invalid magic")
	}
}

func BenchmarkTimesliceTempFile(b *testing.B) {
	tmpfile := filepath.Join(b.TempDir(), "timeslice.log")

	var count uint64
	func() {
		f, err := os.Create(tmpfile)
		if err != nil {
			b.Fatalf("Create: %v", err)
		}
		defer f.Close()

		writer, err := StartRecording(f)
		if err != nil {
			b.Fatalf("StartRecording: %v", err)
		}
		defer writer.Close()

		for b.Loop() {
			Record(timesliceA, 1, 100*time.Nanosecond)
			Record(timesliceB, 2, 200*time.Nanosecond)
			count += 2
		}
		b.ReportMetric(float64(Dropped()), "dropped")
	}()

	b.ReportMetric(float64(count), "records")
}
