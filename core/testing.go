package core

import (
	"context"
	"testing"
	"time"
)

// TestProcessor runs a Processor's Execute once against input and asserts
// the resulting batch's event payloads match expected, in order.
func TestProcessor(t *testing.T, p Processor, input Batch, expected []interface{}) {
	t.Helper()

	out, err := p.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute() returned an unexpected error: %v", err)
	}
	if len(out) != len(expected) {
		t.Fatalf("Execute() returned %d records, want %d", len(out), len(expected))
	}
	for i, want := range expected {
		if out[i].Event != want {
			t.Errorf("record %d: got event %v, want %v", i, out[i].Event, want)
		}
	}
}

// TestSink runs a Sink's Output once and fails the test if it errors.
func TestSink(t *testing.T, s Sink, batch Batch) {
	t.Helper()
	if err := s.Output(context.Background(), batch); err != nil {
		t.Fatalf("Output() returned an unexpected error: %v", err)
	}
}

// TestSourceProducesInto starts src, waits up to timeout for at least
// one write to reach buf, then stops src.
func TestSourceProducesInto(t *testing.T, src Source, buf Buffer, timeout time.Duration) Batch {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := src.Start(ctx, buf); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	defer func() {
		if err := src.Stop(context.Background()); err != nil {
			t.Errorf("Stop() returned an unexpected error: %v", err)
		}
	}()

	batch, err := buf.Read(ctx, timeout)
	if err != nil {
		t.Fatalf("Read() returned an unexpected error: %v", err)
	}
	return batch
}
