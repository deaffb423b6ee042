package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forrest/flowmesh/core"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// chanBuffer is a minimal core.Buffer for runtime tests: Close can be
// observed to have fired more than once, which is exactly what property 7
// (idempotent stop) must rule out.
type chanBuffer struct {
	mu         sync.Mutex
	ch         chan *core.Record
	closeCount int
}

func newChanBuffer() *chanBuffer {
	return &chanBuffer{ch: make(chan *core.Record, 16)}
}

func (b *chanBuffer) Write(ctx context.Context, batch core.Batch) error {
	for _, r := range batch {
		select {
		case b.ch <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *chanBuffer) Read(ctx context.Context, maxWait time.Duration) (core.Batch, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case r := <-b.ch:
		return core.Batch{r}, nil
	case <-timer.C:
		return core.Batch{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *chanBuffer) Commit(ctx context.Context, batch core.Batch) error { return nil }

func (b *chanBuffer) Close() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCount++
	discarded := len(b.ch)
	for i := 0; i < discarded; i++ {
		<-b.ch
	}
	return discarded, nil
}

type noopSource struct{}

func (s *noopSource) Start(ctx context.Context, out core.Buffer) error { return nil }
func (s *noopSource) Stop(ctx context.Context) error                  { return nil }

type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) Output(ctx context.Context, batch core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += len(batch)
	return nil
}

// property 7: calling Stop twice yields the same terminal state and does
// not double-close the buffer.
func TestRuntime_StopIsIdempotent(t *testing.T) {
	buf := newChanBuffer()
	pipeline := core.NewPipeline("p", 1, 10*time.Millisecond, &noopSource{}, buf, nil, []core.Sink{&countingSink{}})

	rt := NewRuntime(pipeline, zerolog.Nop(), 20*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	time.Sleep(10 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err1 := rt.Stop(stopCtx)
	err2 := rt.Stop(stopCtx)
	if err1 != nil {
		t.Fatalf("first Stop() returned an unexpected error: %v", err1)
	}
	if err2 != nil {
		t.Fatalf("second Stop() returned an unexpected error: %v", err2)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned an unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	if pipeline.State() != core.StateStopped {
		t.Errorf("got state %v, want %v", pipeline.State(), core.StateStopped)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.closeCount != 1 {
		t.Errorf("got buffer Close() called %d times, want exactly 1", buf.closeCount)
	}
}

func TestRuntime_ProcessesBufferedRecordsIntoSinks(t *testing.T) {
	buf := newChanBuffer()
	sink := &countingSink{}
	pipeline := core.NewPipeline("p", 1, 10*time.Millisecond, &noopSource{}, buf, nil, []core.Sink{sink})

	rt := NewRuntime(pipeline, zerolog.Nop(), 50*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	if err := buf.Write(context.Background(), core.Batch{core.NewRecord("value", 1), core.NewRecord("value", 2)}); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() returned an unexpected error: %v", err)
	}
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.count != 2 {
		t.Errorf("got %d records reaching the sink, want 2", sink.count)
	}
}

// RecordsProcessed documents itself as counting records that reached at
// least one sink — fanning a batch out to N sinks must not multiply that
// count by N.
func TestRuntime_FanOutCountsRecordsProcessedOncePerBatch(t *testing.T) {
	buf := newChanBuffer()
	sinkA := &countingSink{}
	sinkB := &countingSink{}
	sinkC := &countingSink{}
	pipelineName := "fanout-counts-once"
	pipeline := core.NewPipeline(pipelineName, 1, 10*time.Millisecond, &noopSource{}, buf, nil, []core.Sink{sinkA, sinkB, sinkC})

	rt := NewRuntime(pipeline, zerolog.Nop(), 50*time.Millisecond)

	before := testutil.ToFloat64(core.RecordsProcessed.WithLabelValues(pipelineName))

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	if err := buf.Write(context.Background(), core.Batch{core.NewRecord("value", 1), core.NewRecord("value", 2)}); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() returned an unexpected error: %v", err)
	}
	<-done

	after := testutil.ToFloat64(core.RecordsProcessed.WithLabelValues(pipelineName))
	if got := after - before; got != 2 {
		t.Errorf("got RecordsProcessed delta %v across 3 sinks, want 2 (counted once per batch, not once per sink)", got)
	}
	if sinkA.count != 2 || sinkB.count != 2 || sinkC.count != 2 {
		t.Errorf("expected every sink to receive the batch, got sinkA=%d sinkB=%d sinkC=%d", sinkA.count, sinkB.count, sinkC.count)
	}
}

// property S6: records still queued when the grace period runs out are
// dropped and counted, not silently discarded.
func TestRuntime_DrainOnShutdownCountsGraceExhaustedDrops(t *testing.T) {
	buf := newChanBuffer()
	leftover := core.Batch{
		core.NewRecord("value", 1),
		core.NewRecord("value", 2),
		core.NewRecord("value", 3),
	}
	for _, r := range leftover {
		buf.ch <- r
	}

	pipelineName := "grace-exhausted-drops"
	pipeline := core.NewPipeline(pipelineName, 1, 10*time.Millisecond, &noopSource{}, buf, nil, []core.Sink{&countingSink{}})

	// graceful=0: drainOnShutdown's deadline is already past on entry, so
	// it closes the buffer immediately instead of looping to read it down.
	rt := NewRuntime(pipeline, zerolog.Nop(), 0)

	before := testutil.ToFloat64(core.RecordsDropped.WithLabelValues(pipelineName, "buffer_grace_exhausted"))
	rt.drainOnShutdown()
	after := testutil.ToFloat64(core.RecordsDropped.WithLabelValues(pipelineName, "buffer_grace_exhausted"))

	if got := after - before; got != float64(len(leftover)) {
		t.Errorf("got RecordsDropped{reason=buffer_grace_exhausted} delta %v, want %d", got, len(leftover))
	}
}
