package components

import (
	"context"
	"time"

	"github.com/forrest/flowmesh/core"
)

func init() {
	core.DefaultRegistry.Register("memory", core.KindBuffer, func(attrs map[string]interface{}) (interface{}, error) {
		capacity := intAttr(attrs, "capacity", 256)
		pipeline, _ := attrs["pipeline"].(string)
		return NewMemoryBuffer(pipeline, capacity), nil
	})
}

// MemoryBuffer is an in-memory channel-backed Buffer (§4.2 "default
// implied if omitted"): the only object concurrently read and written in
// the runtime, so its thread-safety is the whole of the Buffer contract.
type MemoryBuffer struct {
	pipeline string
	ch       chan *core.Record
	closed   chan struct{}
}

// NewMemoryBuffer creates a buffer holding at most capacity records
// before Write blocks (backpressure).
func NewMemoryBuffer(pipeline string, capacity int) *MemoryBuffer {
	return &MemoryBuffer{
		pipeline: pipeline,
		ch:       make(chan *core.Record, capacity),
		closed:   make(chan struct{}),
	}
}

// Write enqueues every record in batch, blocking on a full buffer until
// space frees up, ctx is canceled, or the buffer is closed.
func (b *MemoryBuffer) Write(ctx context.Context, batch core.Batch) error {
	for _, record := range batch {
		select {
		case b.ch <- record:
		case <-b.closed:
			return &core.BufferClosedError{Pipeline: b.pipeline}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.pipeline != "" {
		core.BufferOccupancy.WithLabelValues(b.pipeline).Set(float64(len(b.ch)))
	}
	return nil
}

// Read blocks up to maxWait accumulating whatever is already queued. If
// nothing arrives within maxWait it returns an empty batch rather than
// an error, matching §4.7's "read a batch, blocking up to
// readBatchDelay" — an empty read is not itself a failure.
func (b *MemoryBuffer) Read(ctx context.Context, maxWait time.Duration) (core.Batch, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var batch core.Batch
	select {
	case record, ok := <-b.ch:
		if !ok {
			return nil, &core.BufferClosedError{Pipeline: b.pipeline}
		}
		batch = append(batch, record)
	case <-timer.C:
		return core.Batch{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Drain whatever else is immediately available without waiting
	// again, so one slow trickle doesn't force single-record batches.
drain:
	for {
		select {
		case record, ok := <-b.ch:
			if !ok {
				break drain
			}
			batch = append(batch, record)
		default:
			break drain
		}
	}

	if b.pipeline != "" {
		core.BufferOccupancy.WithLabelValues(b.pipeline).Set(float64(len(b.ch)))
	}
	return batch, nil
}

// Commit acknowledges a batch. The in-memory buffer has nothing further
// to do: once a record leaves the channel it cannot be redelivered, so a
// crash between Read and Commit loses it. Delivery through this buffer
// is at-most-once, not at-least-once.
func (b *MemoryBuffer) Commit(ctx context.Context, batch core.Batch) error {
	return nil
}

// Close marks the buffer closed; further writes fail with
// BufferClosedError instead of blocking forever. It drains whatever is
// still queued and reports that count, so a caller shutting down past
// its grace period can record the records it is about to discard (§4.7).
func (b *MemoryBuffer) Close() (int, error) {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}

	discarded := 0
drain:
	for {
		select {
		case <-b.ch:
			discarded++
		default:
			break drain
		}
	}
	if b.pipeline != "" {
		core.BufferOccupancy.WithLabelValues(b.pipeline).Set(0)
	}
	return discarded, nil
}

func intAttr(attrs map[string]interface{}, key string, def int) int {
	v, ok := attrs[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
