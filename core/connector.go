package core

import (
	"context"
	"sync"
)

// PipelineConnector is the Pipeline Connector (C4, spec §4.4): a single
// object that is simultaneously a Sink in its upstream pipeline and a
// Source in its downstream pipeline, passing records in-process.
//
// Its downstream name is fixed at construction; its upstream name is
// recorded separately once the builder wires the producing pipeline, so
// a connector can exist (registered, ready to accept a Source role)
// before its upstream is known.
type PipelineConnector struct {
	downstreamName string
	upstreamName   string

	mu     sync.RWMutex
	target Buffer
	ready  chan struct{}
	closed bool
}

// NewPipelineConnector creates a connector that will act as downstream's
// Source once Start is called with downstream's real buffer.
func NewPipelineConnector(downstreamName string) *PipelineConnector {
	return &PipelineConnector{
		downstreamName: downstreamName,
		ready:          make(chan struct{}),
	}
}

// DownstreamName returns the pipeline this connector feeds.
func (c *PipelineConnector) DownstreamName() string { return c.downstreamName }

// UpstreamName returns the pipeline this connector drains, if set.
func (c *PipelineConnector) UpstreamName() string { return c.upstreamName }

// SetUpstream records the producing pipeline's name; called once by the
// builder when it wires the connector as that pipeline's sink.
func (c *PipelineConnector) SetUpstream(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamName = name
}

// Start implements Source: the downstream pipeline's runtime calls this
// with its real buffer as the write target. Writes arriving through
// Output before Start has run block until it does.
func (c *PipelineConnector) Start(ctx context.Context, out Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		c.target = out
		close(c.ready)
	}
	return nil
}

// Stop implements Source: marks the connector closed so further writes
// fail fast instead of blocking forever on a buffer that will never
// drain again.
func (c *PipelineConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Output implements Sink: the upstream pipeline calls this exactly as it
// would any other sink. It enqueues into the downstream buffer through
// the same write path a direct write would use (§4.4), including
// blocking for backpressure.
func (c *PipelineConnector) Output(ctx context.Context, batch Batch) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.RLock()
	target := c.target
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return &BufferClosedError{Pipeline: c.downstreamName}
	}
	return target.Write(ctx, batch)
}

// ConnectorRegistry enforces Invariant/property: "a single named
// downstream pipeline may have at most one PipelineConnector acting as
// its source" (§4.4, testable property 4). It is owned by the builder
// for the duration of one build, not process-global (DESIGN NOTES §9).
type ConnectorRegistry struct {
	mu           sync.Mutex
	byDownstream map[string]*PipelineConnector
}

// NewConnectorRegistry creates an empty connector registry.
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{byDownstream: make(map[string]*PipelineConnector)}
}

// GetOrCreate returns the existing connector for downstream, or creates
// and registers a new one if none exists yet.
func (r *ConnectorRegistry) GetOrCreate(downstream string) *PipelineConnector {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byDownstream[downstream]; ok {
		return c
	}
	c := NewPipelineConnector(downstream)
	r.byDownstream[downstream] = c
	return c
}

// Get returns the connector registered for downstream, if any.
func (r *ConnectorRegistry) Get(downstream string) (*PipelineConnector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byDownstream[downstream]
	return c, ok
}

// All returns every connector created during this build, for tests and
// for counting (testable property 4).
func (r *ConnectorRegistry) All() []*PipelineConnector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PipelineConnector, 0, len(r.byDownstream))
	for _, c := range r.byDownstream {
		out = append(out, c)
	}
	return out
}
