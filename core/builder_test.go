package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (s *stubSource) Start(ctx context.Context, out Buffer) error { return nil }
func (s *stubSource) Stop(ctx context.Context) error              { return nil }

type stubSink struct{}

func (s *stubSink) Output(ctx context.Context, batch Batch) error { return nil }

type stubProcessor struct{}

func (s *stubProcessor) Execute(ctx context.Context, batch Batch) (Batch, error) { return batch, nil }

type singleThreadProcessor struct{}

func (s *singleThreadProcessor) Execute(ctx context.Context, batch Batch) (Batch, error) {
	return batch, nil
}
func (s *singleThreadProcessor) Capabilities() Capability { return CapabilitySingleThread }

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("stub-source", KindSource, func(attrs map[string]interface{}) (interface{}, error) {
		return &stubSource{}, nil
	})
	r.Register("stub-sink", KindSink, func(attrs map[string]interface{}) (interface{}, error) {
		return &stubSink{}, nil
	})
	r.Register(DefaultBufferPluginName, KindBuffer, func(attrs map[string]interface{}) (interface{}, error) {
		return &stubBuffer{}, nil
	})
	r.Register("stub-processor", KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		return &stubProcessor{}, nil
	})
	r.Register("single-thread-processor", KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		return &singleThreadProcessor{}, nil
	})
	return r
}

// stubBuffer is a minimal Buffer good enough for build-time wiring tests
// that never actually run the pipeline.
type stubBuffer struct{}

func (b *stubBuffer) Write(ctx context.Context, batch Batch) error { return nil }
func (b *stubBuffer) Read(ctx context.Context, maxWait time.Duration) (Batch, error) {
	return Batch{}, nil
}
func (b *stubBuffer) Commit(ctx context.Context, batch Batch) error { return nil }
func (b *stubBuffer) Close() (int, error)                          { return 0, nil }

func buildContext(t *testing.T, topo *Topology) *BuildContext {
	t.Helper()
	return &BuildContext{
		Topology: topo,
		Registry: testRegistry(),
	}
}

// S1: connector uniqueness — exactly one PipelineConnector is created for
// downstream pipeline B, regardless of build order.
func TestBuilder_S1ConnectorUniqueness(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("stub-source"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "B",
		SourceSpec: pipelineLink("A"),
		SinkSpecs:  []PluginSpec{realPlugin("stub-sink")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	builder := NewBuilder(buildContext(t, topo))
	runnable, errs := builder.Build(result.BuildOrder)
	require.Empty(t, errs)
	require.Len(t, runnable, 2)

	connectors := builder.Connectors().All()
	require.Len(t, connectors, 1)
	assert.Equal(t, "B", connectors[0].DownstreamName())
	assert.Equal(t, "A", connectors[0].UpstreamName())

	// A's sink list contains the connector, B's source is the connector.
	assert.Same(t, runnable["B"].Source, Source(connectors[0]))
	found := false
	for _, sink := range runnable["A"].Sinks {
		if sink == Sink(connectors[0]) {
			found = true
		}
	}
	assert.True(t, found, "A's sink list should contain the shared connector")
}

// S3: build failure unwind. A->B->C, B's processor plugin is unknown.
// The runnable map must exclude A, B, and C.
func TestBuilder_S3UnwindExcludesWholeComponent(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("stub-source"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:           "B",
		SourceSpec:     pipelineLink("A"),
		ProcessorSpecs: []PluginSpec{realPlugin("does-not-exist")},
		SinkSpecs:      []PluginSpec{pipelineLink("C")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "C",
		SourceSpec: pipelineLink("B"),
		SinkSpecs:  []PluginSpec{realPlugin("stub-sink")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	builder := NewBuilder(buildContext(t, topo))
	runnable, errs := builder.Build(result.BuildOrder)
	assert.NotEmpty(t, errs)
	assert.Empty(t, runnable)
}

// S4: single-thread multiplicity. workers=4, a processor stage declaring
// single-thread affinity produces exactly 4 instances.
func TestBuilder_S4SingleThreadMultiplicity(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:           "A",
		Workers:        4,
		SourceSpec:     realPlugin("stub-source"),
		ProcessorSpecs: []PluginSpec{realPlugin("single-thread-processor")},
		SinkSpecs:      []PluginSpec{realPlugin("stub-sink")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	builder := NewBuilder(buildContext(t, topo))
	runnable, errs := builder.Build(result.BuildOrder)
	require.Empty(t, errs)

	stage := runnable["A"].Stages[0]
	assert.True(t, stage.SingleThread)
	assert.Len(t, stage.Instances, 4)
}

// A shared (non-single-thread) processor stage produces exactly 1 instance
// regardless of worker count.
func TestBuilder_SharedProcessorSingleInstance(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:           "A",
		Workers:        4,
		SourceSpec:     realPlugin("stub-source"),
		ProcessorSpecs: []PluginSpec{realPlugin("stub-processor")},
		SinkSpecs:      []PluginSpec{realPlugin("stub-sink")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	builder := NewBuilder(buildContext(t, topo))
	runnable, errs := builder.Build(result.BuildOrder)
	require.Empty(t, errs)

	stage := runnable["A"].Stages[0]
	assert.False(t, stage.SingleThread)
	assert.Len(t, stage.Instances, 1)
}

func TestBuilder_UnknownSourcePluginFailsOnlyThatComponent(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "Standalone",
		SourceSpec: realPlugin("does-not-exist"),
		SinkSpecs:  []PluginSpec{realPlugin("stub-sink")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "Independent",
		SourceSpec: realPlugin("stub-source"),
		SinkSpecs:  []PluginSpec{realPlugin("stub-sink")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	builder := NewBuilder(buildContext(t, topo))
	runnable, errs := builder.Build(result.BuildOrder)
	assert.Len(t, errs, 1)
	assert.NotContains(t, runnable, "Standalone")
	assert.Contains(t, runnable, "Independent")
}
