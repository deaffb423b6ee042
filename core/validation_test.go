package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelineLink(target string) PluginSpec {
	return PluginSpec{Name: PipelineLinkName, Attrs: map[string]interface{}{"name": target}}
}

func realPlugin(name string) PluginSpec {
	return PluginSpec{Name: name}
}

// S1: linear two-pipeline link. A sources from fileA and sinks into B;
// B sources from A and sinks to stdout.
func TestValidate_S1LinearLink(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "B",
		SourceSpec: pipelineLink("A"),
		SinkSpecs:  []PluginSpec{realPlugin("stdout")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, result.BuildOrder)
}

// S2: cycle. A sinks into B; B sinks into A.
func TestValidate_S2Cycle(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "B",
		SourceSpec: realPlugin("fileB"),
		SinkSpecs:  []PluginSpec{pipelineLink("A")},
	}))

	_, err := NewTopologyValidator().Validate(topo)
	require.Error(t, err)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.ElementsMatch(t, []string{"A", "B"}, topoErr.Pipelines)
}

func TestValidate_UnknownReferenceRejected(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
		SinkSpecs:  []PluginSpec{pipelineLink("ghost")},
	}))

	_, err := NewTopologyValidator().Validate(topo)
	require.Error(t, err)
}

func TestValidate_MissingSinkRejected(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
	}))

	_, err := NewTopologyValidator().Validate(topo)
	require.Error(t, err)
}

// property 2: build order — for every pair P->Q (P depends on Q), Q is
// constructed before P. Here C depends on B which depends on A.
func TestValidate_BuildOrderRespectsDependencies(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "C",
		SourceSpec: pipelineLink("B"),
		SinkSpecs:  []PluginSpec{realPlugin("stdout")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "B",
		SourceSpec: pipelineLink("A"),
		SinkSpecs:  []PluginSpec{pipelineLink("C")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)

	pos := make(map[string]int, len(result.BuildOrder))
	for i, name := range result.BuildOrder {
		pos[name] = i
	}
	assert.Less(t, pos["A"], pos["B"])
	assert.Less(t, pos["B"], pos["C"])
}

func TestValidate_ObservableSinkWarning(t *testing.T) {
	topo := NewTopology()
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "A",
		SourceSpec: realPlugin("fileA"),
		SinkSpecs:  []PluginSpec{pipelineLink("B")},
	}))
	require.NoError(t, topo.AddPipeline(PipelineSpec{
		Name:       "B",
		SourceSpec: pipelineLink("A"),
		SinkSpecs:  []PluginSpec{realPlugin("stdout")},
	}))

	result, err := NewTopologyValidator().Validate(topo)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "\"A\"")
}
