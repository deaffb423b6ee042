package core

import "time"

// PluginSpec is a plugin name plus an untyped mapping of configuration
// attributes (§3). The reserved name "pipeline" with attribute
// name=<X> denotes an in-process link to pipeline X rather than a real
// plugin.
type PluginSpec struct {
	Name  string
	Attrs map[string]interface{}
}

// PipelineLinkName is the reserved PluginSpec.Name that marks a
// source/sink as an in-process link to another pipeline (§3, §6).
const PipelineLinkName = "pipeline"

// IsPipelineLink reports whether this spec denotes a pipeline link rather
// than a real plugin.
func (s PluginSpec) IsPipelineLink() bool {
	return s.Name == PipelineLinkName
}

// LinkTarget returns the referenced pipeline name for a pipeline-link
// spec. Callers must check IsPipelineLink first.
func (s PluginSpec) LinkTarget() string {
	name, _ := s.Attrs["name"].(string)
	return name
}

// DefaultReadBatchDelay is used when a PipelineSpec omits delay (§6).
const DefaultReadBatchDelay = 3 * time.Second

// PipelineSpec is the declarative description of one named pipeline (§3).
type PipelineSpec struct {
	Name           string
	Workers        int
	ReadBatchDelay time.Duration
	SourceSpec     PluginSpec
	BufferSpec     *PluginSpec
	ProcessorSpecs []PluginSpec
	SinkSpecs      []PluginSpec
}

// normalize fills in the defaults spec.md §3/§6 describe for an
// omitted field: workers defaults to 1, delay defaults to 3s.
func (s *PipelineSpec) normalize() {
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.ReadBatchDelay <= 0 {
		s.ReadBatchDelay = DefaultReadBatchDelay
	}
}

// Topology is the in-memory form of the declarative document: a set of
// named pipelines, produced by an external parser (§4.2) and owned
// immutably by the core once parsed.
type Topology struct {
	pipelines map[string]*PipelineSpec
	order     []string // insertion order, used to break validator ties
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{pipelines: make(map[string]*PipelineSpec)}
}

// AddPipeline registers a pipeline spec, enforcing Invariant 1 (name
// uniqueness within the topology, and non-emptiness).
func (t *Topology) AddPipeline(spec PipelineSpec) error {
	if spec.Name == "" {
		return NewTopologyError("pipeline name must not be empty")
	}
	if _, exists := t.pipelines[spec.Name]; exists {
		return NewTopologyError("duplicate pipeline name", spec.Name)
	}
	spec.normalize()
	t.pipelines[spec.Name] = &spec
	t.order = append(t.order, spec.Name)
	return nil
}

// Pipeline returns the spec registered under name, if any.
func (t *Topology) Pipeline(name string) (*PipelineSpec, bool) {
	spec, ok := t.pipelines[name]
	return spec, ok
}

// Names returns pipeline names in insertion order.
func (t *Topology) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of pipelines in the topology.
func (t *Topology) Len() int {
	return len(t.pipelines)
}
