package core

import "time"

// DefaultBufferPluginName is the plugin name used when a PipelineSpec
// omits bufferSpec (§3 "default implied if omitted").
const DefaultBufferPluginName = "memory"

// BuildContext carries everything the builder needs beyond the topology
// itself: where to look up plugin constructors, and how to reach other
// cluster peers for processors that require forwarding.
type BuildContext struct {
	Topology        *Topology
	Registry        *Registry
	Selector        PeerSelector
	Transport       PeerTransport
	PeerMaxAttempts int
	PeerBaseBackoff time.Duration
}

// Builder is the Pipeline Builder (C6, spec §4.6). It walks a validated
// build order, constructing plugin instances via the Factory, wiring
// PipelineConnectors, wrapping peer-forwarding processors, and unwinding
// the transitively connected pipelines of anything that fails to build.
type Builder struct {
	ctx        *BuildContext
	factory    *Factory
	connectors *ConnectorRegistry
	graph      *referenceGraph

	runnable map[string]*Pipeline
	failed   map[string]bool
}

// NewBuilder creates a builder over ctx. Build may be called once per
// Builder instance with the order returned by TopologyValidator.Validate.
func NewBuilder(ctx *BuildContext) *Builder {
	return &Builder{
		ctx:        ctx,
		factory:    NewFactory(ctx.Registry),
		connectors: NewConnectorRegistry(),
		graph:      buildReferenceGraph(ctx.Topology),
		runnable:   make(map[string]*Pipeline),
		failed:     make(map[string]bool),
	}
}

// Build walks order (dependencies before dependents) and returns the
// runnable map of successfully built pipelines plus the errors that
// caused any pipeline (and its connected component) to be excluded.
func (b *Builder) Build(order []string) (map[string]*Pipeline, []error) {
	var errs []error
	for _, name := range order {
		if b.failed[name] {
			continue
		}
		if _, ok := b.runnable[name]; ok {
			continue
		}
		if err := b.buildPipeline(name); err != nil {
			errs = append(errs, err)
		}
	}
	return b.runnable, errs
}

// Connectors exposes the registry so callers (and tests) can check
// connector uniqueness (testable property 4).
func (b *Builder) Connectors() *ConnectorRegistry {
	return b.connectors
}

// buildPipeline builds exactly one pipeline. The runnable-map check at
// the top is the re-entrancy guard described in §4.6 and §9: resolving a
// pipeline-link source may recurse into this method for the upstream
// pipeline, and a pipeline already present in the runnable map is never
// built twice.
func (b *Builder) buildPipeline(name string) error {
	if _, ok := b.runnable[name]; ok {
		return nil
	}
	if b.failed[name] {
		return NewPluginLoadError(name, name, KindSource, nil)
	}

	spec, ok := b.ctx.Topology.Pipeline(name)
	if !ok {
		err := NewTopologyError("pipeline not found during build", name)
		b.unwind(name)
		return err
	}

	source, err := b.resolveSource(name, spec)
	if err != nil {
		b.unwind(name)
		return err
	}

	buffer, err := b.resolveBuffer(name, spec)
	if err != nil {
		b.unwind(name)
		return err
	}

	stages, err := b.resolveStages(name, spec)
	if err != nil {
		b.unwind(name)
		return err
	}

	sinks, err := b.resolveSinks(name, spec)
	if err != nil {
		b.unwind(name)
		return err
	}

	pipeline := NewPipeline(name, spec.Workers, spec.ReadBatchDelay, source, buffer, stages, sinks)
	wirePeerForwardingErrorReporting(stages, pipeline)
	b.runnable[name] = pipeline
	return nil
}

// wirePeerForwardingErrorReporting points every peer-forwarding decorator
// built for this pipeline at its ErrorCollector/ErrorHandler, the same
// ones the runtime consults for processor and sink failures (§7).
func wirePeerForwardingErrorReporting(stages []Stage, pipeline *Pipeline) {
	for _, stage := range stages {
		for _, instance := range stage.Instances {
			if d, ok := instance.(*PeerForwardingDecorator); ok {
				d.SetErrorReporting(pipeline.Errors, pipeline.ErrorHandler)
			}
		}
	}
}

// resolveSource implements §4.6 step 1.
func (b *Builder) resolveSource(name string, spec *PipelineSpec) (Source, error) {
	if !spec.SourceSpec.IsPipelineLink() {
		instance, err := b.factory.Load(name, KindSource, spec.SourceSpec)
		if err != nil {
			return nil, err
		}
		source, ok := instance.(Source)
		if !ok {
			return nil, NewPluginLoadError(name, spec.SourceSpec.Name, KindSource, errNotA(spec.SourceSpec.Name, "Source"))
		}
		return source, nil
	}

	upstream := spec.SourceSpec.LinkTarget()
	if err := b.buildPipeline(upstream); err != nil {
		return nil, err
	}
	// The connector is always keyed by the downstream (consuming)
	// pipeline's name: here that is the pipeline being built, since it
	// is the one declaring the pipeline-sourced link.
	connector := b.connectors.GetOrCreate(name)
	connector.SetUpstream(upstream)
	return connector, nil
}

// resolveBuffer implements §4.6 step 2, substituting the default buffer
// plugin when the spec omits one (§3).
func (b *Builder) resolveBuffer(name string, spec *PipelineSpec) (Buffer, error) {
	bufferSpec := spec.BufferSpec
	if bufferSpec == nil {
		bufferSpec = &PluginSpec{Name: DefaultBufferPluginName}
	}
	attrs := make(map[string]interface{}, len(bufferSpec.Attrs)+1)
	for k, v := range bufferSpec.Attrs {
		attrs[k] = v
	}
	attrs["pipeline"] = name
	instance, err := b.factory.Load(name, KindBuffer, PluginSpec{Name: bufferSpec.Name, Attrs: attrs})
	if err != nil {
		return nil, err
	}
	buffer, ok := instance.(Buffer)
	if !ok {
		return nil, NewPluginLoadError(name, bufferSpec.Name, KindBuffer, errNotA(bufferSpec.Name, "Buffer"))
	}
	return buffer, nil
}

// resolveStages implements §4.6 steps 3-4: build each processor stage,
// then wrap every peer-forwarding-affine instance with the decorator.
func (b *Builder) resolveStages(name string, spec *PipelineSpec) ([]Stage, error) {
	stages := make([]Stage, 0, len(spec.ProcessorSpecs))
	for _, procSpec := range spec.ProcessorSpecs {
		instances, err := b.factory.LoadProcessorStage(name, procSpec, spec.Workers)
		if err != nil {
			return nil, err
		}

		for i, inst := range instances {
			if !requiresPeerForwarding(inst) {
				continue
			}
			keyed, ok := inst.(KeyedProcessor)
			if !ok {
				return nil, NewPluginLoadError(name, procSpec.Name, KindProcessor, errNotA(procSpec.Name, "KeyedProcessor"))
			}
			instances[i] = NewPeerForwardingDecorator(
				name, procSpec.Name, keyed,
				b.ctx.Selector, b.ctx.Transport,
				b.ctx.PeerMaxAttempts, b.ctx.PeerBaseBackoff,
			)
		}

		stages = append(stages, Stage{
			Instances:    instances,
			SingleThread: len(instances) > 1,
		})
	}
	return stages, nil
}

// resolveSinks implements §4.6 step 5.
func (b *Builder) resolveSinks(name string, spec *PipelineSpec) ([]Sink, error) {
	sinks := make([]Sink, 0, len(spec.SinkSpecs))
	for _, sinkSpec := range spec.SinkSpecs {
		if sinkSpec.IsPipelineLink() {
			downstream := sinkSpec.LinkTarget()
			connector := b.connectors.GetOrCreate(downstream)
			connector.SetUpstream(name)
			sinks = append(sinks, connector)
			continue
		}
		instance, err := b.factory.Load(name, KindSink, sinkSpec)
		if err != nil {
			return nil, err
		}
		sink, ok := instance.(Sink)
		if !ok {
			return nil, NewPluginLoadError(name, sinkSpec.Name, KindSink, errNotA(sinkSpec.Name, "Sink"))
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// unwind removes name and every pipeline transitively connected to it —
// both source-connected predecessors and sink-connected successors, per
// §4.6's unwind rule and the §9 Open Question resolution to follow both
// directions — from the runnable set. It is recursive (walks the whole
// connected component) and idempotent (a visited set prevents
// re-walking a pipeline already marked failed).
func (b *Builder) unwind(name string) {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		b.failed[n] = true
		delete(b.runnable, n)
		for _, pred := range b.graph.predecessors(n) {
			walk(pred)
		}
		for _, succ := range b.graph.successors(n) {
			walk(succ)
		}
	}
	walk(name)
}

func errNotA(pluginName, want string) error {
	return &pluginTypeError{pluginName: pluginName, want: want}
}
