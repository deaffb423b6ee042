package core

// Factory is the Plugin Factory (C1, spec §4.1): given a kind and a
// PluginSpec, it produces either a single instance (Source/Buffer/Sink)
// or an ordered instance set (Processor stage), looking up constructors
// in a Registry.
type Factory struct {
	registry *Registry
}

// NewFactory creates a factory backed by the given registry.
func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

// Load builds a single plugin instance of the given kind. Used for
// Source, Buffer, and Sink specs, none of which have stage multiplicity.
func (f *Factory) Load(pipeline string, kind PluginKind, spec PluginSpec) (interface{}, error) {
	constructor, err := f.registry.Lookup(spec.Name, kind)
	if err != nil {
		return nil, NewPluginLoadError(pipeline, spec.Name, kind, err)
	}
	instance, err := constructor(spec.Attrs)
	if err != nil {
		return nil, NewPluginLoadError(pipeline, spec.Name, kind, err)
	}
	return instance, nil
}

// LoadProcessorStage builds one processor stage: either workers separate
// instances (if the plugin declares CapabilitySingleThread) or a single
// shared instance, per the multiplicity rule in §4.1. Construction is
// atomic — if any instance in a multi-instance stage fails, none of the
// partially built instances are returned; the stage either is fully
// produced or not at all.
func (f *Factory) LoadProcessorStage(pipeline string, spec PluginSpec, workers int) ([]Processor, error) {
	constructor, err := f.registry.Lookup(spec.Name, KindProcessor)
	if err != nil {
		return nil, NewPluginLoadError(pipeline, spec.Name, KindProcessor, err)
	}

	first, err := constructor(spec.Attrs)
	if err != nil {
		return nil, NewPluginLoadError(pipeline, spec.Name, KindProcessor, err)
	}
	firstProc, ok := first.(Processor)
	if !ok {
		return nil, NewPluginLoadError(pipeline, spec.Name, KindProcessor, errNotAProcessor(spec.Name))
	}

	if !singleThreaded(firstProc) {
		return []Processor{firstProc}, nil
	}

	instances := make([]Processor, 0, workers)
	instances = append(instances, firstProc)
	for i := 1; i < workers; i++ {
		inst, err := constructor(spec.Attrs)
		if err != nil {
			return nil, NewPluginLoadError(pipeline, spec.Name, KindProcessor, err)
		}
		proc, ok := inst.(Processor)
		if !ok {
			return nil, NewPluginLoadError(pipeline, spec.Name, KindProcessor, errNotAProcessor(spec.Name))
		}
		instances = append(instances, proc)
	}
	return instances, nil
}

func singleThreaded(p Processor) bool {
	holder, ok := p.(CapabilityHolder)
	return ok && holder.Capabilities().Has(CapabilitySingleThread)
}

// requiresPeerForwarding reports whether a processor instance declares
// cluster-wide key affinity and must be wrapped by the peer-forwarding
// decorator (§4.5).
func requiresPeerForwarding(p Processor) bool {
	holder, ok := p.(CapabilityHolder)
	return ok && holder.Capabilities().Has(CapabilityPeerForwarding)
}

type pluginTypeError struct {
	pluginName string
	want       string
}

func (e *pluginTypeError) Error() string {
	return "plugin \"" + e.pluginName + "\" does not implement " + e.want
}

func errNotAProcessor(pluginName string) error {
	return &pluginTypeError{pluginName: pluginName, want: "Processor"}
}
