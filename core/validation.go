package core

// referenceGraph is the inter-pipeline DAG used by the validator and by
// the builder's unwind walk. An edge P -> Q means P produces records
// that Q consumes: either Q's source is a pipeline link to P, or P has a
// sink that is a pipeline link to Q. Both declarations describe the same
// data-flow edge, so they are deduplicated to a single P -> Q entry
// regardless of which side named it.
//
// This is the resolution of an ambiguity in the literal invariant text
// ("edges: P -> Q iff P's source references Q, or P has a sink
// referencing Q"): read literally it cannot distinguish a valid
// two-sided link (A's sink names B, B's source names A) from a genuine
// cycle (A's sink names B, B's sink names A) and still obtain the DAG
// one worked example requires and the cycle the other requires.
// Deriving edges from data-flow direction does. See DESIGN.md's "Open
// Question resolutions" for the worked-example check.
type referenceGraph struct {
	edges map[string]map[string]bool // producer -> set of consumers
	preds map[string]map[string]bool // consumer -> set of producers
	nodes []string                   // insertion order
}

func newReferenceGraph(order []string) *referenceGraph {
	g := &referenceGraph{
		edges: make(map[string]map[string]bool),
		preds: make(map[string]map[string]bool),
		nodes: order,
	}
	for _, name := range order {
		g.edges[name] = make(map[string]bool)
		g.preds[name] = make(map[string]bool)
	}
	return g
}

func (g *referenceGraph) addEdge(producer, consumer string) {
	if g.edges[producer] == nil {
		g.edges[producer] = make(map[string]bool)
	}
	if g.preds[consumer] == nil {
		g.preds[consumer] = make(map[string]bool)
	}
	g.edges[producer][consumer] = true
	g.preds[consumer][producer] = true
}

// successors returns the pipelines that consume from name.
func (g *referenceGraph) successors(name string) []string {
	out := make([]string, 0, len(g.edges[name]))
	for n := range g.edges[name] {
		out = append(out, n)
	}
	return out
}

// predecessors returns the pipelines that produce into name.
func (g *referenceGraph) predecessors(name string) []string {
	out := make([]string, 0, len(g.preds[name]))
	for n := range g.preds[name] {
		out = append(out, n)
	}
	return out
}

// buildReferenceGraph derives the data-flow graph from every pipeline's
// source and sink specs that are pipeline links.
func buildReferenceGraph(t *Topology) *referenceGraph {
	order := t.Names()
	g := newReferenceGraph(order)
	for _, name := range order {
		spec, _ := t.Pipeline(name)
		if spec.SourceSpec.IsPipelineLink() {
			g.addEdge(spec.SourceSpec.LinkTarget(), name)
		}
		for _, sink := range spec.SinkSpecs {
			if sink.IsPipelineLink() {
				g.addEdge(name, sink.LinkTarget())
			}
		}
	}
	return g
}

// ValidationResult is the outcome of validating a topology: the build
// order to hand to the Pipeline Builder, plus any non-fatal warnings.
type ValidationResult struct {
	BuildOrder []string
	Warnings   []string
}

// TopologyValidator is the Topology Validator (C3, spec §4.3): rejects
// invalid topologies and returns a build order.
type TopologyValidator struct{}

// NewTopologyValidator creates a new topology validator.
func NewTopologyValidator() *TopologyValidator {
	return &TopologyValidator{}
}

// Validate runs the checks in §4.3 order and returns a topological build
// order (dependencies before dependents) on success.
func (v *TopologyValidator) Validate(t *Topology) (*ValidationResult, error) {
	if err := v.checkReferences(t); err != nil {
		return nil, err
	}

	graph := buildReferenceGraph(t)

	if cyclePipelines := detectCycle(graph); cyclePipelines != nil {
		return nil, NewTopologyError("cycle detected in pipeline reference graph", cyclePipelines...)
	}

	order, err := topologicalOrder(graph)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		BuildOrder: order,
		Warnings:   observableSinkWarnings(t),
	}
	return result, nil
}

// checkReferences enforces Invariant 3: every pipeline-link source/sink
// must reference a pipeline that actually exists in the topology.
func (v *TopologyValidator) checkReferences(t *Topology) error {
	for _, name := range t.Names() {
		spec, _ := t.Pipeline(name)
		if spec.SourceSpec.IsPipelineLink() {
			if _, ok := t.Pipeline(spec.SourceSpec.LinkTarget()); !ok {
				return NewTopologyError("source references unknown pipeline "+spec.SourceSpec.LinkTarget(), name)
			}
		}
		for _, sink := range spec.SinkSpecs {
			if sink.IsPipelineLink() {
				if _, ok := t.Pipeline(sink.LinkTarget()); !ok {
					return NewTopologyError("sink references unknown pipeline "+sink.LinkTarget(), name)
				}
			}
		}
		if len(spec.SinkSpecs) == 0 {
			return NewTopologyError("pipeline must declare at least one sink", name)
		}
	}
	return nil
}

// detectCycle runs DFS with a recursion stack over the reference graph
// and returns the participating pipeline names if a cycle exists, or nil
// if the graph is acyclic.
func detectCycle(g *referenceGraph) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		for _, next := range g.successors(node) {
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				return cycleSlice(stack, next)
			}
		}

		onStack[node] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, name := range g.nodes {
		if !visited[name] {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// cycleSlice extracts the cyclic suffix of the DFS stack starting at the
// node where the back-edge closes the loop.
func cycleSlice(stack []string, closesAt string) []string {
	for i, name := range stack {
		if name == closesAt {
			out := make([]string, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	return stack
}

// topologicalOrder runs Kahn's algorithm over the reference graph.
// Ties (multiple zero-in-degree nodes available at once) are broken by
// topology insertion order, matching §4.3 point 4.
func topologicalOrder(g *referenceGraph) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, name := range g.nodes {
		inDegree[name] = len(g.predecessors(name))
	}

	ready := make([]string, 0)
	for _, name := range g.nodes {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, name := range g.nodes {
			if !contains(g.successors(current), name) {
				continue
			}
			inDegree[name]--
			if inDegree[name] == 0 {
				ready = append(ready, name)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, NewTopologyError("cycle detected computing build order")
	}
	return order, nil
}

func contains(set []string, target string) bool {
	for _, s := range set {
		if s == target {
			return true
		}
	}
	return false
}

// observableSinkWarnings implements §4.3 point 5: a non-fatal warning
// for any pipeline whose sinks are all internal pipeline links, meaning
// nothing ever observes its output outside the topology.
func observableSinkWarnings(t *Topology) []string {
	var warnings []string
	for _, name := range t.Names() {
		spec, _ := t.Pipeline(name)
		observable := false
		for _, sink := range spec.SinkSpecs {
			if !sink.IsPipelineLink() {
				observable = true
				break
			}
		}
		if !observable {
			warnings = append(warnings, "pipeline \""+name+"\" has no sink whose downstream is observable outside the topology")
		}
	}
	return warnings
}
