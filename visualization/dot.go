package visualization

import (
	"fmt"
	"strings"

	"github.com/forrest/flowmesh/core"
)

// ToDOT renders the inter-pipeline DAG of t as Graphviz DOT: one node per
// pipeline, one edge per pipeline-link source/sink reference. This
// replaces the teacher's component/port-level rendering (visualization/
// dot.go in go-flow) since the unit of wiring here is the pipeline, not
// the component.
func ToDOT(t *core.Topology) string {
	var b strings.Builder
	b.WriteString("digraph topology {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	for _, name := range t.Names() {
		spec, _ := t.Pipeline(name)
		label := fmt.Sprintf("%s\\nworkers=%d", name, spec.Workers)
		b.WriteString(fmt.Sprintf("  %q [label=%q];\n", name, label))
	}

	seen := make(map[[2]string]bool)
	addEdge := func(from, to string) {
		key := [2]string{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		b.WriteString(fmt.Sprintf("  %q -> %q;\n", from, to))
	}

	for _, name := range t.Names() {
		spec, _ := t.Pipeline(name)
		if spec.SourceSpec.IsPipelineLink() {
			addEdge(spec.SourceSpec.LinkTarget(), name)
		}
		for _, sink := range spec.SinkSpecs {
			if sink.IsPipelineLink() {
				addEdge(name, sink.LinkTarget())
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}
