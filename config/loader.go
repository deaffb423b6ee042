// Package config loads a topology document (spec §6) into a core.Topology.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/forrest/flowmesh/core"
	"gopkg.in/yaml.v3"
)

// Load decodes a topology document from r into a core.Topology. It
// rejects duplicate top-level keys in any mapping (§6), which
// gopkg.in/yaml.v3's normal Unmarshal silently tolerates (last key wins)
// by walking the document's node tree itself rather than trusting the
// struct-tag decode alone, the way ConduitIO-evolviconf's yaml.Parser
// inspects *yaml.Node before trusting its decode.
func Load(r io.Reader) (*core.Topology, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&root); err != nil {
		if err == io.EOF {
			return core.NewTopology(), nil
		}
		return nil, fmt.Errorf("parsing topology document: %w", err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return core.NewTopology(), nil
		}
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("topology document must be a mapping from pipeline name to spec")
	}
	if err := checkNoDuplicateKeys(doc, "$"); err != nil {
		return nil, err
	}

	topology := core.NewTopology()
	for i := 0; i < len(doc.Content); i += 2 {
		nameNode := doc.Content[i]
		pipelineNode := doc.Content[i+1]

		spec, err := decodePipelineSpec(nameNode.Value, pipelineNode)
		if err != nil {
			return nil, err
		}
		if err := topology.AddPipeline(*spec); err != nil {
			return nil, err
		}
	}
	return topology, nil
}

type pipelineDoc struct {
	Workers   int                    `yaml:"workers"`
	Delay     string                 `yaml:"delay"`
	Source    map[string]interface{} `yaml:"source"`
	Buffer    map[string]interface{} `yaml:"buffer"`
	Processor []map[string]interface{} `yaml:"processor"`
	Sink      []map[string]interface{} `yaml:"sink"`
}

func decodePipelineSpec(name string, node *yaml.Node) (*core.PipelineSpec, error) {
	var doc pipelineDoc
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}

	spec := &core.PipelineSpec{
		Name:    name,
		Workers: doc.Workers,
	}

	if doc.Delay != "" {
		d, err := time.ParseDuration(doc.Delay)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: invalid delay %q: %w", name, doc.Delay, err)
		}
		spec.ReadBatchDelay = d
	}

	sourceSpec, err := singlePluginSpec(doc.Source)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q source: %w", name, err)
	}
	spec.SourceSpec = *sourceSpec

	if doc.Buffer != nil {
		bufferSpec, err := singlePluginSpec(doc.Buffer)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q buffer: %w", name, err)
		}
		spec.BufferSpec = bufferSpec
	}

	for _, p := range doc.Processor {
		ps, err := singlePluginSpec(p)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q processor: %w", name, err)
		}
		spec.ProcessorSpecs = append(spec.ProcessorSpecs, *ps)
	}

	for _, s := range doc.Sink {
		ss, err := singlePluginSpec(s)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q sink: %w", name, err)
		}
		spec.SinkSpecs = append(spec.SinkSpecs, *ss)
	}

	return spec, nil
}

// singlePluginSpec decodes `{ <pluginName>: {attrs…} }` (§6): exactly
// one key naming the plugin, whose value is its attribute map.
func singlePluginSpec(m map[string]interface{}) (*core.PluginSpec, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("plugin entry must have exactly one key, got %d", len(m))
	}
	for name, rawAttrs := range m {
		attrs, _ := rawAttrs.(map[string]interface{})
		return &core.PluginSpec{Name: name, Attrs: attrs}, nil
	}
	return nil, fmt.Errorf("unreachable")
}

// checkNoDuplicateKeys walks every mapping node reachable from n and
// rejects a key appearing twice at the same mapping level (§6).
func checkNoDuplicateKeys(n *yaml.Node, path string) error {
	switch n.Kind {
	case yaml.MappingNode:
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i < len(n.Content); i += 2 {
			key := n.Content[i]
			if seen[key.Value] {
				return fmt.Errorf("duplicate key %q at %s (line %d)", key.Value, path, key.Line)
			}
			seen[key.Value] = true
			if err := checkNoDuplicateKeys(n.Content[i+1], path+"."+key.Value); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, child := range n.Content {
			if err := checkNoDuplicateKeys(child, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
