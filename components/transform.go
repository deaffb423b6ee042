package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/forrest/flowmesh/core"
)

func init() {
	core.DefaultRegistry.Register("uppercase", core.KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		return NewUpperCase(), nil
	})
	core.DefaultRegistry.Register("grep", core.KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		pattern, _ := attrs["pattern"].(string)
		if pattern == "" {
			return nil, fmt.Errorf("grep processor requires a \"pattern\" attribute")
		}
		return NewGrep(pattern), nil
	})
}

// NewUpperCase builds a Processor that uppercases every record whose
// event is a string, passing anything else through unchanged. Adapted
// from the teacher's UpperCase component (components/string.go): same
// transform, now expressed as a core.FuncProcessor (which itself
// generalizes the teacher's BaseDataTransform, core/transforms.go) over
// a Batch instead of a single named input/output pair.
func NewUpperCase() *core.FuncProcessor {
	return core.NewFuncProcessor("uppercase", func(ctx context.Context, event interface{}) (interface{}, bool, error) {
		s, ok := event.(string)
		if !ok {
			return event, true, nil
		}
		return strings.ToUpper(s), true, nil
	})
}

// NewGrep builds a Processor that drops records whose string event does
// not contain pattern, adapted from the teacher's Grep (components/
// file.go), which filtered newline-joined lines within a single string;
// here each Record is already one unit of data, so filtering drops
// records outright instead of re-joining surviving lines.
func NewGrep(pattern string) *core.FuncProcessor {
	return core.NewFuncProcessor("grep", func(ctx context.Context, event interface{}) (interface{}, bool, error) {
		s, ok := event.(string)
		if !ok {
			return event, true, nil
		}
		return event, strings.Contains(s, pattern), nil
	})
}
