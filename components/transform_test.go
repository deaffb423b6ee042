package components

import (
	"testing"

	"github.com/forrest/flowmesh/core"
)

func TestUpperCase(t *testing.T) {
	p := NewUpperCase()
	input := core.Batch{core.NewRecord("line", "hello world")}
	core.TestProcessor(t, p, input, []interface{}{"HELLO WORLD"})
}

func TestUpperCase_PassesThroughNonStringEvents(t *testing.T) {
	p := NewUpperCase()
	input := core.Batch{core.NewRecord("value", 42)}
	core.TestProcessor(t, p, input, []interface{}{42})
}

func TestGrep_KeepsMatchingRecords(t *testing.T) {
	p := NewGrep("ERROR")
	input := core.Batch{
		core.NewRecord("line", "INFO: starting up"),
		core.NewRecord("line", "ERROR: disk full"),
	}
	core.TestProcessor(t, p, input, []interface{}{"ERROR: disk full"})
}

func TestGrep_DropsAllWhenNothingMatches(t *testing.T) {
	p := NewGrep("ERROR")
	input := core.Batch{core.NewRecord("line", "INFO: all good")}
	core.TestProcessor(t, p, input, []interface{}{})
}
