package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidTopology(t *testing.T) {
	doc := `
A:
  workers: 2
  delay: 500ms
  source:
    file:
      path: /var/log/app.log
  processor:
    - uppercase: {}
    - grep:
        pattern: ERROR
  sink:
    - stdout: {}
    - pipeline:
        name: B
B:
  source:
    pipeline:
      name: A
  sink:
    - stdout: {}
`
	topo, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	a, ok := topo.Pipeline("A")
	require.True(t, ok)
	assert.Equal(t, 2, a.Workers)
	assert.Equal(t, 500*time.Millisecond, a.ReadBatchDelay)
	assert.Equal(t, "file", a.SourceSpec.Name)
	assert.Equal(t, "/var/log/app.log", a.SourceSpec.Attrs["path"])
	require.Len(t, a.ProcessorSpecs, 2)
	assert.Equal(t, "uppercase", a.ProcessorSpecs[0].Name)
	assert.Equal(t, "grep", a.ProcessorSpecs[1].Name)
	assert.Equal(t, "ERROR", a.ProcessorSpecs[1].Attrs["pattern"])
	require.Len(t, a.SinkSpecs, 2)
	assert.Equal(t, "stdout", a.SinkSpecs[0].Name)
	assert.Equal(t, "pipeline", a.SinkSpecs[1].Name)
	assert.Equal(t, "B", a.SinkSpecs[1].Attrs["name"])

	b, ok := topo.Pipeline("B")
	require.True(t, ok)
	assert.Equal(t, 1, b.Workers, "workers should default to 1 when omitted")
	assert.Equal(t, 3*time.Second, b.ReadBatchDelay, "delay should default to 3s when omitted")
}

func TestLoad_DuplicateTopLevelKeyRejected(t *testing.T) {
	doc := `
A:
  source:
    file:
      path: a.log
  sink:
    - stdout: {}
A:
  source:
    file:
      path: b.log
  sink:
    - stdout: {}
`
	_, err := Load(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestLoad_DuplicateNestedKeyRejected(t *testing.T) {
	doc := `
A:
  source:
    file:
      path: a.log
      path: b.log
  sink:
    - stdout: {}
`
	_, err := Load(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestLoad_InvalidDelayRejected(t *testing.T) {
	doc := `
A:
  delay: not-a-duration
  source:
    file:
      path: a.log
  sink:
    - stdout: {}
`
	_, err := Load(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid delay")
}

func TestLoad_PipelineLinkSourceAndSink(t *testing.T) {
	doc := `
A:
  source:
    file:
      path: a.log
  sink:
    - pipeline:
        name: B
B:
  source:
    pipeline:
      name: A
  sink:
    - stdout: {}
`
	topo, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	b, ok := topo.Pipeline("B")
	require.True(t, ok)
	assert.Equal(t, "A", b.SourceSpec.Attrs["name"])
}

func TestLoad_EmptyDocument(t *testing.T) {
	topo, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, topo.Names())
}

func TestLoad_MultiKeyPluginEntryRejected(t *testing.T) {
	doc := `
A:
  source:
    file:
      path: a.log
    slice: {}
  sink:
    - stdout: {}
`
	_, err := Load(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one key")
}
