package components

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/forrest/flowmesh/core"
)

func init() {
	core.DefaultRegistry.Register("stdout", core.KindSink, func(attrs map[string]interface{}) (interface{}, error) {
		return NewStdoutSink(), nil
	})
	core.DefaultRegistry.Register("file", core.KindSink, func(attrs map[string]interface{}) (interface{}, error) {
		path, _ := attrs["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("file sink requires a \"path\" attribute")
		}
		return NewFileSink(path)
	})
	core.DefaultRegistry.Register("slice", core.KindSink, func(attrs map[string]interface{}) (interface{}, error) {
		return NewSliceSink(), nil
	})
}

// StdoutSink is a Sink (C1, §4.1) that prints each record's event,
// grounded on the teacher's StringSink (components/string.go).
type StdoutSink struct{}

// NewStdoutSink creates a sink that prints to stdout.
func NewStdoutSink() *StdoutSink { return &StdoutSink{} }

func (s *StdoutSink) Output(ctx context.Context, batch core.Batch) error {
	for _, record := range batch {
		fmt.Printf("%s\n", record.Event)
	}
	return nil
}

// FileSink appends every record's event, newline-separated, to a file.
// Grounded on the teacher's FileWriter (components/file.go), which
// rewrote the whole file on each Process call; here writes append,
// since a Sink in a long-running pipeline receives many batches over
// its lifetime rather than one value per run.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens path for appending, creating it if necessary.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Output(ctx context.Context, batch core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range batch {
		if _, err := fmt.Fprintf(s.file, "%v\n", record.Event); err != nil {
			return err
		}
	}
	return nil
}

// SliceSink accumulates every record it receives in memory, for tests
// and worked examples that need to assert on what a pipeline emitted.
type SliceSink struct {
	mu      sync.Mutex
	records core.Batch
}

// NewSliceSink creates an empty accumulating sink.
func NewSliceSink() *SliceSink { return &SliceSink{} }

func (s *SliceSink) Output(ctx context.Context, batch core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, batch...)
	return nil
}

// Records returns a copy of everything received so far.
func (s *SliceSink) Records() core.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(core.Batch, len(s.records))
	copy(out, s.records)
	return out
}
