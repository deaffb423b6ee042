package components

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/forrest/flowmesh/core"
)

func init() {
	core.DefaultRegistry.Register("file", core.KindSource, func(attrs map[string]interface{}) (interface{}, error) {
		path, _ := attrs["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("file source requires a \"path\" attribute")
		}
		return NewFileLineSource(path), nil
	})
	core.DefaultRegistry.Register("slice", core.KindSource, func(attrs map[string]interface{}) (interface{}, error) {
		raw, _ := attrs["values"].([]interface{})
		return NewSliceSource(raw), nil
	})
}

// FileLineSource is a Source (C1, §4.1) that reads a file line by line,
// writing one record per line into the buffer. Grounded on the teacher's
// FileReader (components/file.go), which read a whole file in one Process
// call; here the read is streamed by a background goroutine instead,
// since a Source owns its own lifetime rather than being invoked once
// per pipeline tick.
type FileLineSource struct {
	path string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileLineSource creates a source that streams path one line at a time.
func NewFileLineSource(path string) *FileLineSource {
	return &FileLineSource{path: path}
}

// Start opens the file and begins writing one record per line into out.
// Reaching EOF is not an error; the goroutine simply exits and Stop
// becomes a no-op wait.
func (s *FileLineSource) Start(ctx context.Context, out core.Buffer) error {
	f, err := os.Open(s.path)
	if err != nil {
		return core.NewPluginLoadError("", "file", core.KindSource, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer f.Close()
		defer cancel()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			record := core.NewRecord("line", scanner.Text())
			if err := out.Write(runCtx, core.Batch{record}); err != nil {
				return
			}
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
	}()

	return nil
}

// Stop cancels the read loop and waits for it to exit.
func (s *FileLineSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

// SliceSource is a Source that emits a fixed, in-memory sequence of
// values once and then stops, useful for tests and worked examples that
// don't need a real external system (spec §8 scenarios).
type SliceSource struct {
	values []interface{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSliceSource creates a source over values.
func NewSliceSource(values []interface{}) *SliceSource {
	return &SliceSource{values: values}
}

func (s *SliceSource) Start(ctx context.Context, out core.Buffer) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer cancel()
		for _, v := range s.values {
			record := core.NewRecord("value", v)
			if err := out.Write(runCtx, core.Batch{record}); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *SliceSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

