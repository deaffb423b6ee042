package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a Pipeline's position in the lifecycle spec §3 defines:
// Built -> Starting -> Running -> Stopping -> Stopped | Failed.
type State int

const (
	StateBuilt State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "BUILT"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Stage is one entry in a pipeline's processor list (§3 GLOSSARY),
// realized as one or more parallel Processor instances. SingleThread
// is true when Instances has exactly one entry per worker rather than
// one shared entry; the runtime uses this to decide whether a worker
// picks its own instance by index or shares instance zero with every
// other worker.
type Stage struct {
	Instances    []Processor
	SingleThread bool
}

// Pipeline is the runnable entity the Pipeline Builder (C6) produces:
// one Source, one Buffer, an ordered list of Stages, one or more Sinks,
// a worker count, and a read-batch delay (§3).
type Pipeline struct {
	Name           string
	Workers        int
	ReadBatchDelay time.Duration

	Source Source
	Buffer Buffer
	Stages []Stage
	Sinks  []Sink

	// ErrorHandler decides the §7 action (retry/skip/abort/continue) for
	// every processor and sink failure the runtime observes running this
	// pipeline. Errors collects them for later inspection.
	ErrorHandler ErrorHandler
	Errors       *ErrorCollector

	mu    sync.RWMutex
	state State
	runID string
}

// defaultProcessorRetries bounds how many times the runtime retries a
// single failed stage or sink invocation before the error handler moves
// to Skip (§7).
const defaultProcessorRetries = 2

// NewPipeline assembles a runnable Pipeline from its built components.
// The pipeline starts in the Built state (§3).
func NewPipeline(name string, workers int, readBatchDelay time.Duration, source Source, buffer Buffer, stages []Stage, sinks []Sink) *Pipeline {
	return &Pipeline{
		Name:           name,
		Workers:        workers,
		ReadBatchDelay: readBatchDelay,
		Source:         source,
		Buffer:         buffer,
		Stages:         stages,
		Sinks:          sinks,
		ErrorHandler:   NewDefaultErrorHandler(defaultProcessorRetries),
		Errors:         NewErrorCollector(),
		state:          StateBuilt,
	}
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the pipeline to a new lifecycle state. It is the
// runtime's responsibility to call this only along valid transitions;
// Pipeline itself does not enforce the state machine's edges.
func (p *Pipeline) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// RunID returns the identifier stamped for the current (or most recent)
// run, assigned when the runtime transitions the pipeline to Starting.
func (p *Pipeline) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

// AssignRunID stamps a fresh run identifier, replacing the teacher's
// fmt.Sprintf("exec_%d", time.Now().UnixNano()) counter with a real UUID
// so runs remain distinguishable across restarts and across nodes.
func (p *Pipeline) AssignRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = uuid.NewString()
	return p.runID
}
