package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrorType categorizes failures per the taxonomy in spec §7.
type ErrorType int

const (
	TopologyErrorType ErrorType = iota
	PluginLoadErrorType
	ProcessorErrorType
	SinkErrorType
	PeerForwardingErrorType
)

func (et ErrorType) String() string {
	switch et {
	case TopologyErrorType:
		return "TOPOLOGY"
	case PluginLoadErrorType:
		return "PLUGIN_LOAD"
	case ProcessorErrorType:
		return "PROCESSOR"
	case SinkErrorType:
		return "SINK"
	case PeerForwardingErrorType:
		return "PEER_FORWARDING"
	default:
		return "UNKNOWN"
	}
}

// Severity indicates how far a failure propagates before it is contained.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// PipelineError is a structured error carrying enough context for the
// builder and runtime to contain a failure at the smallest scope that
// preserves liveness (§7).
type PipelineError interface {
	error
	Pipeline() string
	Component() string
	ErrorType() ErrorType
	Severity() Severity
	Recoverable() bool
	Context() map[string]interface{}
}

// BasePipelineError provides a default implementation of PipelineError.
type BasePipelineError struct {
	message       string
	pipeline      string
	component     string
	errorType     ErrorType
	severity      Severity
	recoverable   bool
	context       map[string]interface{}
	originalError error
}

// NewPipelineError creates a new pipeline error.
func NewPipelineError(message, pipeline, component string, errorType ErrorType, severity Severity, recoverable bool) *BasePipelineError {
	return &BasePipelineError{
		message:     message,
		pipeline:    pipeline,
		component:   component,
		errorType:   errorType,
		severity:    severity,
		recoverable: recoverable,
		context:     make(map[string]interface{}),
	}
}

// Error returns the error message.
func (e *BasePipelineError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %s", e.pipeline, e.component, e.errorType.String(), e.message)
}

// Pipeline returns the pipeline where the error occurred.
func (e *BasePipelineError) Pipeline() string {
	return e.pipeline
}

// Component returns the component where the error occurred.
func (e *BasePipelineError) Component() string {
	return e.component
}

// ErrorType returns the type of error.
func (e *BasePipelineError) ErrorType() ErrorType {
	return e.errorType
}

// Severity returns the severity level.
func (e *BasePipelineError) Severity() Severity {
	return e.severity
}

// Recoverable indicates if the error can be recovered from.
func (e *BasePipelineError) Recoverable() bool {
	return e.recoverable
}

// Context returns additional context information.
func (e *BasePipelineError) Context() map[string]interface{} {
	return e.context
}

// WithContext adds context information to the error.
func (e *BasePipelineError) WithContext(key string, value interface{}) *BasePipelineError {
	e.context[key] = value
	return e
}

// WithOriginalError sets the original error that caused this pipeline error.
func (e *BasePipelineError) WithOriginalError(err error) *BasePipelineError {
	e.originalError = err
	if err != nil {
		e.context["original_error"] = err.Error()
	}
	return e
}

// Unwrap returns the original error for error unwrapping.
func (e *BasePipelineError) Unwrap() error {
	return e.originalError
}

// TopologyError reports a fatal-at-startup validator failure: cycles,
// unknown references, duplicate or empty names.
type TopologyError struct {
	*BasePipelineError
	Pipelines []string
}

// NewTopologyError creates a TopologyError naming the participating pipelines.
func NewTopologyError(message string, pipelines ...string) *TopologyError {
	return &TopologyError{
		BasePipelineError: NewPipelineError(message, "", "", TopologyErrorType, Critical, false),
		Pipelines:         pipelines,
	}
}

func (e *TopologyError) Error() string {
	if len(e.Pipelines) == 0 {
		return e.BasePipelineError.Error()
	}
	return fmt.Sprintf("%s (pipelines: %v)", e.BasePipelineError.Error(), e.Pipelines)
}

// PluginLoadError reports a Plugin Factory failure: unknown plugin name,
// rejected config, or constructor failure. Fatal for the owning pipeline
// only, not the whole topology.
type PluginLoadError struct {
	*BasePipelineError
	PluginName string
	Kind       PluginKind
}

// NewPluginLoadError creates a PluginLoadError for the named plugin.
func NewPluginLoadError(pipeline, pluginName string, kind PluginKind, cause error) *PluginLoadError {
	e := &PluginLoadError{
		BasePipelineError: NewPipelineError(
			fmt.Sprintf("failed to load %s plugin %q", kind, pluginName),
			pipeline, pluginName, PluginLoadErrorType, Error, false,
		),
		PluginName: pluginName,
		Kind:       kind,
	}
	if cause != nil {
		e.WithOriginalError(cause)
	}
	return e
}

// BufferFullError is a backpressure control signal returned by a Buffer's
// Write, not a logged failure.
type BufferFullError struct {
	Pipeline string
}

func (e *BufferFullError) Error() string {
	return fmt.Sprintf("buffer full for pipeline %q", e.Pipeline)
}

// BufferClosedError is a shutdown control signal returned after Close.
type BufferClosedError struct {
	Pipeline string
}

func (e *BufferClosedError) Error() string {
	return fmt.Sprintf("buffer closed for pipeline %q", e.Pipeline)
}

// NewProcessorError wraps a runtime processor failure: logged, the
// offending batch dropped, the worker continues on the next batch.
func NewProcessorError(pipeline, component string, cause error) *BasePipelineError {
	return NewPipelineError(cause.Error(), pipeline, component, ProcessorErrorType, Error, true).WithOriginalError(cause)
}

// NewSinkError wraps a sink failure: logged, other sinks in the fan-out
// still run, the pipeline stays up.
func NewSinkError(pipeline, component string, cause error) *BasePipelineError {
	return NewPipelineError(cause.Error(), pipeline, component, SinkErrorType, Error, true).WithOriginalError(cause)
}

// NewPeerForwardingError wraps a peer send timeout or a reference to an
// absent peer: retried with backoff, the batch dropped and counted once
// retries are exhausted.
func NewPeerForwardingError(pipeline, component string, cause error) *BasePipelineError {
	return NewPipelineError(cause.Error(), pipeline, component, PeerForwardingErrorType, Warning, true).WithOriginalError(cause)
}

// ErrorAction defines what action to take when an error occurs.
type ErrorAction int

const (
	Continue ErrorAction = iota
	Retry
	Skip
	Abort
)

func (ea ErrorAction) String() string {
	switch ea {
	case Continue:
		return "CONTINUE"
	case Retry:
		return "RETRY"
	case Skip:
		return "SKIP"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// ErrorHandler decides what action to take for a given error.
type ErrorHandler interface {
	HandleError(ctx context.Context, err PipelineError) ErrorAction
	CanRecover(err PipelineError) bool
}

// DefaultErrorHandler implements the §7 propagation policy: contain a
// failure at the smallest scope that keeps the rest of the topology live.
type DefaultErrorHandler struct {
	retryAttempts map[string]int
	maxRetries    int
	mutex         sync.RWMutex
}

// NewDefaultErrorHandler creates a new default error handler.
func NewDefaultErrorHandler(maxRetries int) *DefaultErrorHandler {
	return &DefaultErrorHandler{
		retryAttempts: make(map[string]int),
		maxRetries:    maxRetries,
	}
}

// HandleError determines what action to take for a given error.
func (h *DefaultErrorHandler) HandleError(ctx context.Context, err PipelineError) ErrorAction {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	key := fmt.Sprintf("%s:%s:%s", err.Pipeline(), err.Component(), err.ErrorType().String())

	switch err.Severity() {
	case Critical:
		return Abort
	case Error:
		if err.Recoverable() && h.retryAttempts[key] < h.maxRetries {
			h.retryAttempts[key]++
			return Retry
		}
		return Skip
	case Warning:
		if err.Recoverable() {
			return Continue
		}
		return Skip
	case Info:
		return Continue
	default:
		return Abort
	}
}

// CanRecover checks if an error can be recovered from.
func (h *DefaultErrorHandler) CanRecover(err PipelineError) bool {
	return err.Recoverable() && err.Severity() != Critical
}

// ResetRetryCount resets the retry count for a specific pipeline/component/error type.
func (h *DefaultErrorHandler) ResetRetryCount(pipeline, component string, errorType ErrorType) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.retryAttempts, fmt.Sprintf("%s:%s:%s", pipeline, component, errorType.String()))
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (cs CircuitState) String() string {
	switch cs {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BaseCircuitBreaker guards a single peer's send path: after enough
// consecutive failures it stops trying for a cooldown window instead of
// retrying every batch.
type BaseCircuitBreaker struct {
	state            CircuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailureTime  time.Time
	mutex            sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *BaseCircuitBreaker {
	return &BaseCircuitBreaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Execute executes fn with circuit breaker protection.
func (cb *BaseCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mutex.Lock()
	state := cb.state
	if state == Open && time.Since(cb.lastFailureTime) > cb.timeout {
		cb.state = HalfOpen
		cb.successCount = 0
		state = HalfOpen
	}
	cb.mutex.Unlock()

	if state == Open {
		return fmt.Errorf("circuit breaker is open")
	}

	err := fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// State returns the current state of the circuit breaker.
func (cb *BaseCircuitBreaker) State() CircuitState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *BaseCircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = Closed
	cb.failureCount = 0
	cb.successCount = 0
}

func (cb *BaseCircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.state == HalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = Open
		cb.successCount = 0
	}
}

func (cb *BaseCircuitBreaker) onSuccess() {
	cb.failureCount = 0
	if cb.state == HalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = Closed
		}
	}
}

// ErrorCollector collects and aggregates errors for analysis and tests.
type ErrorCollector struct {
	errors []PipelineError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector.
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{errors: make([]PipelineError, 0)}
}

// Collect adds an error to the collection.
func (ec *ErrorCollector) Collect(err PipelineError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetErrors returns all collected errors.
func (ec *ErrorCollector) GetErrors() []PipelineError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	result := make([]PipelineError, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// GetErrorsByPipeline returns errors raised within a specific pipeline.
func (ec *ErrorCollector) GetErrorsByPipeline(pipeline string) []PipelineError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	var result []PipelineError
	for _, err := range ec.errors {
		if err.Pipeline() == pipeline {
			result = append(result, err)
		}
	}
	return result
}

// GetErrorsBySeverity returns errors of a specific severity.
func (ec *ErrorCollector) GetErrorsBySeverity(severity Severity) []PipelineError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	var result []PipelineError
	for _, err := range ec.errors {
		if err.Severity() == severity {
			result = append(result, err)
		}
	}
	return result
}

// Clear removes all collected errors.
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// Count returns the total number of collected errors.
func (ec *ErrorCollector) Count() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors)
}
