package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/forrest/flowmesh/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runtime is the Pipeline Runtime (C7, spec §4.7): it runs a single
// built Pipeline — source thread(s), buffer, processor-worker pool,
// sink fan-out — and enforces the read-batch delay, worker count, and
// graceful shutdown the builder assembled the pipeline with.
//
// This generalizes the teacher's execution/engine.go one-shot
// component-DAG run (DefaultEngine/ConcurrentEngine) into a long-lived
// worker pool over a buffer: the concurrency idiom (goroutines +
// Prometheus timers) carries over, the unit of work does not.
type Runtime struct {
	pipeline *core.Pipeline
	log      zerolog.Logger
	graceful time.Duration

	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRuntime creates a runtime for pipeline. graceful bounds how long
// Stop waits for in-flight buffer contents to drain before abandoning
// them (§4.7 "Shutdown").
func NewRuntime(pipeline *core.Pipeline, log zerolog.Logger, graceful time.Duration) *Runtime {
	return &Runtime{
		pipeline: pipeline,
		log:      log.With().Str("pipeline", pipeline.Name).Logger(),
		graceful: graceful,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the pipeline until ctx is canceled or Stop is called. It
// blocks until the source, all workers, and shutdown draining have
// finished.
func (r *Runtime) Start(ctx context.Context) error {
	r.pipeline.SetState(core.StateStarting)
	r.pipeline.AssignRunID()
	r.log.Info().Str("run_id", r.pipeline.RunID()).Msg("starting pipeline")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return r.runSource(gctx)
	})

	for i := 0; i < r.pipeline.Workers; i++ {
		workerIndex := i
		group.Go(func() error {
			return r.runWorker(gctx, workerIndex)
		})
	}

	r.pipeline.SetState(core.StateRunning)

	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-gctx.Done():
		}
	}()

	err := group.Wait()
	r.drainOnShutdown()

	if err != nil {
		r.pipeline.SetState(core.StateFailed)
		r.log.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}
	r.pipeline.SetState(core.StateStopped)
	r.log.Info().Msg("pipeline stopped")
	return nil
}

// Stop signals a graceful shutdown. It is idempotent: calling it more
// than once has no additional effect and callers observe the same
// terminal state (testable property 7).
func (r *Runtime) Stop(ctx context.Context) error {
	r.once.Do(func() {
		if s := r.pipeline.State(); s != core.StateStopped && s != core.StateFailed {
			r.pipeline.SetState(core.StateStopping)
		}
		close(r.stopCh)
	})

	select {
	case <-r.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// runSource runs the Source as a long-lived task whose only output
// side-effect is writing into the buffer (§4.7).
func (r *Runtime) runSource(ctx context.Context) error {
	if err := r.pipeline.Source.Start(ctx, r.pipeline.Buffer); err != nil {
		return err
	}
	<-ctx.Done()
	return r.pipeline.Source.Stop(context.Background())
}

// runWorker implements one processor-worker loop (§4.7): read, pass
// through the stage chain in order, fan out to sinks, commit. It returns
// an error only when the error handler decides a failure must abort the
// whole pipeline (Abort), which cancels every other worker and the
// source via the owning errgroup.
func (r *Runtime) runWorker(ctx context.Context, index int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch, err := r.pipeline.Buffer.Read(ctx, r.pipeline.ReadBatchDelay)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn().Err(err).Int("worker", index).Msg("buffer read failed")
			continue
		}
		if len(batch) == 0 {
			continue
		}

		processed, ok, err := r.runStages(ctx, index, batch)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		r.fanOutToSinks(ctx, processed)

		if err := r.pipeline.Buffer.Commit(ctx, batch); err != nil {
			r.log.Warn().Err(err).Int("worker", index).Msg("buffer commit failed")
		}
	}
}

// runStages passes batch through every stage in order, routing every
// failure through the pipeline's ErrorHandler and ErrorCollector (§7):
// a ProcessorError is built, collected, and handed to the handler, whose
// verdict decides whether the stage is retried, the batch dropped (Skip,
// Continue), or the whole pipeline aborted (Abort). ok is false when the
// batch should not reach the sinks; a non-nil error means Abort.
func (r *Runtime) runStages(ctx context.Context, workerIndex int, batch core.Batch) (core.Batch, bool, error) {
	current := batch
	for stageIdx, stage := range r.pipeline.Stages {
		instance := stage.Instances[0]
		if stage.SingleThread {
			instance = stage.Instances[workerIndex%len(stage.Instances)]
		}

		out, err := r.executeStage(ctx, workerIndex, stageIdx, instance, current)
		if err != nil {
			if isAbort(err) {
				return nil, false, err
			}
			core.RecordsDropped.WithLabelValues(r.pipeline.Name, "processor_error").Add(float64(len(current)))
			return nil, false, nil
		}
		current = out
	}
	return current, true, nil
}

// executeStage runs instance once, retrying per the error handler's
// verdict until it succeeds, gives up (Skip/Continue), or asks to abort.
// A non-nil returned error always means Abort; any other outcome the
// caller treats as "drop the batch, keep going".
func (r *Runtime) executeStage(ctx context.Context, workerIndex, stageIdx int, instance core.Processor, batch core.Batch) (core.Batch, error) {
	component := stageName(stageIdx)
	for {
		timer := prometheus.NewTimer(core.ComponentLatency.WithLabelValues(r.pipeline.Name, component, "processor"))
		out, err := instance.Execute(ctx, batch)
		timer.ObserveDuration()
		if err == nil {
			return out, nil
		}

		core.ComponentErrors.WithLabelValues(r.pipeline.Name, component, core.ProcessorErrorType.String()).Inc()
		perr := core.NewProcessorError(r.pipeline.Name, component, err)
		if r.pipeline.Errors != nil {
			r.pipeline.Errors.Collect(perr)
		}
		action := core.Skip
		if r.pipeline.ErrorHandler != nil {
			action = r.pipeline.ErrorHandler.HandleError(ctx, perr)
		}
		r.log.Warn().Err(err).Int("worker", workerIndex).Int("stage", stageIdx).Str("action", action.String()).Msg("processor stage failed")

		switch action {
		case core.Retry:
			continue
		case core.Abort:
			return nil, abortError{perr}
		default:
			return nil, perr
		}
	}
}

// abortError marks a stage failure the error handler decided must stop
// the whole pipeline rather than just drop the batch.
type abortError struct{ cause error }

func (e abortError) Error() string { return e.cause.Error() }
func (e abortError) Unwrap() error { return e.cause }

func isAbort(err error) bool {
	_, ok := err.(abortError)
	return ok
}

// fanOutToSinks implements §4.7 step 4: sequential fan-out, per-sink
// failures logged, collected, and counted but never fatal — every sink
// gets a chance to run regardless of what the error handler says about
// any other sink's failure. RecordsProcessed counts the batch once, not
// once per sink, matching its "reached at least one sink" definition.
func (r *Runtime) fanOutToSinks(ctx context.Context, batch core.Batch) {
	if len(batch) == 0 {
		return
	}
	reachedASink := false
	for i, sink := range r.pipeline.Sinks {
		if err := r.outputToSink(ctx, sink, sinkName(i), batch); err != nil {
			continue
		}
		reachedASink = true
	}
	if reachedASink {
		core.RecordsProcessed.WithLabelValues(r.pipeline.Name).Add(float64(len(batch)))
	}
}

// outputToSink runs a single sink, retrying per the error handler's
// verdict the same way executeStage does for processors. Unlike a
// processor stage, a sink's Abort verdict is not honored: the spec
// guarantees other sinks still run and the pipeline stays up no matter
// what one sink's failures look like (§4.7, §7), so Abort here is
// treated the same as Skip.
func (r *Runtime) outputToSink(ctx context.Context, sink core.Sink, component string, batch core.Batch) error {
	for {
		err := sink.Output(ctx, batch)
		if err == nil {
			return nil
		}

		core.ComponentErrors.WithLabelValues(r.pipeline.Name, component, core.SinkErrorType.String()).Inc()
		serr := core.NewSinkError(r.pipeline.Name, component, err)
		if r.pipeline.Errors != nil {
			r.pipeline.Errors.Collect(serr)
		}
		action := core.Skip
		if r.pipeline.ErrorHandler != nil {
			action = r.pipeline.ErrorHandler.HandleError(ctx, serr)
		}
		r.log.Warn().Err(err).Str("sink", component).Str("action", action.String()).Msg("sink output failed")

		if action == core.Retry {
			continue
		}
		return serr
	}
}

// drainOnShutdown gives the buffer graceful time to be read down before
// the runtime declares itself stopped; anything left after the grace
// period is dropped and counted (§4.7, §5, property S6).
func (r *Runtime) drainOnShutdown() {
	defer close(r.stopped)

	deadline := time.Now().Add(r.graceful)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		batch, err := r.pipeline.Buffer.Read(ctx, 50*time.Millisecond)
		cancel()
		if err != nil || len(batch) == 0 {
			break
		}
		r.fanOutToSinks(context.Background(), batch)
		_ = r.pipeline.Buffer.Commit(context.Background(), batch)
	}

	discarded, err := r.pipeline.Buffer.Close()
	if err != nil {
		r.log.Warn().Err(err).Msg("buffer close failed")
	}
	if discarded > 0 {
		core.RecordsDropped.WithLabelValues(r.pipeline.Name, "buffer_grace_exhausted").Add(float64(discarded))
		r.log.Warn().Int("discarded", discarded).Msg("grace period exhausted, dropping queued records")
	}
}

func stageName(i int) string {
	return "stage_" + strconv.Itoa(i)
}

func sinkName(i int) string {
	return "sink_" + strconv.Itoa(i)
}
