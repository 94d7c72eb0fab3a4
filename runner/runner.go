// Package runner drives a single request through its capability pipeline.
// Stages execute strictly sequentially within a request: stage k+1 is never
// dispatched before stage k resolves, because later stages consume earlier
// results and reclassification decisions. Transient stage failures retry
// with exponential backoff; escalated failures either skip an optional stage
// or fail the request with a partial report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/statdevs/leadmesh/archive"
	"github.com/statdevs/leadmesh/cache"
	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/metrics"
	"github.com/statdevs/leadmesh/registry"
	"github.com/statdevs/leadmesh/routing"
	"github.com/statdevs/leadmesh/scheduler"
	"github.com/statdevs/leadmesh/store"
)

// tracerName identifies the runner's spans.
const tracerName = "github.com/statdevs/leadmesh/runner"

// stageLogger is an optional extension of logging.Logger. Loggers that
// implement it receive a structured record per stage attempt;
// logging.MeshLogger does.
type stageLogger interface {
	LogStage(requestID, capability, agentID string, attempt int, dur time.Duration, success bool, err error)
}

// Config tunes per-stage timeout and retry behavior.
type Config struct {
	// StageTimeout bounds one invocation attempt. Defaults to 30s.
	StageTimeout time.Duration
	// MaxRetries bounds retries after the first attempt. Defaults to 2;
	// a negative value disables retries.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles per attempt with up
	// to 25% jitter. Defaults to 200ms.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	return c
}

// Runner advances request contexts through their pipelines.
type Runner struct {
	contexts  *store.InMemoryStore
	archives  *archive.Archive
	results   *cache.Cache
	routing   *routing.Engine
	scheduler *scheduler.Scheduler
	collector *metrics.Collector
	cfg       Config
	logger    logging.Logger
	emit      core.EventSink
	tracer    trace.Tracer
}

// New creates a runner. The archive and cache may be nil to disable audit
// retention and result caching respectively.
func New(
	contexts *store.InMemoryStore,
	archives *archive.Archive,
	results *cache.Cache,
	routingEngine *routing.Engine,
	sched *scheduler.Scheduler,
	collector *metrics.Collector,
	cfg Config,
	logger logging.Logger,
	sink core.EventSink,
) *Runner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Runner{
		contexts:  contexts,
		archives:  archives,
		results:   results,
		routing:   routingEngine,
		scheduler: sched,
		collector: collector,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		emit:      sink,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run drives the context to a terminal state and compiles its report. A
// non-nil report is returned even on failure, carrying every completed stage
// result plus a failure annotation. The context is evicted from the live
// store and archived before returning.
func (r *Runner) Run(ctx context.Context, rc *core.RequestContext) (*core.Report, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("request.id", rc.ID)))
	defer span.End()

	report, err := r.drive(ctx, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.finalize(rc, report)
	return report, err
}

// drive walks the state machine; it does not evict or archive.
func (r *Runner) drive(ctx context.Context, rc *core.RequestContext) (*core.Report, error) {
	decision := r.routing.Classify(rc.CurrentSignals())
	rc.SetRoute(decision.Tier, decision.Priority, decision.Policy, decision.Pipeline)
	if err := rc.Transition(core.StateRouted); err != nil {
		return r.fail(rc, err)
	}
	r.logger.Info("request routed",
		"request_id", rc.ID,
		"rule", decision.Rule,
		"tier", string(decision.Tier),
		"priority", decision.Priority,
		"stages", len(decision.Pipeline))

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(rc, fmt.Errorf("%w: %v", core.ErrRequestCancelled, err))
		}

		stage, ok := rc.NextStage()
		if !ok {
			break
		}
		if err := rc.Transition(core.StateDispatching); err != nil {
			return r.fail(rc, err)
		}
		rc.PopStage()

		res, stageErr := r.runStage(ctx, rc, stage)
		if err := rc.Transition(core.StateAwaitingAgent); err != nil {
			return r.fail(rc, err)
		}

		switch {
		case stageErr == nil:
			if err := rc.AppendResult(res); err != nil {
				return r.fail(rc, err)
			}
			if r.routing.Enriches(stage.Capability) && !res.Cached {
				if _, err := r.routing.Reclassify(rc); err != nil {
					return r.fail(rc, err)
				}
			}
		case errors.Is(stageErr, core.ErrRequestCancelled):
			return r.fail(rc, stageErr)
		case stage.Mandatory:
			r.emitStage(core.EventStageFailed, rc, stage.Capability, res.AgentID, stageErr)
			return r.fail(rc, fmt.Errorf("mandatory stage %s: %w", stage.Capability, stageErr))
		default:
			skipped := core.Result{
				Capability: stage.Capability,
				AgentID:    res.AgentID,
				Skipped:    true,
				SkipReason: stageErr.Error(),
				Attempts:   res.Attempts,
				QueueWait:  res.QueueWait,
			}
			if err := rc.AppendResult(skipped); err != nil {
				return r.fail(rc, err)
			}
			r.emitStage(core.EventStageSkipped, rc, stage.Capability, res.AgentID, stageErr)
			r.logger.Warn("optional stage skipped",
				"request_id", rc.ID,
				"capability", stage.Capability,
				"reason", stageErr.Error())
		}
	}

	if err := rc.Transition(core.StateFinalizing); err != nil {
		return r.fail(rc, err)
	}
	report := core.CompileReport(rc, "")
	if err := rc.Transition(core.StateCompleted); err != nil {
		return r.fail(rc, err)
	}
	return report, nil
}

// runStage executes one stage with retries, consulting the result cache
// before dispatching.
func (r *Runner) runStage(ctx context.Context, rc *core.RequestContext, stage core.Stage) (core.Result, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("request.id", rc.ID),
			attribute.String("capability", string(stage.Capability)),
			attribute.Bool("mandatory", stage.Mandatory)))
	defer span.End()

	if cached, ok := r.results.Get(stage.Capability, rc.Lead); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		r.emitStage(core.EventStageCompleted, rc, stage.Capability, cached.AgentID, nil)
		return cached, nil
	}

	r.emitStage(core.EventStageStarted, rc, stage.Capability, "", nil)
	_, priority := rc.CurrentRoute()

	var lastErr error
	var lastAgent string
	for attempt := 1; attempt <= r.cfg.MaxRetries+1; attempt++ {
		task := core.NewTask(rc.ID, stage.Capability, priority, attempt, time.Now().Add(r.cfg.StageTimeout))
		req := registry.Request{
			RequestID:  rc.ID,
			Capability: stage.Capability,
			Lead:       rc.Lead,
			Signals:    rc.CurrentSignals(),
			Results:    rc.ResultSnapshot(),
		}

		resCh, err := r.scheduler.Submit(ctx, task, req)
		if err != nil {
			// Queue full or scheduler stopped: not retryable here.
			span.RecordError(err)
			return core.Result{Capability: stage.Capability, Attempts: attempt}, err
		}
		res := <-resCh
		if res.Err != nil {
			span.RecordError(res.Err)
			return core.Result{Capability: stage.Capability, Attempts: attempt, QueueWait: res.QueueWait}, res.Err
		}

		outcome := res.Outcome
		lastAgent = outcome.AgentID
		if sl, ok := r.logger.(stageLogger); ok {
			sl.LogStage(rc.ID, string(stage.Capability), outcome.AgentID, attempt, outcome.Latency, outcome.OK(), outcome.Err)
		}

		if outcome.OK() {
			rc.MergeSignals(outcome.Signals)
			result := core.Result{
				Capability: stage.Capability,
				AgentID:    outcome.AgentID,
				Content:    outcome.Content,
				Attempts:   attempt,
				QueueWait:  res.QueueWait,
				Latency:    outcome.Latency,
			}
			r.results.Put(stage.Capability, rc.Lead, result)
			r.emitStage(core.EventStageCompleted, rc, stage.Capability, outcome.AgentID, nil)
			return result, nil
		}

		lastErr = outcome.Err
		if !outcome.Transient() || attempt == r.cfg.MaxRetries+1 {
			task.State = core.TaskDead
			break
		}
		task.State = core.TaskRetried
		r.collector.RecordRetry(outcome.AgentID, stage.Capability)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
		select {
		case <-ctx.Done():
			return core.Result{Capability: stage.Capability, AgentID: lastAgent, Attempts: attempt}, core.ErrRequestCancelled
		case <-time.After(r.backoff(attempt)):
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "stage failed")
	return core.Result{Capability: stage.Capability, AgentID: lastAgent, Attempts: r.cfg.MaxRetries + 1}, lastErr
}

// backoff returns the delay before retry n (1-based): base doubled per
// attempt with up to 25% additive jitter.
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.cfg.BackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// fail moves the context to Failed (via Finalizing when legal) and compiles
// the partial report.
func (r *Runner) fail(rc *core.RequestContext, cause error) (*core.Report, error) {
	// Finalizing first when the state machine allows it; Failed is reachable
	// from every non-terminal state either way.
	_ = rc.Transition(core.StateFinalizing)
	_ = rc.Transition(core.StateFailed)
	r.logger.Error("request failed", "request_id", rc.ID, "error", cause.Error())
	return core.CompileReport(rc, cause.Error()), cause
}

// finalize evicts the terminal context from the live store and archives it
// with its report.
func (r *Runner) finalize(rc *core.RequestContext, report *core.Report) {
	if r.contexts != nil {
		_, _ = r.contexts.Evict(rc.ID)
	}
	if r.archives != nil && report != nil {
		r.archives.Put(rc, report)
	}
}

func (r *Runner) emitStage(t core.EventType, rc *core.RequestContext, c core.Capability, agentID string, err error) {
	if r.emit == nil {
		return
	}
	ev := core.NewEvent(t)
	ev.RequestID = rc.ID
	ev.Capability = c
	ev.AgentID = agentID
	tier, _ := rc.CurrentRoute()
	ev.Tier = tier
	if err != nil {
		ev.Error = err.Error()
	}
	r.emit(ev)
}
