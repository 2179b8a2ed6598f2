// internal/reconciler/reconciler.go

// Package reconciler turns declarative task executions into running
// CLI-specific jobs. It is stateless against the resource store: every
// pass reads the execution, diffs desired against observed job state, and
// applies only the difference, so concurrent or repeated invocations for
// the same execution are safe.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/orchestrd/internal/reconciler"

// ErrDegraded is returned when job submission exhausted its retry budget
// and the execution was marked for operator intervention.
var ErrDegraded = errors.New("execution degraded, operator intervention required")

// Job is one submission to the external job runtime.
type Job struct {
	TaskID      string
	Stage       task.Stage
	WorkspaceID string
	CLIType     adapter.CLIType
	Invocation  *adapter.Invocation
	Buffered    bool
}

// Observation is what the job runtime reports back about a job.
type Observation struct {
	Exists      bool
	Running     bool
	ExitCode    int
	LogsRef     string
	Summary     string
	CompletedAt time.Time
}

// JobRunner is the external job runtime boundary.
type JobRunner interface {
	// Lookup reports the job for (taskID, stage), if any.
	Lookup(ctx context.Context, taskID string, stage task.Stage) (*Observation, error)
	// Submit starts a job. Failures are transient from the caller's view.
	Submit(ctx context.Context, job Job) error
}

// EventEmitter publishes internal completion events for the stage engine.
type EventEmitter interface {
	Emit(ctx context.Context, event events.Event) error
}

// Reconciler drives executions toward their desired job state.
type Reconciler struct {
	store    store.Store
	registry *adapter.Registry
	runner   JobRunner
	emitter  EventEmitter
	catalog  *AgentCatalog
	backoff  []time.Duration
	logger   *logging.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	submitCounter  metric.Int64Counter
	degradeCounter metric.Int64Counter
}

// New wires a reconciler. backoff holds the per-retry submission delays;
// its length is the retry budget.
func New(
	s store.Store,
	registry *adapter.Registry,
	runner JobRunner,
	emitter EventEmitter,
	catalog *AgentCatalog,
	backoff []time.Duration,
	logger *logging.Logger,
) *Reconciler {
	r := &Reconciler{
		store:    s,
		registry: registry,
		runner:   runner,
		emitter:  emitter,
		catalog:  catalog,
		backoff:  backoff,
		logger:   logger.Named("reconciler"),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r
}

func (r *Reconciler) initMetrics() {
	var err error

	r.submitCounter, err = r.meter.Int64Counter(
		"orchestrd.reconciler.submissions_total",
		metric.WithDescription("Total number of agent jobs submitted"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		r.logger.Warn(context.Background(), "failed to create submission counter", zap.Error(err))
	}

	r.degradeCounter, err = r.meter.Int64Counter(
		"orchestrd.reconciler.degraded_total",
		metric.WithDescription("Total number of executions marked degraded"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		r.logger.Warn(context.Background(), "failed to create degraded counter", zap.Error(err))
	}
}

// Reconcile brings one execution's observed job state in line with its
// desired state. Idempotent: a missing record, a terminal stage, or an
// already-running job all make it a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, taskID string) (err error) {
	ctx = logging.WithTaskID(ctx, taskID)
	ctx, span := r.tracer.Start(ctx, "reconciler.reconcile")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("task_id", taskID))

	key := task.StoreKey(taskID)

	entry, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug(ctx, "execution absent, nothing to reconcile")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading execution %s: %w", key, err)
	}

	var exec task.TaskExecution
	if err := json.Unmarshal(entry.Value, &exec); err != nil {
		return fmt.Errorf("decoding execution %s: %w", key, err)
	}
	exec.Version = entry.Revision

	if exec.Stage.IsTerminal() {
		r.logger.Debug(ctx, "execution terminal, nothing to reconcile",
			zap.Stringer("stage", exec.Stage))
		return nil
	}
	if exec.Degraded {
		return fmt.Errorf("%w: task %s", ErrDegraded, taskID)
	}

	obs, err := r.runner.Lookup(ctx, exec.TaskID, exec.Stage)
	if err != nil {
		return fmt.Errorf("looking up job for %s at %s: %w", exec.TaskID, exec.Stage, err)
	}

	switch {
	case obs.Exists && obs.Running:
		// Desired state already holds.
		return nil
	case obs.Exists:
		return r.observeCompletion(ctx, &exec, obs)
	default:
		return r.submitJob(ctx, &exec)
	}
}

// observeCompletion records a finished job and emits the completion
// signal. Deciding what the completion means for pipeline state is the
// stage engine's job, never the reconciler's.
func (r *Reconciler) observeCompletion(ctx context.Context, exec *task.TaskExecution, obs *Observation) error {
	r.logger.Info(ctx, "job completed",
		zap.Stringer("stage", exec.Stage),
		zap.Int("exit_code", obs.ExitCode),
		zap.String("logs_ref", obs.LogsRef),
		zap.String("summary", obs.Summary))

	expected := exec.Stage
	event := events.Event{
		Source: events.SourceInternal,
		Correlation: events.CorrelationKeys{
			TaskID:        exec.TaskID,
			ExpectedStage: &expected,
		},
	}

	switch {
	case obs.ExitCode != 0:
		event.Type = events.TypeTaskFailed
	case exec.Stage == task.StageWaitingPRMerged:
		// Merge-triggered post-work finished.
		event.Type = events.TypePostMergeDone
	default:
		// Successful agent runs at earlier stages advance via external
		// review/merge events, not via process exit.
		return nil
	}

	if err := r.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emitting completion event for %s: %w", exec.TaskID, err)
	}
	return nil
}

// submitJob renders the CLI config, builds the invocation, and submits,
// retrying with the configured backoff before marking the execution
// Degraded.
func (r *Reconciler) submitJob(ctx context.Context, exec *task.TaskExecution) error {
	cliType, err := adapter.ParseCLIType(exec.CLIType)
	if err != nil {
		return fmt.Errorf("execution %s: %w", exec.TaskID, err)
	}
	a, err := r.registry.Resolve(cliType)
	if err != nil {
		return fmt.Errorf("execution %s: %w", exec.TaskID, err)
	}

	agentCfg, _, err := r.catalog.AgentFor(exec.AgentRole)
	if err != nil {
		return fmt.Errorf("execution %s: %w", exec.TaskID, err)
	}
	promptRef := r.catalog.PromptRef(exec.AgentRole, cliType, exec.Stage)

	invocation, err := a.BuildInvocation(agentCfg, promptRef)
	if err != nil {
		return fmt.Errorf("building invocation for %s: %w", exec.TaskID, err)
	}

	job := Job{
		TaskID:      exec.TaskID,
		Stage:       exec.Stage,
		WorkspaceID: exec.WorkspaceID(),
		CLIType:     cliType,
		Invocation:  invocation,
		Buffered:    !a.Capabilities().Streaming,
	}

	for attempt := 0; ; attempt++ {
		// Another reconcile may have submitted while this one was backing
		// off; the (task_id, stage) guard keeps submission single.
		obs, err := r.runner.Lookup(ctx, exec.TaskID, exec.Stage)
		if err == nil && obs.Exists {
			r.logger.Debug(ctx, "job appeared concurrently, skipping submit",
				zap.Stringer("stage", exec.Stage))
			return nil
		}

		submitErr := r.runner.Submit(ctx, job)
		if submitErr == nil {
			if r.submitCounter != nil {
				r.submitCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("cli_type", exec.CLIType),
					attribute.String("stage", exec.Stage.String())))
			}
			return r.recordSubmission(ctx, exec)
		}

		if attempt >= len(r.backoff) {
			r.logger.Error(ctx, "submission retries exhausted, marking degraded",
				zap.Stringer("stage", exec.Stage),
				zap.Int("attempts", attempt+1),
				zap.Error(submitErr))
			return r.markDegraded(ctx, exec)
		}

		delay := r.backoff[attempt]
		r.logger.Warn(ctx, "job submission failed, backing off",
			zap.Stringer("stage", exec.Stage),
			zap.Duration("delay", delay),
			zap.Error(submitErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// recordSubmission bumps the attempt counter. A write conflict means a
// concurrent mutation won; the next reconcile sees fresh state, so the
// count update is abandoned rather than fought over.
func (r *Reconciler) recordSubmission(ctx context.Context, exec *task.TaskExecution) error {
	exec.AttemptCount++
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encoding execution %s: %w", exec.TaskID, err)
	}
	_, err = r.store.Update(ctx, exec.StoreKey(), data, exec.Version)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		r.logger.Debug(ctx, "attempt count update lost race", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording submission for %s: %w", exec.TaskID, err)
	}
	r.logger.Info(ctx, "job submitted",
		zap.Stringer("stage", exec.Stage),
		zap.Int("attempt_count", exec.AttemptCount),
		zap.String("workspace_id", exec.WorkspaceID()))
	return nil
}

func (r *Reconciler) markDegraded(ctx context.Context, exec *task.TaskExecution) error {
	if r.degradeCounter != nil {
		r.degradeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", exec.Stage.String())))
	}
	exec.Degraded = true
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encoding execution %s: %w", exec.TaskID, err)
	}
	if _, err := r.store.Update(ctx, exec.StoreKey(), data, exec.Version); err != nil &&
		!errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("marking %s degraded: %w", exec.TaskID, err)
	}
	return fmt.Errorf("%w: task %s", ErrDegraded, exec.TaskID)
}

// Run drives reconciles from store changes until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ch, err := r.store.Watch(ctx, "taskexec.")
	if err != nil {
		return fmt.Errorf("watching executions: %w", err)
	}

	r.logger.Info(ctx, "reconcile loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			if change.Deleted {
				continue
			}
			taskID := strings.TrimPrefix(change.Key, "taskexec.")
			if err := r.Reconcile(ctx, taskID); err != nil {
				r.logger.Error(ctx, "reconcile failed",
					zap.String("task_id", taskID),
					zap.Error(err))
			}
		}
	}
}
