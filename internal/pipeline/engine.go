// internal/pipeline/engine.go

// Package pipeline advances a task's stage atomically in response to
// correlated events and resumes the suspended workflow after each
// transition.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// maxTransitionRetries bounds re-attempts after a lost write race.
const maxTransitionRetries = 2

var (
	// ErrTransientInfra is surfaced when a transition keeps losing write
	// races beyond the retry bound. Callers retry with backoff.
	ErrTransientInfra = errors.New("transient infrastructure error")
)

// ResumeSignaler resumes the suspended pipeline after a stage change.
// Resuming an execution that is already running must be a no-op.
type ResumeSignaler interface {
	ResumePipeline(ctx context.Context, taskID string, stage task.Stage) error
}

// Engine applies stage transitions against the resource store.
type Engine struct {
	store    store.Store
	signaler ResumeSignaler
	logger   *logging.Logger
}

// NewEngine wires the engine.
func NewEngine(s store.Store, signaler ResumeSignaler, logger *logging.Logger) *Engine {
	return &Engine{
		store:    s,
		signaler: signaler,
		logger:   logger.Named("pipeline"),
	}
}

// HandleStageEvent implements events.StageHandler. Events without a task
// ID or expected stage are dropped: under at-least-once delivery a
// malformed duplicate must never wedge processing.
func (e *Engine) HandleStageEvent(ctx context.Context, event events.Event) error {
	next, ok := event.StageTransition()
	if !ok {
		e.logger.Warn(ctx, "dropping non-stage event",
			zap.String("event_type", string(event.Type)))
		return nil
	}
	if event.Correlation.TaskID == "" || event.Correlation.ExpectedStage == nil {
		e.logger.Warn(ctx, "dropping stage event without full correlation keys",
			zap.String("event_type", string(event.Type)),
			zap.String("task_id", event.Correlation.TaskID))
		return nil
	}
	ctx = logging.WithTaskID(ctx, event.Correlation.TaskID)
	return e.ApplyTransition(ctx, event.Correlation.TaskID, *event.Correlation.ExpectedStage, next)
}

// ApplyTransition moves the task from expected to next.
//
// A stage mismatch is the expected outcome of duplicate or out-of-order
// delivery: it is logged and dropped, never retried or escalated. A
// missing record means the owning resource was deleted, so all further
// correlated events are no-ops. Write conflicts (another writer won the
// race) re-run the whole read-check-write a bounded number of times
// before surfacing ErrTransientInfra.
func (e *Engine) ApplyTransition(ctx context.Context, taskID string, expected, next task.Stage) error {
	key := task.StoreKey(taskID)

	for attempt := 0; ; attempt++ {
		entry, err := e.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Info(ctx, "task execution deleted, dropping transition",
				zap.String("task_id", taskID),
				zap.Stringer("next_stage", next))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrTransientInfra, key, err)
		}

		var exec task.TaskExecution
		if err := json.Unmarshal(entry.Value, &exec); err != nil {
			return fmt.Errorf("decoding task execution %s: %w", key, err)
		}

		if exec.Stage != expected {
			e.logger.Info(ctx, "stage mismatch, dropping event",
				zap.String("task_id", taskID),
				zap.Stringer("current_stage", exec.Stage),
				zap.Stringer("expected_stage", expected),
				zap.Stringer("next_stage", next))
			return nil
		}
		if !exec.Stage.CanTransitionTo(next) {
			e.logger.Warn(ctx, "illegal transition, dropping event",
				zap.String("task_id", taskID),
				zap.Stringer("current_stage", exec.Stage),
				zap.Stringer("next_stage", next))
			return nil
		}

		exec.Stage = next
		data, err := json.Marshal(&exec)
		if err != nil {
			return fmt.Errorf("encoding task execution %s: %w", key, err)
		}

		_, err = e.store.Update(ctx, key, data, entry.Revision)
		if err == nil {
			e.logger.Info(ctx, "stage transition applied",
				zap.String("task_id", taskID),
				zap.Stringer("from_stage", expected),
				zap.Stringer("to_stage", next))
			return e.resume(ctx, taskID, next)
		}
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Info(ctx, "task execution deleted mid-transition, dropping",
				zap.String("task_id", taskID))
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: writing %s: %v", ErrTransientInfra, key, err)
		}
		if attempt >= maxTransitionRetries {
			return fmt.Errorf("%w: transition for %s lost %d write races",
				ErrTransientInfra, taskID, attempt+1)
		}
		e.logger.Debug(ctx, "transition lost write race, retrying",
			zap.String("task_id", taskID),
			zap.Int("attempt", attempt+1))
	}
}

// resume signals the workflow runtime. The signal is idempotent, so a
// failed delivery is retried once before the error is surfaced.
func (e *Engine) resume(ctx context.Context, taskID string, stage task.Stage) error {
	err := e.signaler.ResumePipeline(ctx, taskID, stage)
	if err == nil {
		return nil
	}
	e.logger.Warn(ctx, "resume signal failed, retrying once",
		zap.String("task_id", taskID),
		zap.Error(err))
	if err := e.signaler.ResumePipeline(ctx, taskID, stage); err != nil {
		return fmt.Errorf("resuming pipeline for %s: %w", taskID, err)
	}
	return nil
}
