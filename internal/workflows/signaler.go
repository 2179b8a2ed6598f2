// internal/workflows/signaler.go
package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/pipeline"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// TemporalResumeSignaler delivers stage resume signals to the task's
// pipeline workflow.
type TemporalResumeSignaler struct {
	client client.Client
	logger *logging.Logger
}

var _ pipeline.ResumeSignaler = (*TemporalResumeSignaler)(nil)

// NewTemporalResumeSignaler wires the signaler.
func NewTemporalResumeSignaler(c client.Client, logger *logging.Logger) *TemporalResumeSignaler {
	return &TemporalResumeSignaler{
		client: c,
		logger: logger.Named("signaler"),
	}
}

// ResumePipeline signals the task's workflow. A workflow that no longer
// exists is a no-op: the pipeline already finished and the signal is a
// late duplicate.
func (s *TemporalResumeSignaler) ResumePipeline(ctx context.Context, taskID string, stage task.Stage) error {
	workflowID := PipelineWorkflowID(taskID)
	err := s.client.SignalWorkflow(ctx, workflowID, "", StageResumedSignal,
		StageSignal{Stage: stage.String()})
	if err == nil {
		return nil
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		s.logger.Info(ctx, "workflow gone, dropping resume signal",
			zap.String("task_id", taskID),
			zap.String("stage", stage.String()))
		return nil
	}
	return fmt.Errorf("signaling workflow %s: %w", workflowID, err)
}

// StartTaskPipeline starts the durable pipeline for a task. Starting a
// task that is already running is a no-op, which makes task submission
// safely retryable.
func StartTaskPipeline(ctx context.Context, c client.Client, input TaskPipelineInput) error {
	opts := client.StartWorkflowOptions{
		ID:        PipelineWorkflowID(input.TaskID),
		TaskQueue: TaskQueue,
	}
	_, err := c.ExecuteWorkflow(ctx, opts, TaskPipelineWorkflow, input)
	if err == nil {
		return nil
	}

	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return fmt.Errorf("starting pipeline for %s: %w", input.TaskID, err)
}
