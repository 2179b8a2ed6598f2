// internal/workflows/pipeline.go

// Package workflows provides the Temporal workflow definitions backing
// task execution: one durable workflow per task that suspends between
// stages and resumes on signals from the stage engine.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

const (
	// TaskQueue is the queue pipeline workflows and activities run on.
	TaskQueue = "orchestrd-pipeline"

	// StageResumedSignal carries a stage transition into the workflow.
	StageResumedSignal = "stage-resumed"

	workflowIDPrefix = "task-pipeline-"
)

// PipelineWorkflowID returns the deterministic workflow ID for a task.
// One task, one workflow: duplicate starts are rejected by ID.
func PipelineWorkflowID(taskID string) string {
	return workflowIDPrefix + taskID
}

// StageSignal is the payload of a StageResumedSignal.
type StageSignal struct {
	Stage string `json:"stage"`
}

// TaskPipelineInput starts one task pipeline.
type TaskPipelineInput struct {
	TaskID           string `json:"task_id"`
	AgentRole        string `json:"agent_role"`
	CLIType          string `json:"cli_type"`
	Repository       string `json:"repository"`
	WorkingDirectory string `json:"working_directory"`
}

// TaskPipelineResult is the workflow's terminal record.
type TaskPipelineResult struct {
	TaskID     string `json:"task_id"`
	FinalStage string `json:"final_stage"`
	Failed     bool   `json:"failed"`
}

// TaskPipelineWorkflow is the durable spine of one task execution. It
// creates the execution record, then blocks on stage signals until the
// execution reaches a terminal stage. All stage validation lives in the
// engine; the workflow re-checks only enough to drop stale or unknown
// signals, which at-least-once delivery makes routine.
func TaskPipelineWorkflow(ctx workflow.Context, input TaskPipelineInput) (*TaskPipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting task pipeline",
		"task_id", input.TaskID,
		"agent_role", input.AgentRole,
		"cli_type", input.CLIType)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.CreateExecution, CreateExecutionInput(input)).Get(ctx, nil); err != nil {
		return nil, err
	}

	current := task.StagePending
	signals := workflow.GetSignalChannel(ctx, StageResumedSignal)

	for !current.IsTerminal() {
		var sig StageSignal
		signals.Receive(ctx, &sig)

		next, err := task.ParseStage(sig.Stage)
		if err != nil {
			logger.Warn("Ignoring signal with unknown stage", "stage", sig.Stage)
			continue
		}
		if !current.CanTransitionTo(next) {
			// Duplicate or out-of-order delivery.
			logger.Info("Ignoring stale stage signal",
				"current", current.String(),
				"signaled", next.String())
			continue
		}

		logger.Info("Stage advanced",
			"task_id", input.TaskID,
			"from", current.String(),
			"to", next.String())
		current = next
	}

	result := &TaskPipelineResult{
		TaskID:     input.TaskID,
		FinalStage: current.String(),
		Failed:     current == task.StageFailed,
	}
	logger.Info("Task pipeline finished",
		"task_id", input.TaskID,
		"final_stage", result.FinalStage,
		"failed", result.Failed)
	return result, nil
}
