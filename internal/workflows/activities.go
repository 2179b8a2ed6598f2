// internal/workflows/activities.go
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// Activities holds the side-effecting operations the pipeline workflow
// delegates to.
type Activities struct {
	Store  store.Store
	Logger *logging.Logger
}

// NewActivities wires the activity set.
func NewActivities(st store.Store, logger *logging.Logger) *Activities {
	return &Activities{
		Store:  st,
		Logger: logger.Named("activities"),
	}
}

// CreateExecutionInput mirrors TaskPipelineInput so the workflow can
// pass its input straight through.
type CreateExecutionInput struct {
	TaskID           string `json:"task_id"`
	AgentRole        string `json:"agent_role"`
	CLIType          string `json:"cli_type"`
	Repository       string `json:"repository"`
	WorkingDirectory string `json:"working_directory"`
}

// CreateExecution persists the pending execution record. Idempotent:
// an existing record means a retried activity or workflow, not an error.
func (a *Activities) CreateExecution(ctx context.Context, input CreateExecutionInput) error {
	exec, err := task.NewTaskExecution(input.TaskID, input.AgentRole,
		input.CLIType, input.Repository, input.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("building task execution: %w", err)
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshaling task execution: %w", err)
	}

	if _, err := a.Store.Create(ctx, task.StoreKey(exec.TaskID), data); err != nil {
		if errors.Is(err, store.ErrConflict) {
			a.Logger.Info(ctx, "execution record already exists",
				zap.String("task_id", input.TaskID))
			return nil
		}
		return fmt.Errorf("persisting task execution: %w", err)
	}

	a.Logger.Info(ctx, "created execution record",
		zap.String("task_id", input.TaskID),
		zap.String("workspace_id", exec.WorkspaceID()),
		zap.String("agent_role", input.AgentRole))
	return nil
}
