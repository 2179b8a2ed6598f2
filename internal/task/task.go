// internal/task/task.go
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskExecution is one unit of agent work tracked through the pipeline.
// The reconciler owns the record; the stage engine mutates only Stage.
type TaskExecution struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id"`
	AgentRole        string    `json:"agent_role"`
	CLIType          string    `json:"cli_type"`
	Repository       string    `json:"repository"`
	WorkingDirectory string    `json:"working_directory"`
	Stage            Stage     `json:"stage"`
	AttemptCount     int       `json:"attempt_count"`
	Degraded         bool      `json:"degraded,omitempty"`
	CreatedAt        time.Time `json:"created_at"`

	// Version is the store revision observed at read time. Writes carry
	// it back so the store can reject stale updates.
	Version uint64 `json:"-"`
}

// NewTaskExecution creates a Pending execution for the given task.
func NewTaskExecution(taskID, agentRole, cliType, repository, workingDirectory string) (*TaskExecution, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if workingDirectory == "" {
		return nil, fmt.Errorf("working_directory is required")
	}
	return &TaskExecution{
		ID:               uuid.NewString(),
		TaskID:           taskID,
		AgentRole:        agentRole,
		CLIType:          cliType,
		Repository:       repository,
		WorkingDirectory: workingDirectory,
		Stage:            StagePending,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// WorkspaceID derives the workspace identity for the execution. It hashes
// repository, working directory, and task ID together so tasks with the
// same directory in different repositories (or different tasks in the same
// directory) never share a workspace.
func (t *TaskExecution) WorkspaceID() string {
	return WorkspaceID(t.Repository, t.WorkingDirectory, t.TaskID)
}

// WorkspaceID hashes the composite workspace identity.
func WorkspaceID(repository, workingDirectory, taskID string) string {
	h := sha256.New()
	// Field separator prevents ambiguous concatenations.
	h.Write([]byte(repository))
	h.Write([]byte{0})
	h.Write([]byte(workingDirectory))
	h.Write([]byte{0})
	h.Write([]byte(taskID))
	return "ws-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// StoreKey returns the resource store key for this execution. Executions
// are keyed by task ID because that is the identity external events
// correlate on; one task has at most one live execution record.
func (t *TaskExecution) StoreKey() string {
	return StoreKey(t.TaskID)
}

// StoreKey builds the store key for a task ID.
func StoreKey(taskID string) string {
	return "taskexec." + sanitizeKeyPart(taskID)
}

// sanitizeKeyPart maps arbitrary identifiers into the store's key
// alphabet.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
