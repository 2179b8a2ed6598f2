// internal/task/task_test.go
package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskExecution(t *testing.T) {
	exec, err := NewTaskExecution("task-1", "implementation", "claude", "org/repo", "services/api")
	require.NoError(t, err)
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, StagePending, exec.Stage)
	assert.Equal(t, 0, exec.AttemptCount)
	assert.False(t, exec.CreatedAt.IsZero())
}

func TestNewTaskExecutionValidation(t *testing.T) {
	_, err := NewTaskExecution("", "implementation", "claude", "org/repo", "dir")
	require.Error(t, err)

	_, err = NewTaskExecution("task-1", "implementation", "claude", "", "dir")
	require.Error(t, err)

	_, err = NewTaskExecution("task-1", "implementation", "claude", "org/repo", "")
	require.Error(t, err)
}

func TestWorkspaceIDIncludesAllComponents(t *testing.T) {
	base := WorkspaceID("org/repo", "services/api", "task-1")

	// Changing any component yields a distinct workspace.
	assert.NotEqual(t, base, WorkspaceID("org/other", "services/api", "task-1"))
	assert.NotEqual(t, base, WorkspaceID("org/repo", "services/web", "task-1"))
	assert.NotEqual(t, base, WorkspaceID("org/repo", "services/api", "task-2"))

	// Same inputs are stable.
	assert.Equal(t, base, WorkspaceID("org/repo", "services/api", "task-1"))
}

func TestWorkspaceIDSeparatorAmbiguity(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc".
	assert.NotEqual(t,
		WorkspaceID("ab", "c", "t"),
		WorkspaceID("a", "bc", "t"),
	)
}

func TestStoreKeySanitization(t *testing.T) {
	assert.Equal(t, "taskexec.abc-123", StoreKey("abc-123"))
	assert.Equal(t, "taskexec.org_repo_42", StoreKey("org/repo#42"))
}
