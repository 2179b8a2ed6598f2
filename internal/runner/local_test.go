// internal/runner/local_test.go
package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/reconciler"
	"github.com/fyrsmithlabs/orchestrd/internal/remediation"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

func newLocalRunner(t *testing.T) *Local {
	t.Helper()
	registry, err := adapter.NewDefaultRegistry()
	require.NoError(t, err)
	l, err := NewLocal(t.TempDir(), registry, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func shellInvocation(script string, configFiles ...adapter.ConfigArtifact) *adapter.Invocation {
	return &adapter.Invocation{
		Command:     "sh",
		Args:        []string{"-c", script},
		Env:         []string{"AGENT_MODEL=test"},
		ConfigFiles: configFiles,
	}
}

func TestSubmitTracksCompletion(t *testing.T) {
	l := newLocalRunner(t)
	ctx := context.Background()

	job := reconciler.Job{
		TaskID:      "task-1",
		Stage:       task.StagePending,
		WorkspaceID: "ws-0123456789abcdef",
		CLIType:     adapter.CLIClaude,
		Invocation:  shellInvocation("echo hello"),
	}
	require.NoError(t, l.Submit(ctx, job))

	require.Eventually(t, func() bool {
		obs, err := l.Lookup(ctx, "task-1", task.StagePending)
		return err == nil && obs.Exists && !obs.Running
	}, 5*time.Second, 10*time.Millisecond)

	obs, err := l.Lookup(ctx, "task-1", task.StagePending)
	require.NoError(t, err)
	assert.Equal(t, 0, obs.ExitCode)
	assert.False(t, obs.CompletedAt.IsZero())

	logData, err := os.ReadFile(obs.LogsRef)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "hello")
}

func TestSubmitMaterializesConfigFiles(t *testing.T) {
	l := newLocalRunner(t)
	ctx := context.Background()

	job := reconciler.Job{
		TaskID:      "task-2",
		Stage:       task.StagePending,
		WorkspaceID: "ws-cfg",
		CLIType:     adapter.CLIClaude,
		Invocation: shellInvocation("true",
			adapter.ConfigArtifact{Filename: ".claude/settings.json", Content: []byte(`{"model":"sonnet"}`)},
			adapter.ConfigArtifact{Filename: "CLAUDE.md", Content: []byte("# Agent Guidance\n")},
		),
	}
	require.NoError(t, l.Submit(ctx, job))

	workDir := filepath.Join(l.baseDir, "workspaces", "ws-cfg")
	settings, err := os.ReadFile(filepath.Join(workDir, ".claude", "settings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"sonnet"}`, string(settings))

	memory, err := os.ReadFile(filepath.Join(workDir, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(memory), "Agent Guidance")
}

func TestSubmitRecordsNonZeroExit(t *testing.T) {
	l := newLocalRunner(t)
	ctx := context.Background()

	job := reconciler.Job{
		TaskID:      "task-3",
		Stage:       task.StageWaitingPRMerged,
		WorkspaceID: "ws-fail",
		CLIType:     adapter.CLIClaude,
		Invocation:  shellInvocation("exit 3"),
	}
	require.NoError(t, l.Submit(ctx, job))

	require.Eventually(t, func() bool {
		obs, err := l.Lookup(ctx, "task-3", task.StageWaitingPRMerged)
		return err == nil && obs.Exists && !obs.Running
	}, 5*time.Second, 10*time.Millisecond)

	obs, err := l.Lookup(ctx, "task-3", task.StageWaitingPRMerged)
	require.NoError(t, err)
	assert.Equal(t, 3, obs.ExitCode)
}

func TestSubmitNormalizesStreamingOutput(t *testing.T) {
	l := newLocalRunner(t)
	ctx := context.Background()

	script := `echo '{"type":"tool_call","tool":"bash","args":{"cmd":"go test ./..."}}'
echo '{"type":"text","text":"tests are green"}'
echo '{"type":"result","exit_code":0}'`
	job := reconciler.Job{
		TaskID:      "task-5",
		Stage:       task.StagePending,
		WorkspaceID: "ws-stream",
		CLIType:     adapter.CLIClaude,
		Invocation:  shellInvocation(script),
	}
	require.NoError(t, l.Submit(ctx, job))

	require.Eventually(t, func() bool {
		obs, err := l.Lookup(ctx, "task-5", task.StagePending)
		return err == nil && obs.Exists && !obs.Running
	}, 5*time.Second, 10*time.Millisecond)

	obs, err := l.Lookup(ctx, "task-5", task.StagePending)
	require.NoError(t, err)
	assert.Equal(t, "tests are green", obs.Summary)

	data, err := os.ReadFile(obs.LogsRef + ".events")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	var first adapter.NormalizedEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, adapter.EventToolCall, first.Kind)
	assert.Equal(t, "bash", first.Tool)

	var last adapter.NormalizedEvent
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, adapter.EventCompletion, last.Kind)
}

func TestSubmitBuffersNonStreamingOutput(t *testing.T) {
	l := newLocalRunner(t)
	ctx := context.Background()

	script := `echo '{"type":"tool_call","tool":"apply_patch","args":{}}'
echo '{"type":"text","text":"applying patch"}'
echo '{"type":"text","text":"done"}'`
	job := reconciler.Job{
		TaskID:      "task-6",
		Stage:       task.StagePending,
		WorkspaceID: "ws-buffered",
		CLIType:     adapter.CLICodex,
		Invocation:  shellInvocation(script),
	}
	require.NoError(t, l.Submit(ctx, job))

	require.Eventually(t, func() bool {
		obs, err := l.Lookup(ctx, "task-6", task.StagePending)
		return err == nil && obs.Exists && !obs.Running
	}, 5*time.Second, 10*time.Millisecond)

	obs, err := l.Lookup(ctx, "task-6", task.StagePending)
	require.NoError(t, err)
	assert.Equal(t, "applying patch\ndone", obs.Summary)

	// Buffering keeps only the aggregate text and the completion; the
	// tool call stays in the raw log.
	data, err := os.ReadFile(obs.LogsRef + ".events")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var text adapter.NormalizedEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &text))
	assert.Equal(t, adapter.EventText, text.Kind)
	assert.Equal(t, "applying patch\ndone", text.Text)

	var completion adapter.NormalizedEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &completion))
	assert.Equal(t, adapter.EventCompletion, completion.Kind)
}

func TestLookupUnknownJob(t *testing.T) {
	l := newLocalRunner(t)

	obs, err := l.Lookup(context.Background(), "nope", task.StagePending)
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestSubmitRejectsNilInvocation(t *testing.T) {
	l := newLocalRunner(t)

	err := l.Submit(context.Background(), reconciler.Job{TaskID: "task-4", WorkspaceID: "ws", CLIType: adapter.CLIClaude})
	require.Error(t, err)
}

func TestSubmitRemediationReportsFailedAttempt(t *testing.T) {
	l := newLocalRunner(t)

	var mu sync.Mutex
	var gotKey string
	var gotOutcome remediation.Outcome
	l.OnRemediationExit = func(dedupKey string, outcome remediation.Outcome, logsRef string) {
		mu.Lock()
		defer mu.Unlock()
		gotKey = dedupKey
		gotOutcome = outcome
	}

	job := remediation.RemediationJob{
		RemediationID: "r-1",
		DedupKey:      "run-42",
		AttemptNumber: 1,
		Agent:         "language",
		Prompt:        "# CI Failure Remediation\n",
		CLIType:       adapter.CLIClaude,
		Invocation:    shellInvocation("exit 2"),
	}
	require.NoError(t, l.SubmitRemediation(context.Background(), job))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotKey != ""
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "run-42", gotKey)
	assert.Equal(t, remediation.OutcomeFailure, gotOutcome)

	prompt, err := os.ReadFile(filepath.Join(l.baseDir, "workspaces", "remed-r-1-1", "PROMPT.md"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "CI Failure Remediation")
}

func TestSubmitRemediationSuccessIsNotReported(t *testing.T) {
	logger := logging.NewTestLogger()
	registry, err := adapter.NewDefaultRegistry()
	require.NoError(t, err)
	l, err := NewLocal(t.TempDir(), registry, logger.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	var mu sync.Mutex
	called := false
	l.OnRemediationExit = func(string, remediation.Outcome, string) {
		mu.Lock()
		defer mu.Unlock()
		called = true
	}

	job := remediation.RemediationJob{
		RemediationID: "r-2",
		DedupKey:      "run-43",
		AttemptNumber: 1,
		Agent:         "language",
		Prompt:        "prompt",
		CLIType:       adapter.CLIClaude,
		Invocation:    shellInvocation("true"),
	}
	require.NoError(t, l.SubmitRemediation(context.Background(), job))

	require.Eventually(t, func() bool {
		return logger.FilterMessage("agent process exited").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called)
}
