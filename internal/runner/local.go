// internal/runner/local.go

// Package runner provides the local process job runtime: agent CLIs run
// as supervised subprocesses with their rendered config files
// materialized into a per-job workspace and their output captured to log
// files.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/reconciler"
	"github.com/fyrsmithlabs/orchestrd/internal/remediation"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// RemediationExitFunc is called when a remediation agent process exits
// with a failure. A zero exit is not reported here: the fix is judged by
// CI, not by the agent's own exit code.
type RemediationExitFunc func(dedupKey string, outcome remediation.Outcome, logsRef string)

type jobKey struct {
	taskID string
	stage  string
}

type jobState struct {
	running     bool
	exitCode    int
	logsRef     string
	summary     string
	completedAt time.Time
}

// Local runs agent jobs as subprocesses on the orchestrator host. It
// satisfies both the reconciler's and the remediation router's job
// runtime boundaries.
type Local struct {
	baseDir  string
	registry *adapter.Registry
	logger   *logging.Logger

	mu   sync.Mutex
	jobs map[jobKey]*jobState

	// OnRemediationExit, when set, receives failed remediation attempts.
	OnRemediationExit RemediationExitFunc

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ reconciler.JobRunner  = (*Local)(nil)
	_ remediation.JobRunner = (*Local)(nil)
)

// NewLocal creates a local runner rooted at baseDir. Workspaces, raw
// logs, and normalized event logs live under it; the registry supplies
// the adapter that parses each CLI's output.
func NewLocal(baseDir string, registry *adapter.Registry, logger *logging.Logger) (*Local, error) {
	for _, sub := range []string{"workspaces", "logs"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating runner directory: %w", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		baseDir:  baseDir,
		registry: registry,
		logger:   logger.Named("runner"),
		jobs:     make(map[jobKey]*jobState),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Lookup reports the tracked job for (taskID, stage).
func (l *Local) Lookup(_ context.Context, taskID string, stage task.Stage) (*reconciler.Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.jobs[jobKey{taskID: taskID, stage: stage.String()}]
	if !ok {
		return &reconciler.Observation{}, nil
	}
	return &reconciler.Observation{
		Exists:      true,
		Running:     state.running,
		ExitCode:    state.exitCode,
		LogsRef:     state.logsRef,
		Summary:     state.summary,
		CompletedAt: state.completedAt,
	}, nil
}

// Submit materializes the job's config files into its workspace and
// starts the agent process. The process outlives the submitting call; it
// is bound to the runner's lifetime, not the reconcile pass.
func (l *Local) Submit(_ context.Context, job reconciler.Job) error {
	key := jobKey{taskID: job.TaskID, stage: job.Stage.String()}
	logName := fmt.Sprintf("%s-%s.log", job.TaskID, job.Stage.String())

	workDir := filepath.Join(l.baseDir, "workspaces", job.WorkspaceID)
	state, err := l.start(job.Invocation, job.CLIType, workDir, logName, nil)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.jobs[key] = state
	l.mu.Unlock()

	l.logger.Info(l.ctx, "started agent job",
		zap.String("task_id", job.TaskID),
		zap.Stringer("stage", job.Stage),
		zap.String("workspace", workDir),
		zap.Bool("buffered", job.Buffered))
	return nil
}

// SubmitRemediation starts a remediation agent with its prompt written
// into the attempt's workspace.
func (l *Local) SubmitRemediation(_ context.Context, job remediation.RemediationJob) error {
	workDir := filepath.Join(l.baseDir, "workspaces",
		fmt.Sprintf("remed-%s-%d", job.RemediationID, job.AttemptNumber))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating remediation workspace: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "PROMPT.md"), []byte(job.Prompt), 0o644); err != nil {
		return fmt.Errorf("writing remediation prompt: %w", err)
	}

	logName := fmt.Sprintf("remed-%s-%d.log", job.RemediationID, job.AttemptNumber)
	dedupKey := job.DedupKey
	_, err := l.start(job.Invocation, job.CLIType, workDir, logName, func(exitCode int, logsRef string) {
		if exitCode == 0 || l.OnRemediationExit == nil {
			return
		}
		l.OnRemediationExit(dedupKey, remediation.OutcomeFailure, logsRef)
	})
	if err != nil {
		return err
	}

	l.logger.Info(l.ctx, "started remediation agent",
		zap.String("remediation_id", job.RemediationID),
		zap.Int("attempt", job.AttemptNumber),
		zap.String("agent", job.Agent))
	return nil
}

// start materializes config files, opens the log sink, launches the
// process, and reaps it in the background. Output is normalized through
// the CLI's adapter: streaming CLIs are parsed as they emit, while
// non-streaming CLIs are parsed from the buffered log after exit.
func (l *Local) start(inv *adapter.Invocation, cliType adapter.CLIType, workDir, logName string, onExit func(exitCode int, logsRef string)) (*jobState, error) {
	if inv == nil {
		return nil, errors.New("nil invocation")
	}
	adp, err := l.registry.Resolve(cliType)
	if err != nil {
		return nil, fmt.Errorf("resolving adapter: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	for _, artifact := range inv.ConfigFiles {
		path := filepath.Join(workDir, artifact.Filename)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, artifact.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing config file %s: %w", artifact.Filename, err)
		}
	}

	logPath := filepath.Join(l.baseDir, "logs", logName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	cmd := exec.CommandContext(l.ctx, inv.Command, inv.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stderr = logFile

	state := &jobState{running: true, logsRef: logPath}
	eventsPath := logPath + ".events"
	streaming := adp.Capabilities().Streaming

	var pw *io.PipeWriter
	var parseDone chan struct{}
	if streaming {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		cmd.Stdout = io.MultiWriter(logFile, pw)
		parseDone = make(chan struct{})
		go func() {
			defer close(parseDone)
			summary, parseErr := writeEvents(adp.ParseOutputStream(pr), eventsPath)
			if parseErr != nil {
				l.logger.Warn(l.ctx, "normalizing agent output",
					zap.String("events", eventsPath), zap.Error(parseErr))
			}
			// Keep the pipe drained whether the stream completed or died,
			// so the process never blocks on a full stdout buffer.
			_, _ = io.Copy(io.Discard, pr)
			l.mu.Lock()
			state.summary = summary
			l.mu.Unlock()
		}()
	} else {
		cmd.Stdout = logFile
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		if pw != nil {
			_ = pw.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", inv.Command, err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		waitErr := cmd.Wait()
		_ = logFile.Close()
		if pw != nil {
			_ = pw.Close()
			<-parseDone
		}

		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if waitErr != nil {
			exitCode = -1
		}

		var summary string
		if !streaming {
			// Non-streaming CLIs only yield parseable output once the
			// process is gone; drain the whole log in one pass.
			var parseErr error
			summary, parseErr = l.bufferEvents(adp, logPath, eventsPath)
			if parseErr != nil {
				l.logger.Warn(l.ctx, "normalizing agent output",
					zap.String("events", eventsPath), zap.Error(parseErr))
			}
		}

		l.mu.Lock()
		state.running = false
		state.exitCode = exitCode
		if !streaming {
			state.summary = summary
		}
		state.completedAt = time.Now().UTC()
		l.mu.Unlock()

		l.logger.Info(l.ctx, "agent process exited",
			zap.String("log", logPath),
			zap.Int("exit_code", exitCode))
		if onExit != nil {
			onExit(exitCode, logPath)
		}
	}()
	return state, nil
}

// writeEvents pulls normalized events off the stream as they arrive,
// appending each as NDJSON to eventsPath. Returns the agent's text
// output joined into one summary.
func writeEvents(stream *adapter.EventStream, eventsPath string) (string, error) {
	f, err := os.Create(eventsPath)
	if err != nil {
		return "", fmt.Errorf("creating events log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	var text strings.Builder
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return text.String(), err
		}
		if ev.Kind == adapter.EventText && ev.Text != "" {
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(ev.Text)
		}
		if err := enc.Encode(ev); err != nil {
			return text.String(), fmt.Errorf("writing events log: %w", err)
		}
	}
}

// bufferEvents parses a non-streaming CLI's complete log after exit.
// Only the completion and the aggregated text survive buffering; the
// per-event detail stays in the raw log.
func (l *Local) bufferEvents(adp adapter.Adapter, logPath, eventsPath string) (string, error) {
	raw, err := os.Open(logPath)
	if err != nil {
		return "", fmt.Errorf("opening buffered log: %w", err)
	}
	defer raw.Close()

	events, err := adp.ParseOutputStream(raw).Drain()
	if err != nil {
		return "", err
	}

	var text strings.Builder
	completion := adapter.NormalizedEvent{Kind: adapter.EventCompletion}
	for _, ev := range events {
		switch ev.Kind {
		case adapter.EventText:
			if ev.Text == "" {
				continue
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(ev.Text)
		case adapter.EventCompletion:
			completion = ev
		}
	}

	f, err := os.Create(eventsPath)
	if err != nil {
		return text.String(), fmt.Errorf("creating events log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if text.Len() > 0 {
		if err := enc.Encode(adapter.NormalizedEvent{Kind: adapter.EventText, Text: text.String()}); err != nil {
			return text.String(), fmt.Errorf("writing events log: %w", err)
		}
	}
	if err := enc.Encode(completion); err != nil {
		return text.String(), fmt.Errorf("writing events log: %w", err)
	}
	return text.String(), nil
}

// Close stops all running jobs and waits for their bookkeeping.
func (l *Local) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}
