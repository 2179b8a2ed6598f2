// internal/remediation/router.go
package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultDedupWindow = 10 * time.Minute

	instrumentationName = "github.com/fyrsmithlabs/orchestrd/internal/remediation"
)

// Config bounds the retry/dedup behavior of the router.
type Config struct {
	// MaxAttempts is the retry budget per remediation cycle. Exhausting
	// it escalates.
	MaxAttempts int
	// DedupWindow suppresses re-opening a cycle for the same identity
	// this soon after it finished.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = defaultDedupWindow
	}
	return c
}

// RemediationJob is one agent invocation submitted to the execution
// backend. Prompt carries the full instruction text; the invocation's
// prompt reference is a mount path the backend materializes it at.
type RemediationJob struct {
	RemediationID string
	DedupKey      string
	AttemptNumber int
	Agent         string
	Branch        string
	Prompt        string
	CLIType       adapter.CLIType
	Invocation    *adapter.Invocation
}

// JobRunner submits remediation agent jobs.
type JobRunner interface {
	SubmitRemediation(ctx context.Context, job RemediationJob) error
}

// AgentResolver maps an agent role to its configuration and CLI.
type AgentResolver interface {
	AgentFor(role string) (adapter.AgentConfig, adapter.CLIType, error)
}

// Router consumes CI signals: failures open deduplicated remediation
// cycles with bounded agent retries, successes close the cycle they
// belong to. Terminal cycles stay in the store so duplicate signals
// inside the dedup window are recognized.
type Router struct {
	store     store.Store
	registry  *adapter.Registry
	agents    AgentResolver
	runner    JobRunner
	gatherer  *ContextGatherer
	memory    *PatternMemory
	escalator *Escalator
	cfg       Config
	logger    *logging.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	attemptCounter  metric.Int64Counter
	escalateCounter metric.Int64Counter
}

// NewRouter wires the router. gatherer and memory may be nil; their
// absence degrades context quality, not correctness.
func NewRouter(st store.Store, registry *adapter.Registry, agents AgentResolver, runner JobRunner, gatherer *ContextGatherer, memory *PatternMemory, escalator *Escalator, cfg Config, logger *logging.Logger) *Router {
	r := &Router{
		store:     st,
		registry:  registry,
		agents:    agents,
		runner:    runner,
		gatherer:  gatherer,
		memory:    memory,
		escalator: escalator,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("remediation"),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r
}

func (r *Router) initMetrics() {
	var err error

	r.attemptCounter, err = r.meter.Int64Counter(
		"orchestrd.remediation.attempts_total",
		metric.WithDescription("Total number of remediation attempts started"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		r.logger.Warn(context.Background(), "failed to create attempt counter", zap.Error(err))
	}

	r.escalateCounter, err = r.meter.Int64Counter(
		"orchestrd.remediation.escalations_total",
		metric.WithDescription("Total number of remediation cycles escalated"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		r.logger.Warn(context.Background(), "failed to create escalation counter", zap.Error(err))
	}
}

var _ events.CIHandler = (*Router)(nil)

// HandleCISignal routes one CI signal. Malformed payloads are dropped:
// delivery is at-least-once and a payload that does not parse never
// will, so failing would only wedge the queue.
func (r *Router) HandleCISignal(ctx context.Context, event events.Event) error {
	ctx, span := r.tracer.Start(ctx, "remediation.handle_ci_signal")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_type", string(event.Type)),
		attribute.Int64("workflow_run_id", event.Correlation.WorkflowRunID))

	var signal FailureSignal
	if err := json.Unmarshal(event.RawPayload, &signal); err != nil {
		r.logger.Warn(ctx, "dropping CI signal with malformed payload",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return nil
	}

	switch event.Type {
	case events.TypeCheckFailed:
		return r.handleFailure(ctx, signal)
	case events.TypeCheckSucceeded:
		return r.handleSuccess(ctx, signal)
	default:
		r.logger.Warn(ctx, "dropping non-CI event",
			zap.String("event_type", string(event.Type)))
		return nil
	}
}

func (r *Router) handleFailure(ctx context.Context, signal FailureSignal) error {
	failureType := Classify(signal)
	dedupKey := signal.DedupKey(failureType)

	existing, err := r.loadTask(ctx, dedupKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading remediation task %q: %w", dedupKey, err)
	}
	if existing != nil {
		if !existing.Status.IsTerminal() {
			r.logger.Info(ctx, "duplicate failure signal for active remediation, dropping",
				zap.String("dedup_key", dedupKey),
				zap.String("status", string(existing.Status)))
			return nil
		}
		if time.Since(existing.UpdatedAt) < r.cfg.DedupWindow {
			r.logger.Info(ctx, "failure signal inside dedup window of finished cycle, dropping",
				zap.String("dedup_key", dedupKey),
				zap.Time("finished_at", existing.UpdatedAt))
			return nil
		}
	}

	task := NewRemediationTask(signal, failureType)
	if err := r.persistNew(ctx, task, existing); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent delivery created the cycle first.
			r.logger.Info(ctx, "lost creation race for remediation cycle, dropping",
				zap.String("dedup_key", dedupKey))
			return nil
		}
		return err
	}

	r.logger.Info(ctx, "opened remediation cycle",
		zap.String("remediation_id", task.ID),
		zap.String("dedup_key", dedupKey),
		zap.String("failure_type", string(failureType)),
		zap.String("workflow", signal.WorkflowName),
		zap.String("branch", signal.Branch))

	return r.startAttempt(ctx, task, task.TargetAgent)
}

// persistNew writes a fresh cycle. When a terminal predecessor holds the
// key (same identity failing again outside the dedup window), the new
// cycle replaces it with a conditional write on the observed revision.
func (r *Router) persistNew(ctx context.Context, task *RemediationTask, prior *RemediationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling remediation task: %w", err)
	}
	if prior != nil {
		task.Version, err = r.store.Update(ctx, task.StoreKey(), data, prior.Version)
		return err
	}
	task.Version, err = r.store.Create(ctx, task.StoreKey(), data)
	return err
}

// startAttempt appends an attempt record, persists it, and submits the
// agent job. The record is written before submission so a crash between
// the two leaves evidence of the attempt rather than a silent duplicate.
func (r *Router) startAttempt(ctx context.Context, task *RemediationTask, agent string) error {
	enriched := r.gather(ctx, task.Signal)

	agentCfg, cliType, err := r.agents.AgentFor(agent)
	if err != nil {
		return fmt.Errorf("resolving remediation agent %q: %w", agent, err)
	}
	adp, err := r.registry.Resolve(cliType)
	if err != nil {
		return fmt.Errorf("resolving adapter for agent %q: %w", agent, err)
	}

	attemptNumber := len(task.Attempts) + 1
	promptRef := path.Join("prompts", "remediation", agent,
		fmt.Sprintf("attempt-%d.md", attemptNumber))
	invocation, err := adp.BuildInvocation(agentCfg, promptRef)
	if err != nil {
		return fmt.Errorf("building invocation for agent %q: %w", agent, err)
	}

	task.Attempts = append(task.Attempts, RemediationAttempt{
		AttemptNumber: attemptNumber,
		Agent:         agent,
		StartedAt:     time.Now().UTC(),
	})
	task.Status = StatusInProgress
	if err := r.saveTask(ctx, task); err != nil {
		return err
	}

	job := RemediationJob{
		RemediationID: task.ID,
		DedupKey:      task.DedupKey,
		AttemptNumber: attemptNumber,
		Agent:         agent,
		Branch:        task.Signal.Branch,
		Prompt:        buildPrompt(task, enriched),
		CLIType:       cliType,
		Invocation:    invocation,
	}
	if err := r.runner.SubmitRemediation(ctx, job); err != nil {
		return fmt.Errorf("submitting remediation attempt %d: %w", attemptNumber, err)
	}

	if r.attemptCounter != nil {
		r.attemptCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("failure_type", string(task.FailureType))))
	}
	r.logger.Info(ctx, "submitted remediation attempt",
		zap.String("remediation_id", task.ID),
		zap.Int("attempt", attemptNumber),
		zap.String("agent", agent))
	return nil
}

// RecordOutcome completes the running attempt of a cycle. Failure and
// timeout outcomes respawn with a rotated agent until the budget is
// spent, then escalate. Outcomes for unknown or finished cycles are
// dropped: completion signals are at-least-once too.
func (r *Router) RecordOutcome(ctx context.Context, dedupKey string, outcome Outcome, logsRef string) error {
	task, err := r.loadTask(ctx, dedupKey)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn(ctx, "outcome for unknown remediation cycle, dropping",
			zap.String("dedup_key", dedupKey))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading remediation task %q: %w", dedupKey, err)
	}
	if task.Status.IsTerminal() {
		r.logger.Info(ctx, "outcome for finished remediation cycle, dropping",
			zap.String("dedup_key", dedupKey),
			zap.String("status", string(task.Status)))
		return nil
	}

	last := task.LastAttempt()
	if last == nil || !last.CompletedAt.IsZero() {
		r.logger.Warn(ctx, "outcome with no running attempt, dropping",
			zap.String("dedup_key", dedupKey))
		return nil
	}
	last.CompletedAt = time.Now().UTC()
	last.Outcome = outcome
	last.LogsRef = logsRef

	if outcome == OutcomeSuccess {
		return r.markSucceeded(ctx, task)
	}

	if len(task.Attempts) >= r.cfg.MaxAttempts {
		task.Status = StatusEscalated
		if err := r.saveTask(ctx, task); err != nil {
			return err
		}
		r.logger.Warn(ctx, "remediation budget exhausted, escalating",
			zap.String("remediation_id", task.ID),
			zap.String("dedup_key", task.DedupKey),
			zap.Int("attempts", len(task.Attempts)))
		if r.escalateCounter != nil {
			r.escalateCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("failure_type", string(task.FailureType))))
		}
		r.escalator.Escalate(ctx, task)
		return nil
	}

	if err := r.saveTask(ctx, task); err != nil {
		return err
	}
	enriched := r.gather(ctx, task.Signal)
	next := RotateAgent(last.Agent, enriched.ChangedFiles)
	r.logger.Info(ctx, "remediation attempt failed, rotating agent",
		zap.String("remediation_id", task.ID),
		zap.Int("attempt", last.AttemptNumber),
		zap.String("failed_agent", last.Agent),
		zap.String("next_agent", next))
	return r.startAttempt(ctx, task, next)
}

// handleSuccess closes the cycle the green check belongs to. Run-scoped
// signals hit one key; branch-scoped signals probe the branch key for
// every failure type, since a green branch vindicates whichever cycle
// was open for it.
func (r *Router) handleSuccess(ctx context.Context, signal FailureSignal) error {
	var candidates []string
	if signal.WorkflowRunID != 0 {
		candidates = []string{fmt.Sprintf("run-%d", signal.WorkflowRunID)}
	} else {
		for _, ft := range []FailureType{
			FailureSecurity, FailureIntegration, FailureLanguage,
			FailureFrontend, FailureInfra,
		} {
			candidates = append(candidates, signal.DedupKey(ft))
		}
	}

	for _, key := range candidates {
		task, err := r.loadTask(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading remediation task %q: %w", key, err)
		}
		if task.Status.IsTerminal() {
			continue
		}
		if err := r.RecordOutcome(ctx, key, OutcomeSuccess, signal.HTMLURL); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) markSucceeded(ctx context.Context, task *RemediationTask) error {
	task.Status = StatusSucceeded
	if err := r.saveTask(ctx, task); err != nil {
		return err
	}

	last := task.LastAttempt()
	r.logger.Info(ctx, "remediation succeeded",
		zap.String("remediation_id", task.ID),
		zap.String("dedup_key", task.DedupKey),
		zap.Int("attempts", len(task.Attempts)),
		zap.String("agent", last.Agent))

	if r.memory != nil {
		// Detached from the request context: the fix record outliving
		// the triggering delivery is the point.
		summary := fmt.Sprintf("fixed by %s agent on attempt %d", last.Agent, last.AttemptNumber)
		r.memory.Record(context.WithoutCancel(ctx), task, summary)
	}
	return nil
}

func (r *Router) loadTask(ctx context.Context, dedupKey string) (*RemediationTask, error) {
	entry, err := r.store.Get(ctx, TaskStoreKey(dedupKey))
	if err != nil {
		return nil, err
	}
	var task RemediationTask
	if err := json.Unmarshal(entry.Value, &task); err != nil {
		return nil, fmt.Errorf("unmarshaling remediation task %q: %w", dedupKey, err)
	}
	task.Version = entry.Revision
	return &task, nil
}

// saveTask is a conditional write on the revision observed at load. The
// dispatcher serializes deliveries per workflow run, so a conflict means
// an out-of-band writer; surface it rather than clobber.
func (r *Router) saveTask(ctx context.Context, task *RemediationTask) error {
	task.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling remediation task: %w", err)
	}
	rev, err := r.store.Update(ctx, task.StoreKey(), data, task.Version)
	if err != nil {
		return fmt.Errorf("persisting remediation task %q: %w", task.DedupKey, err)
	}
	task.Version = rev
	return nil
}

func (r *Router) gather(ctx context.Context, signal FailureSignal) *EnrichedContext {
	if r.gatherer == nil {
		return &EnrichedContext{Signal: signal}
	}
	return r.gatherer.Gather(ctx, signal)
}

// buildPrompt renders the instruction text for one remediation attempt.
func buildPrompt(task *RemediationTask, enriched *EnrichedContext) string {
	var sb strings.Builder
	signal := task.Signal

	fmt.Fprintf(&sb, "# CI Failure Remediation\n\n")
	fmt.Fprintf(&sb, "The workflow %q failed on branch %q (commit %s).\n",
		signal.WorkflowName, signal.Branch, shortSHA(signal.HeadSHA))
	if signal.JobName != "" {
		fmt.Fprintf(&sb, "Failing job: %s\n", signal.JobName)
	}
	if signal.HTMLURL != "" {
		fmt.Fprintf(&sb, "Run: %s\n", signal.HTMLURL)
	}
	fmt.Fprintf(&sb, "\nFailure classification: %s\n", task.FailureType)

	if enriched.PRTitle != "" {
		fmt.Fprintf(&sb, "\n## Pull Request\n\n%q by %s\n", enriched.PRTitle, enriched.PRAuthor)
	}
	if len(enriched.ChangedFiles) > 0 {
		sb.WriteString("\n## Changed Files\n\n")
		for _, f := range enriched.ChangedFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if signal.LogExcerpt != "" {
		fmt.Fprintf(&sb, "\n## Log Excerpt\n\n```\n%s\n```\n", signal.LogExcerpt)
	}
	if len(enriched.PriorFixes) > 0 {
		sb.WriteString("\n## Similar Past Fixes\n\n")
		for _, fix := range enriched.PriorFixes {
			fmt.Fprintf(&sb, "- [%s] %s\n", fix.FailureType, fix.Fix)
		}
	}

	// Completed attempts only: the current attempt is the one being
	// prompted.
	var prior []RemediationAttempt
	for _, a := range task.Attempts {
		if !a.CompletedAt.IsZero() {
			prior = append(prior, a)
		}
	}
	if len(prior) > 0 {
		sb.WriteString("\n## Previous Attempts\n\n")
		sb.WriteString("Earlier agents could not fix this failure. Take a different approach.\n\n")
		for _, a := range prior {
			fmt.Fprintf(&sb, "- Attempt %d (%s agent): %s\n", a.AttemptNumber, a.Agent, a.Outcome)
		}
	}

	sb.WriteString("\nFix the failure, commit the change to the branch, and push.\n")
	return sb.String()
}
