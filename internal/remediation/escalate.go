// internal/remediation/escalate.go
package remediation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

// EscalationNotice is the structured, human-facing record emitted when
// automated remediation gives up. Emitting it is mandatory: exhausting
// the retry budget without a notice would leave the pipeline silently
// stuck.
type EscalationNotice struct {
	RemediationID string
	DedupKey      string
	Attempts      []RemediationAttempt
	Summary       string
}

// Notifier delivers escalation notices. Delivery channel (chat, PR
// comment, page) is the implementation's business.
type Notifier interface {
	Notify(ctx context.Context, notice EscalationNotice) error
}

// LogNotifier delivers escalation notices to the log. It is the default
// delivery channel when no chat or pager integration is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier wires a log-backed notifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("escalation")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, notice EscalationNotice) error {
	n.logger.Error(ctx, "remediation escalated",
		zap.String("remediation_id", notice.RemediationID),
		zap.String("dedup_key", notice.DedupKey),
		zap.Int("attempts", len(notice.Attempts)),
		zap.String("summary", notice.Summary))
	return nil
}

// Escalator builds notices and pushes them through the notifier with one
// retry. A notice that still cannot be delivered is logged as
// failed-to-notify at error level, never dropped quietly.
type Escalator struct {
	notifier Notifier
	logger   *logging.Logger
}

// NewEscalator wires the escalator.
func NewEscalator(notifier Notifier, logger *logging.Logger) *Escalator {
	return &Escalator{
		notifier: notifier,
		logger:   logger.Named("escalator"),
	}
}

// Escalate emits the notice for an exhausted remediation cycle.
func (e *Escalator) Escalate(ctx context.Context, task *RemediationTask) EscalationNotice {
	notice := EscalationNotice{
		RemediationID: task.ID,
		DedupKey:      task.DedupKey,
		Attempts:      task.Attempts,
		Summary:       BuildEscalationSummary(task),
	}

	if err := e.notifier.Notify(ctx, notice); err != nil {
		e.logger.Warn(ctx, "escalation delivery failed, retrying once",
			zap.String("remediation_id", task.ID),
			zap.Error(err))
		if err := e.notifier.Notify(ctx, notice); err != nil {
			e.logger.Error(ctx, "failed to deliver escalation notice",
				zap.String("remediation_id", task.ID),
				zap.String("dedup_key", task.DedupKey),
				zap.Error(err))
		}
	}
	return notice
}

// BuildEscalationSummary renders the human-readable account of what was
// attempted and why remediation stopped.
func BuildEscalationSummary(task *RemediationTask) string {
	var sb strings.Builder
	signal := task.Signal

	sb.WriteString("## CI Remediation Escalation\n\n")
	fmt.Fprintf(&sb, "Automated remediation failed after **%d attempts**.\n\n", len(task.Attempts))

	sb.WriteString("### Failure Details\n\n")
	fmt.Fprintf(&sb, "- **Workflow**: %s\n", signal.WorkflowName)
	if signal.JobName != "" {
		fmt.Fprintf(&sb, "- **Job**: %s\n", signal.JobName)
	}
	fmt.Fprintf(&sb, "- **Branch**: `%s`\n", signal.Branch)
	if signal.HeadSHA != "" {
		fmt.Fprintf(&sb, "- **Commit**: `%s`\n", shortSHA(signal.HeadSHA))
	}
	if signal.HTMLURL != "" {
		fmt.Fprintf(&sb, "- **[View Workflow](%s)**\n", signal.HTMLURL)
	}
	sb.WriteString("\n### Remediation Attempts\n\n")
	sb.WriteString("| # | Agent | Outcome | Duration |\n")
	sb.WriteString("|---|-------|---------|----------|\n")

	for _, attempt := range task.Attempts {
		durationStr := "N/A"
		if d, ok := attempt.Duration(); ok {
			durationStr = fmt.Sprintf("%ds", int(d.Seconds()))
		}
		outcome := string(attempt.Outcome)
		if outcome == "" {
			outcome = "unknown"
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | %s |\n",
			attempt.AttemptNumber, attempt.Agent, outcome, durationStr)
	}

	sb.WriteString("\nManual intervention required.\n")
	return sb.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
