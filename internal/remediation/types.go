// internal/remediation/types.go

// Package remediation classifies CI failure signals, deduplicates them,
// spawns specialist remediation agents with bounded retries, and
// escalates to humans when the retry budget is exhausted.
package remediation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FailureType buckets a CI failure by the specialist agent able to fix it.
type FailureType string

const (
	FailureLanguage    FailureType = "language"
	FailureFrontend    FailureType = "frontend"
	FailureInfra       FailureType = "infra"
	FailureSecurity    FailureType = "security"
	FailureIntegration FailureType = "integration"
)

// TargetAgent returns the agent role responsible for a failure type.
func (f FailureType) TargetAgent() string {
	return string(f)
}

// Status of a remediation cycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusSucceeded  Status = "succeeded"
	StatusEscalated  Status = "escalated"
)

// IsTerminal reports whether the cycle is finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusEscalated
}

// Outcome of one remediation attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// FailureSignal is the normalized CI failure feeding the router.
type FailureSignal struct {
	WorkflowRunID int64  `json:"workflow_run_id"`
	WorkflowName  string `json:"workflow_name"`
	JobName       string `json:"job_name,omitempty"`
	Branch        string `json:"branch"`
	HeadSHA       string `json:"head_sha"`
	Repository    string `json:"repository"`
	PRNumber      int    `json:"pr_number,omitempty"`
	HTMLURL       string `json:"html_url,omitempty"`
	LogExcerpt    string `json:"log_excerpt,omitempty"`
}

// DedupKey derives the identity duplicate signals collapse on: the
// workflow run when present, otherwise branch plus failure type.
func (s FailureSignal) DedupKey(failureType FailureType) string {
	if s.WorkflowRunID != 0 {
		return fmt.Sprintf("run-%d", s.WorkflowRunID)
	}
	return sanitizeDedupKey(s.Branch + "-" + string(failureType))
}

// RemediationAttempt is one try at fixing the failure. Append-only.
type RemediationAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	Agent         string    `json:"agent"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	Outcome       Outcome   `json:"outcome,omitempty"`
	LogsRef       string    `json:"logs_ref,omitempty"`
}

// Duration returns the attempt's wall time, or false if still running.
func (a RemediationAttempt) Duration() (time.Duration, bool) {
	if a.CompletedAt.IsZero() {
		return 0, false
	}
	return a.CompletedAt.Sub(a.StartedAt), true
}

// RemediationTask is one bounded retry/escalation cycle for a failure.
// Never deleted: terminal tasks stay in the store for audit and for the
// dedup window check.
type RemediationTask struct {
	ID          string               `json:"id"`
	FailureType FailureType          `json:"failure_type"`
	TargetAgent string               `json:"target_agent"`
	DedupKey    string               `json:"dedup_key"`
	Status      Status               `json:"status"`
	Attempts    []RemediationAttempt `json:"attempts"`
	Signal      FailureSignal        `json:"signal"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`

	// Version is the store revision observed at read time.
	Version uint64 `json:"-"`
}

// NewRemediationTask creates a pending cycle for a classified signal.
func NewRemediationTask(signal FailureSignal, failureType FailureType) *RemediationTask {
	now := time.Now().UTC()
	return &RemediationTask{
		ID:          uuid.NewString(),
		FailureType: failureType,
		TargetAgent: failureType.TargetAgent(),
		DedupKey:    signal.DedupKey(failureType),
		Status:      StatusPending,
		Signal:      signal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StoreKey returns the resource store key for this cycle.
func (t *RemediationTask) StoreKey() string {
	return TaskStoreKey(t.DedupKey)
}

// TaskStoreKey builds the store key for a dedup key.
func TaskStoreKey(dedupKey string) string {
	return "remed." + sanitizeDedupKey(dedupKey)
}

// LastAttempt returns the most recent attempt, or nil.
func (t *RemediationTask) LastAttempt() *RemediationAttempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// sanitizeDedupKey maps branch names and failure types into the store's
// key alphabet (branches carry slashes).
func sanitizeDedupKey(s string) string {
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
