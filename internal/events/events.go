// internal/events/events.go

// Package events defines the normalized ingress event shape and the
// dispatch layer that serializes handling per correlation key.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// Source identifies where an event came from.
type Source string

const (
	SourceGitHub        Source = "github"
	SourceGitHubActions Source = "github-actions"
	SourceInternal      Source = "internal"
)

// Type classifies an event. Stage events advance the pipeline; failure
// and success signals feed the remediation router.
type Type string

const (
	TypePROpened        Type = "pr-opened"
	TypeQualityApproved Type = "quality-approved"
	TypeQAApproved      Type = "qa-approved"
	TypePRMerged        Type = "pr-merged"
	TypePostMergeDone   Type = "post-merge-done"
	TypeTaskFailed      Type = "task-failed"
	TypeCheckFailed     Type = "check-failed"
	TypeCheckSucceeded  Type = "check-succeeded"
)

// CorrelationKeys ties an event to the resources it concerns. Stage
// events carry TaskID and ExpectedStage; CI signals carry WorkflowRunID
// and Branch.
type CorrelationKeys struct {
	TaskID        string      `json:"task_id,omitempty"`
	WorkflowRunID int64       `json:"workflow_run_id,omitempty"`
	PRNumber      int         `json:"pr_number,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	ExpectedStage *task.Stage `json:"expected_stage,omitempty"`
}

// Event is the normalized form every ingress adapter produces. Transport
// and signature verification happen upstream; by the time an Event exists
// it is trusted.
type Event struct {
	Source      Source          `json:"source"`
	Type        Type            `json:"type"`
	Correlation CorrelationKeys `json:"correlation_keys"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// SerializationKey returns the identity concurrent deliveries are
// serialized on: the task for stage events, the workflow run for CI
// signals.
func (e Event) SerializationKey() string {
	if e.Correlation.TaskID != "" {
		return "task:" + e.Correlation.TaskID
	}
	if e.Correlation.WorkflowRunID != 0 {
		return fmt.Sprintf("run:%d", e.Correlation.WorkflowRunID)
	}
	if e.Correlation.Branch != "" {
		return "branch:" + e.Correlation.Branch
	}
	return "uncorrelated"
}

// IsStageEvent reports whether the event drives a stage transition.
func (e Event) IsStageEvent() bool {
	switch e.Type {
	case TypePROpened, TypeQualityApproved, TypeQAApproved,
		TypePRMerged, TypePostMergeDone, TypeTaskFailed:
		return true
	}
	return false
}

// IsCISignal reports whether the event feeds the remediation router.
func (e Event) IsCISignal() bool {
	return e.Type == TypeCheckFailed || e.Type == TypeCheckSucceeded
}

// StageTransition maps a stage event type to the transition it requests.
// The second return is false for non-stage events.
func (e Event) StageTransition() (next task.Stage, ok bool) {
	switch e.Type {
	case TypePROpened:
		return task.StageWaitingPRCreated, true
	case TypeQualityApproved:
		return task.StageWaitingQualityComplete, true
	case TypeQAApproved:
		return task.StageWaitingPRApproved, true
	case TypePRMerged:
		return task.StageWaitingPRMerged, true
	case TypePostMergeDone:
		return task.StageCompleted, true
	case TypeTaskFailed:
		return task.StageFailed, true
	}
	return 0, false
}
