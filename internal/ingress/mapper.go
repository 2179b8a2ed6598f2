// internal/ingress/mapper.go

// Package ingress receives GitHub webhooks, verifies them, and maps them
// into normalized events for the dispatcher. Events that do not concern
// a tracked task or a CI run are dropped here, before they reach any
// handler.
package ingress

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/remediation"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// taskBranchRegex extracts the task identity from an agent's branch.
// Agent branches are named task-<id> optionally followed by a slug.
var taskBranchRegex = regexp.MustCompile(`^(task-[A-Za-z0-9]+)`)

// Mapper translates GitHub webhook payloads into normalized events.
// Quality and QA review approvals are told apart by reviewer login.
type Mapper struct {
	qualityReviewer string
	qaReviewer      string
}

// NewMapper wires a mapper. Empty reviewer matchers fall back to
// "quality" and "qa".
func NewMapper(qualityReviewer, qaReviewer string) *Mapper {
	if qualityReviewer == "" {
		qualityReviewer = "quality"
	}
	if qaReviewer == "" {
		qaReviewer = "qa"
	}
	return &Mapper{
		qualityReviewer: qualityReviewer,
		qaReviewer:      qaReviewer,
	}
}

// TaskIDFromBranch extracts the task identity from a branch name.
func TaskIDFromBranch(branch string) (string, bool) {
	m := taskBranchRegex.FindStringSubmatch(branch)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MapPullRequest maps pull_request events. Only opens and merges of
// task branches produce events.
func (m *Mapper) MapPullRequest(e *github.PullRequestEvent) (events.Event, bool) {
	pr := e.GetPullRequest()
	branch := pr.GetHead().GetRef()
	taskID, ok := TaskIDFromBranch(branch)
	if !ok {
		return events.Event{}, false
	}

	var eventType events.Type
	var expected task.Stage
	switch {
	case e.GetAction() == "opened":
		eventType = events.TypePROpened
		expected = task.StagePending
	case e.GetAction() == "closed" && pr.GetMerged():
		eventType = events.TypePRMerged
		expected = task.StageWaitingPRApproved
	default:
		return events.Event{}, false
	}

	return events.Event{
		Source: events.SourceGitHub,
		Type:   eventType,
		Correlation: events.CorrelationKeys{
			TaskID:        taskID,
			PRNumber:      pr.GetNumber(),
			Branch:        branch,
			ExpectedStage: &expected,
		},
	}, true
}

// MapPullRequestReview maps approved reviews on task branches to the
// stage approval matching the reviewer.
func (m *Mapper) MapPullRequestReview(e *github.PullRequestReviewEvent) (events.Event, bool) {
	if e.GetAction() != "submitted" {
		return events.Event{}, false
	}
	review := e.GetReview()
	if !strings.EqualFold(review.GetState(), "approved") {
		return events.Event{}, false
	}

	pr := e.GetPullRequest()
	branch := pr.GetHead().GetRef()
	taskID, ok := TaskIDFromBranch(branch)
	if !ok {
		return events.Event{}, false
	}

	reviewer := strings.ToLower(review.GetUser().GetLogin())
	var eventType events.Type
	var expected task.Stage
	switch {
	case strings.Contains(reviewer, m.qualityReviewer):
		eventType = events.TypeQualityApproved
		expected = task.StageWaitingPRCreated
	case strings.Contains(reviewer, m.qaReviewer):
		eventType = events.TypeQAApproved
		expected = task.StageWaitingQualityComplete
	default:
		// Human approvals do not drive the pipeline.
		return events.Event{}, false
	}

	return events.Event{
		Source: events.SourceGitHub,
		Type:   eventType,
		Correlation: events.CorrelationKeys{
			TaskID:        taskID,
			PRNumber:      pr.GetNumber(),
			Branch:        branch,
			ExpectedStage: &expected,
		},
	}, true
}

// MapWorkflowRun maps completed workflow runs into CI signals for the
// remediation router.
func (m *Mapper) MapWorkflowRun(e *github.WorkflowRunEvent) (events.Event, bool) {
	if e.GetAction() != "completed" {
		return events.Event{}, false
	}
	run := e.GetWorkflowRun()

	var eventType events.Type
	switch run.GetConclusion() {
	case "failure", "timed_out":
		eventType = events.TypeCheckFailed
	case "success":
		eventType = events.TypeCheckSucceeded
	default:
		// Cancelled, skipped, neutral: nothing to remediate or close.
		return events.Event{}, false
	}

	signal := remediation.FailureSignal{
		WorkflowRunID: run.GetID(),
		WorkflowName:  run.GetName(),
		Branch:        run.GetHeadBranch(),
		HeadSHA:       run.GetHeadSHA(),
		Repository:    e.GetRepo().GetFullName(),
		HTMLURL:       run.GetHTMLURL(),
	}
	if prs := run.PullRequests; len(prs) > 0 {
		signal.PRNumber = prs[0].GetNumber()
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		return events.Event{}, false
	}
	return events.Event{
		Source: events.SourceGitHubActions,
		Type:   eventType,
		Correlation: events.CorrelationKeys{
			WorkflowRunID: run.GetID(),
			PRNumber:      signal.PRNumber,
			Branch:        signal.Branch,
		},
		RawPayload: payload,
	}, true
}
