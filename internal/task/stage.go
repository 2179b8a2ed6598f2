// internal/task/stage.go
package task

import (
	"encoding/json"
	"fmt"
)

// Stage is a pipeline state for a TaskExecution. Stages advance forward
// only, one edge at a time; every non-terminal stage can also fall to
// Failed on an unrecoverable failure signal.
type Stage int

const (
	StagePending Stage = iota
	StageWaitingPRCreated
	StageWaitingQualityComplete
	StageWaitingPRApproved
	StageWaitingPRMerged
	StageCompleted
	StageFailed
)

var stageNames = map[Stage]string{
	StagePending:                "pending",
	StageWaitingPRCreated:       "waiting-pr-created",
	StageWaitingQualityComplete: "waiting-quality-complete",
	StageWaitingPRApproved:      "waiting-pr-approved",
	StageWaitingPRMerged:        "waiting-pr-merged",
	StageCompleted:              "completed",
	StageFailed:                 "failed",
}

var stagesByName = func() map[string]Stage {
	m := make(map[string]Stage, len(stageNames))
	for s, name := range stageNames {
		m[name] = s
	}
	return m
}()

// ParseStage converts a wire name back into a Stage.
func ParseStage(name string) (Stage, error) {
	if s, ok := stagesByName[name]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// String returns the canonical wire name.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// DisplayName returns the human-readable name used in summaries and
// escalation notices.
func (s Stage) DisplayName() string {
	switch s {
	case StagePending:
		return "Pending"
	case StageWaitingPRCreated:
		return "Waiting for PR"
	case StageWaitingQualityComplete:
		return "Waiting for quality review"
	case StageWaitingPRApproved:
		return "Waiting for QA approval"
	case StageWaitingPRMerged:
		return "Waiting for merge"
	case StageCompleted:
		return "Completed"
	case StageFailed:
		return "Failed"
	}
	return s.String()
}

// IsTerminal reports whether no further transitions are allowed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Next returns the happy-path successor stage, or false for terminal
// stages.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StagePending:
		return StageWaitingPRCreated, true
	case StageWaitingPRCreated:
		return StageWaitingQualityComplete, true
	case StageWaitingQualityComplete:
		return StageWaitingPRApproved, true
	case StageWaitingPRApproved:
		return StageWaitingPRMerged, true
	case StageWaitingPRMerged:
		return StageCompleted, true
	}
	return 0, false
}

// CanTransitionTo reports whether moving from s to next is legal: either
// the single happy-path edge, or the unconditional edge to Failed from any
// non-terminal stage.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	happy, ok := s.Next()
	return ok && next == happy
}

// MarshalJSON encodes the stage by wire name.
func (s Stage) MarshalJSON() ([]byte, error) {
	name, ok := stageNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown stage %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a stage from its wire name.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
