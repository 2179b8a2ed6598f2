// internal/events/events_test.go
package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

func TestSerializationKey(t *testing.T) {
	taskEv := Event{Correlation: CorrelationKeys{TaskID: "task-1"}}
	assert.Equal(t, "task:task-1", taskEv.SerializationKey())

	runEv := Event{Correlation: CorrelationKeys{WorkflowRunID: 42}}
	assert.Equal(t, "run:42", runEv.SerializationKey())

	branchEv := Event{Correlation: CorrelationKeys{Branch: "feature/x"}}
	assert.Equal(t, "branch:feature/x", branchEv.SerializationKey())

	assert.Equal(t, "uncorrelated", Event{}.SerializationKey())
}

func TestStageTransitionMapping(t *testing.T) {
	tests := []struct {
		eventType Type
		want      task.Stage
	}{
		{TypePROpened, task.StageWaitingPRCreated},
		{TypeQualityApproved, task.StageWaitingQualityComplete},
		{TypeQAApproved, task.StageWaitingPRApproved},
		{TypePRMerged, task.StageWaitingPRMerged},
		{TypePostMergeDone, task.StageCompleted},
		{TypeTaskFailed, task.StageFailed},
	}
	for _, tt := range tests {
		next, ok := Event{Type: tt.eventType}.StageTransition()
		require.True(t, ok, "type %s", tt.eventType)
		assert.Equal(t, tt.want, next)
	}

	_, ok := Event{Type: TypeCheckFailed}.StageTransition()
	assert.False(t, ok)
}

func TestKeyedLocksSerializeSameKey(t *testing.T) {
	locks := NewKeyedLocks()

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("task:1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "same key must be single-flight")
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := NewKeyedLocks()

	unlockA := locks.Lock("task:a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("task:b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent keys should not block each other")
	}
	unlockA()
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (h *recordingHandler) record(event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) HandleStageEvent(_ context.Context, event Event) error {
	return h.record(event)
}

func (h *recordingHandler) HandleCISignal(_ context.Context, event Event) error {
	return h.record(event)
}

func TestDispatcherRouting(t *testing.T) {
	stage := &recordingHandler{}
	ci := &recordingHandler{}
	tl := logging.NewTestLogger()
	d := NewDispatcher(stage, ci, tl.Logger)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, Event{Type: TypePROpened, Correlation: CorrelationKeys{TaskID: "t1"}}))
	require.NoError(t, d.Dispatch(ctx, Event{Type: TypeCheckFailed, Correlation: CorrelationKeys{WorkflowRunID: 7}}))

	assert.Len(t, stage.events, 1)
	assert.Len(t, ci.events, 1)
	assert.Equal(t, TypePROpened, stage.events[0].Type)
	assert.Equal(t, TypeCheckFailed, ci.events[0].Type)
}

func TestDispatcherDropsUnknownType(t *testing.T) {
	stage := &recordingHandler{}
	ci := &recordingHandler{}
	tl := logging.NewTestLogger()
	d := NewDispatcher(stage, ci, tl.Logger)

	require.NoError(t, d.Dispatch(context.Background(), Event{Type: "ping"}))
	assert.Empty(t, stage.events)
	assert.Empty(t, ci.events)
	tl.AssertLogged(t, zapcore.WarnLevel, "unknown type")
}
