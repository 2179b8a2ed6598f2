// internal/events/dispatcher.go
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

// StageHandler consumes stage events.
type StageHandler interface {
	HandleStageEvent(ctx context.Context, event Event) error
}

// CIHandler consumes CI failure and success signals.
type CIHandler interface {
	HandleCISignal(ctx context.Context, event Event) error
}

// Dispatcher routes normalized events to the stage engine or the
// remediation router, holding the per-key lock for the duration of
// handling so concurrent deliveries for one task or workflow run cannot
// race.
type Dispatcher struct {
	stage  StageHandler
	ci     CIHandler
	locks  *KeyedLocks
	logger *logging.Logger
}

// NewDispatcher wires the two handlers.
func NewDispatcher(stage StageHandler, ci CIHandler, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		stage:  stage,
		ci:     ci,
		locks:  NewKeyedLocks(),
		logger: logger.Named("dispatcher"),
	}
}

// Dispatch routes one event. Unknown event types are logged and dropped;
// delivery is at-least-once, so an event the system does not understand
// must not wedge the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	ctx = logging.WithCorrelationKey(ctx, event.SerializationKey())

	unlock := d.locks.Lock(event.SerializationKey())
	defer unlock()

	switch {
	case event.IsStageEvent():
		return d.stage.HandleStageEvent(ctx, event)
	case event.IsCISignal():
		return d.ci.HandleCISignal(ctx, event)
	default:
		d.logger.Warn(ctx, "dropping event of unknown type",
			zap.String("event_type", string(event.Type)),
			zap.String("source", string(event.Source)))
		return nil
	}
}
