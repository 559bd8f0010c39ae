package queue

import (
	"context"

	"github.com/dmitrymomot/courier/pkg/statemachine"
	"github.com/google/uuid"
)

// Lifecycle events
const (
	EventSchedule = statemachine.StringEvent("schedule")
	EventClaim    = statemachine.StringEvent("claim")
	EventSucceed  = statemachine.StringEvent("succeed")
	EventFail     = statemachine.StringEvent("fail")
	EventAbort    = statemachine.StringEvent("abort")
	EventCancel   = statemachine.StringEvent("cancel")
)

func hasAttemptsLeft(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	job, ok := data.(*Job)
	return ok && job.Attempt < job.MaxAttempts
}

// lifecycle is the job state machine:
//
//	queued -> scheduled -> dispatching -> sent | failed
//	dispatching -> scheduled (retryable failure)
//	queued | scheduled -> cancelled
var lifecycle = statemachine.MustNew(
	statemachine.WithTerminal(StateSent, StateFailed, StateCancelled),

	statemachine.WithTransition(StateQueued, StateScheduled, EventSchedule),
	statemachine.WithTransition(StateScheduled, StateScheduled, EventSchedule),

	statemachine.WithTransition(StateScheduled, StateDispatching, EventClaim,
		statemachine.WithGuard(hasAttemptsLeft)),

	statemachine.WithTransition(StateDispatching, StateSent, EventSucceed),
	statemachine.WithTransition(StateDispatching, StateScheduled, EventFail,
		statemachine.WithGuard(hasAttemptsLeft)),
	statemachine.WithTransition(StateDispatching, StateFailed, EventFail),
	statemachine.WithTransition(StateDispatching, StateFailed, EventAbort),

	statemachine.WithTransition(StateQueued, StateCancelled, EventCancel),
	statemachine.WithTransition(StateScheduled, StateCancelled, EventCancel),
)

// nextState resolves the transition for job on event. Undefined or rejected
// transitions surface as *StateConflictError.
func nextState(ctx context.Context, job *Job, event statemachine.StringEvent) (State, error) {
	from := job.State
	if from == "" {
		from = StateQueued
	}

	to, err := lifecycle.Next(ctx, from, event, job)
	if err != nil {
		return from, &StateConflictError{JobID: job.ID, State: from, Op: event.Name()}
	}
	return to.(State), nil
}

// CanTransition reports whether the lifecycle has an edge from -> to
func CanTransition(from, to State) bool {
	probe := &Job{ID: uuid.Nil, State: from, MaxAttempts: 1}
	for _, ev := range lifecycle.Events(from) {
		for _, data := range []*Job{probe, {State: from}} {
			next, err := lifecycle.Next(context.Background(), from, statemachine.StringEvent(ev), data)
			if err == nil && next == to {
				return true
			}
		}
	}
	return false
}
