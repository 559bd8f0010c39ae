package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("statemachine: invalid transition")
	ErrInvalidEvent      = errors.New("statemachine: state and event are required")
)

// ErrNoTransitionAvailable means nothing is registered for the state/event pair.
type ErrNoTransitionAvailable struct {
	StateName string
	EventName string
}

func (e *ErrNoTransitionAvailable) Error() string {
	return fmt.Sprintf("statemachine: no transition from %q on %q", e.StateName, e.EventName)
}

// ErrTransitionRejected means guards vetoed every candidate transition.
type ErrTransitionRejected struct {
	StateName string
	EventName string
}

func (e *ErrTransitionRejected) Error() string {
	return fmt.Sprintf("statemachine: guards rejected %q on %q", e.EventName, e.StateName)
}

func IsNoTransitionAvailableError(err error) bool {
	var e *ErrNoTransitionAvailable
	return errors.As(err, &e)
}

func IsTransitionRejectedError(err error) bool {
	var e *ErrTransitionRejected
	return errors.As(err, &e)
}
