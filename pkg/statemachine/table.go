package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Table is a thread-safe transition table: [fromState][event][]Transition.
type Table struct {
	transitions map[string]map[string][]Transition
	terminal    map[string]bool
	mu          sync.RWMutex
}

// Option configures a Table during construction.
type Option func(*Table) error

// TransitionOption configures a single transition.
type TransitionOption func(*Transition)

// New creates a transition table with the given options.
func New(opts ...Option) (*Table, error) {
	t := &Table{
		transitions: make(map[string]map[string][]Transition),
		terminal:    make(map[string]bool),
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustNew is like New but panics on error. Intended for package-level tables.
func MustNew(opts ...Option) *Table {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition table: %v", err))
	}
	return t
}

// WithTransition registers a transition.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		tr := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&tr)
		}
		return t.Add(tr)
	}
}

// WithTerminal marks states that accept no events at all.
func WithTerminal(states ...State) Option {
	return func(t *Table) error {
		for _, s := range states {
			if s == nil {
				return ErrInvalidTransition
			}
			t.terminal[s.Name()] = true
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(tr *Transition) {
		if guard != nil {
			tr.Guards = append(tr.Guards, guard)
		}
	}
}

// Add registers a transition. Transitions out of terminal states are rejected.
func (t *Table) Add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal[tr.From.Name()] {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, tr.From.Name())
	}

	from := tr.From.Name()
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[string][]Transition)
	}
	t.transitions[from][tr.Event.Name()] = append(t.transitions[from][tr.Event.Name()], tr)
	return nil
}

// Next resolves the target state for an entity currently in from.
// The first registered transition whose guards pass wins.
func (t *Table) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil || event == nil {
		return nil, ErrInvalidEvent
	}

	t.mu.RLock()
	candidates := t.transitions[from.Name()][event.Name()]
	t.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, &ErrNoTransitionAvailable{StateName: from.Name(), EventName: event.Name()}
	}

	for _, tr := range candidates {
		if tr.allowed(ctx, from, event, data) {
			return tr.To, nil
		}
	}

	return nil, &ErrTransitionRejected{StateName: from.Name(), EventName: event.Name()}
}

// Can reports whether event would move an entity out of from.
func (t *Table) Can(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

// IsTerminal reports whether s was registered as terminal.
func (t *Table) IsTerminal(s State) bool {
	if s == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.terminal[s.Name()]
}

// Events lists the events registered for the given source state.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	events := make([]string, 0, len(t.transitions[from.Name()]))
	for name := range t.transitions[from.Name()] {
		events = append(events, name)
	}
	return events
}
