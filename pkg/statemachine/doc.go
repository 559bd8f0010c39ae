// Package statemachine provides a stateless finite-state-machine transition
// table for entities that carry their own state, such as queued jobs.
//
// A Table stores transitions keyed by source state and event. It does not
// hold a "current" state; callers ask it where an entity in a given state
// goes next for an event:
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, InReview, Submit),
//	    statemachine.WithTransition(InReview, Approved, Approve,
//	        statemachine.WithGuard(isOwner),
//	    ),
//	)
//
//	next, err := table.Next(ctx, doc.State, Submit, doc)
//
// Several transitions may share the same source state and event; they are
// evaluated in registration order and the first one whose guards all pass
// wins. This is how guard-based branching (retry or fail) is expressed.
//
// # Error Handling
//
// Next returns *ErrNoTransitionAvailable when nothing is registered for the
// state/event pair and *ErrTransitionRejected when guards vetoed every
// candidate. Use IsNoTransitionAvailableError and IsTransitionRejectedError
// to tell them apart.
//
// # Concurrency
//
// A Table is safe for concurrent use. Transitions are usually registered once
// at start-up; lookups take a read lock.
package statemachine
