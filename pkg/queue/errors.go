package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrTransportNil is returned when a dispatcher is built without a transport
	ErrTransportNil = errors.New("transport cannot be nil")

	// ErrValidation is the sentinel behind every *ValidationError
	ErrValidation = errors.New("validation failed")

	// ErrTransport is the sentinel behind every *TransportError
	ErrTransport = errors.New("delivery attempt failed")

	// ErrExhaustedRetries is the sentinel behind every *ExhaustedRetriesError
	ErrExhaustedRetries = errors.New("delivery retries exhausted")

	// ErrStateConflict is the sentinel behind every *StateConflictError
	ErrStateConflict = errors.New("job state conflict")

	// ErrJobNotFound is returned for operations on an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrBatchNotFound is returned for an unknown batch id
	ErrBatchNotFound = errors.New("batch not found")

	// ErrDuplicateJob is returned when a job with the same id already exists
	ErrDuplicateJob = errors.New("job already exists")

	// ErrNoJobToClaim is returned by ClaimJob when nothing is eligible
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrChannelDisabled signals that the recipient switched the channel off.
	// It is a skip, not a failure.
	ErrChannelDisabled = errors.New("notification channel disabled for user")

	// ErrDispatcherStarted is returned when Start is called twice
	ErrDispatcherStarted = errors.New("dispatcher already started")

	// ErrDispatcherNotStarted is returned when Stop is called before Start
	ErrDispatcherNotStarted = errors.New("dispatcher not started")
)

// ValidationError describes a malformed envelope. It is never retried.
type ValidationError struct {
	Kind   Kind
	Fields map[string]string // field -> failed rule
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(kind Kind, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Fields: map[string]string{field: reason}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}

	prefix := "validation failed"
	if e.Kind != "" {
		prefix = fmt.Sprintf("validation failed for %s", e.Kind)
	}
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransportError wraps a failed delivery attempt
type TransportError struct {
	JobID   uuid.UUID
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("delivery of job %s failed on attempt %d: %v", e.JobID, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// ExhaustedRetriesError is reported once a job reaches Failed
type ExhaustedRetriesError struct {
	JobID    uuid.UUID
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("job %s (%s) failed after %d attempt(s): %v", e.JobID, e.Kind, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() []error { return []error{ErrExhaustedRetries, e.Err} }

// StateConflictError is returned when an operation is not allowed in the
// job's current state. The job is left untouched.
type StateConflictError struct {
	JobID uuid.UUID
	State State
	Op    string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s job %s in state %s", e.Op, e.JobID, e.State)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a transport error as non-retryable: the job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
