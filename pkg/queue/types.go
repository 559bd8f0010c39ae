package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueName identifies one of the delivery queues
type QueueName string

const (
	QueuePrimary QueueName = "primary"
	QueueDigest  QueueName = "digest"
	QueueRetry   QueueName = "retry"
)

// Queues returns all queue names in a stable order
func Queues() []QueueName {
	return []QueueName{QueuePrimary, QueueDigest, QueueRetry}
}

// Valid checks if the queue name is known
func (q QueueName) Valid() bool {
	switch q {
	case QueuePrimary, QueueDigest, QueueRetry:
		return true
	}
	return false
}

// Kind is the notification type carried by a job
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindTaskReminder  Kind = "task_reminder"
	KindFocusAlert    Kind = "focus_alert"
	KindAchievement   Kind = "achievement"
	KindWeeklyDigest  Kind = "weekly_digest"
	KindRetry         Kind = "retry"
	KindBatchChunk    Kind = "batch_chunk"
)

// Valid checks if the kind is known
func (k Kind) Valid() bool {
	switch k {
	case KindWelcome, KindVerification, KindPasswordReset, KindTaskReminder,
		KindFocusAlert, KindAchievement, KindWeeklyDigest, KindRetry, KindBatchChunk:
		return true
	}
	return false
}

// Critical kinds are user-initiated and time sensitive: they bypass quiet hours
// and cannot be switched off through notification preferences.
func (k Kind) Critical() bool {
	return k == KindVerification || k == KindPasswordReset
}

// State represents the lifecycle state of a job
type State string

const (
	StateQueued      State = "queued"
	StateScheduled   State = "scheduled"
	StateDispatching State = "dispatching"
	StateSent        State = "sent"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Name implements statemachine.State
func (s State) Name() string {
	return string(s)
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSent || s == StateFailed || s == StateCancelled
}

// Priority represents job priority (0-100, higher is dispatched first)
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within valid range
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Job is the envelope of one deliverable unit of work.
// DispatchAt is only recomputed while the job is Queued or Scheduled.
type Job struct {
	ID                uuid.UUID       `json:"id"`
	Queue             QueueName       `json:"queue"`
	Kind              Kind            `json:"kind"`
	OriginKind        Kind            `json:"origin_kind,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Priority          Priority        `json:"priority"`
	RespectQuietHours bool            `json:"respect_quiet_hours"`
	RequestedDelay    time.Duration   `json:"requested_delay"`
	DispatchAt        time.Time       `json:"dispatch_at"`
	Attempt           int             `json:"attempt"`
	MaxAttempts       int             `json:"max_attempts"`
	BaseBackoff       time.Duration   `json:"base_backoff"`
	State             State           `json:"state"`
	LastError         string          `json:"last_error,omitempty"`
	ParentID          *uuid.UUID      `json:"parent_id,omitempty"`
	RetryID           *uuid.UUID      `json:"retry_id,omitempty"`
	BatchID           *uuid.UUID      `json:"batch_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	LastAttemptAt     *time.Time      `json:"last_attempt_at,omitempty"`
	TerminalAt        *time.Time      `json:"terminal_at,omitempty"`
}

// Clone returns a deep copy so storage and callers never share mutable state
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	c.ParentID = cloneUUID(j.ParentID)
	c.RetryID = cloneUUID(j.RetryID)
	c.BatchID = cloneUUID(j.BatchID)
	c.LastAttemptAt = cloneTime(j.LastAttemptAt)
	c.TerminalAt = cloneTime(j.TerminalAt)
	return &c
}

// Eligible reports whether a scheduled job may be claimed at now
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StateScheduled && !j.DispatchAt.After(now) && j.Attempt < j.MaxAttempts
}

// DecodePayload unmarshals the job payload
func (j *Job) DecodePayload() (Payload, error) {
	var p Payload
	if len(j.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}

// DeliveryKind is the kind the transport should render; Retry jobs re-send their origin kind
func (j *Job) DeliveryKind() Kind {
	if j.Kind == KindRetry && j.OriginKind != "" {
		return j.OriginKind
	}
	return j.Kind
}

// JobView is the read-only projection returned to callers
type JobView struct {
	ID             uuid.UUID     `json:"id"`
	Queue          QueueName     `json:"queue"`
	Kind           Kind          `json:"kind"`
	State          State         `json:"state"`
	Priority       Priority      `json:"priority"`
	Attempt        int           `json:"attempt"`
	MaxAttempts    int           `json:"max_attempts"`
	RequestedDelay time.Duration `json:"requested_delay"`
	DispatchAt     time.Time     `json:"dispatch_at"`
	LastError      string        `json:"last_error,omitempty"`
	ParentID       *uuid.UUID    `json:"parent_id,omitempty"`
	RetryID        *uuid.UUID    `json:"retry_id,omitempty"`
	BatchID        *uuid.UUID    `json:"batch_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at,omitempty"`
	TerminalAt     *time.Time    `json:"terminal_at,omitempty"`
}

// View projects the job for callers
func (j *Job) View() JobView {
	return JobView{
		ID:             j.ID,
		Queue:          j.Queue,
		Kind:           j.Kind,
		State:          j.State,
		Priority:       j.Priority,
		Attempt:        j.Attempt,
		MaxAttempts:    j.MaxAttempts,
		RequestedDelay: j.RequestedDelay,
		DispatchAt:     j.DispatchAt,
		LastError:      j.LastError,
		ParentID:       cloneUUID(j.ParentID),
		RetryID:        cloneUUID(j.RetryID),
		BatchID:        cloneUUID(j.BatchID),
		CreatedAt:      j.CreatedAt,
		LastAttemptAt:  cloneTime(j.LastAttemptAt),
		TerminalAt:     cloneTime(j.TerminalAt),
	}
}

// Stats is a point-in-time snapshot of one queue. Each job is counted once.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Cancelled int `json:"cancelled"`
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Waiting += other.Waiting
	s.Active += other.Active
	s.Sent += other.Sent
	s.Failed += other.Failed
	s.Delayed += other.Delayed
	s.Cancelled += other.Cancelled
}

// Count classifies one job into its bucket
func (s *Stats) Count(state State, dispatchAt, now time.Time) {
	switch state {
	case StateQueued:
		s.Waiting++
	case StateScheduled:
		if dispatchAt.After(now) {
			s.Delayed++
		} else {
			s.Waiting++
		}
	case StateDispatching:
		s.Active++
	case StateSent:
		s.Sent++
	case StateFailed:
		s.Failed++
	case StateCancelled:
		s.Cancelled++
	}
}

// Total returns the number of jobs across all buckets
func (s Stats) Total() int {
	return s.Waiting + s.Active + s.Sent + s.Failed + s.Delayed + s.Cancelled
}

// QueueStats aggregates per-queue stats. Degraded is set when at least one
// queue could not be read and was reported as zero.
type QueueStats struct {
	Queues      map[QueueName]Stats `json:"queues"`
	Total       Stats               `json:"total"`
	Degraded    bool                `json:"degraded"`
	CollectedAt time.Time           `json:"collected_at"`
}

// TransitionRecord is one entry of a job's lifecycle history
type TransitionRecord struct {
	JobID    uuid.UUID         `json:"job_id"`
	From     State             `json:"from"`
	To       State             `json:"to"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Receipt is returned by enqueue operations.
// Skipped is set when the user disabled the channel; no job was created then.
type Receipt struct {
	JobID      uuid.UUID `json:"job_id"`
	Queue      QueueName `json:"queue,omitempty"`
	DispatchAt time.Time `json:"dispatch_at"`
	Skipped    bool      `json:"skipped"`
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
