package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// Default priorities per kind
const (
	PriorityCritical     Priority = 90 // verification, password reset
	PriorityWelcome      Priority = 70
	PriorityReminder     Priority = 50
	PriorityReminderHigh Priority = 60
	PriorityReminderUrg  Priority = 70
	PriorityOverdue      Priority = 80
	PriorityFocusAlert   Priority = 40
	PriorityAchievement  Priority = 30
	PriorityDigest       Priority = 20
	PriorityBatchChunk   Priority = PriorityMedium
)

const (
	// DefaultMaxAttempts applies to every job except retry-queue jobs
	DefaultMaxAttempts = 3
	// RetryJobMaxAttempts disables second-order retries
	RetryJobMaxAttempts = 1
	// DefaultBackoff is the backoff base of primary, digest and retry jobs
	DefaultBackoff = 2 * time.Second
	// DefaultChunkBackoff is the backoff base of batch chunks
	DefaultChunkBackoff = 10 * time.Second
)

// PreferenceStore answers whether a user receives a kind of notification at all
type PreferenceStore interface {
	IsChannelEnabled(ctx context.Context, userID string, kind Kind) (bool, error)
}

// Builder converts a request into a validated job envelope in state Queued
type Builder struct {
	prefs        PreferenceStore
	maxAttempts  int
	backoff      time.Duration
	chunkBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewBuilder creates a new Builder
func NewBuilder(opts ...BuilderOption) *Builder {
	options := &builderOptions{
		maxAttempts:  DefaultMaxAttempts,
		backoff:      DefaultBackoff,
		chunkBackoff: DefaultChunkBackoff,
		now:          time.Now,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Builder{
		prefs:        options.prefs,
		maxAttempts:  options.maxAttempts,
		backoff:      options.backoff,
		chunkBackoff: options.chunkBackoff,
		now:          options.now,
		logger:       options.logger,
	}
}

// DefaultPriority assigns priority by kind and, for reminders, by urgency.
// An overdue reminder always wins over the urgency signal.
func DefaultPriority(kind Kind, p Payload) Priority {
	switch kind {
	case KindVerification, KindPasswordReset:
		return PriorityCritical
	case KindWelcome:
		return PriorityWelcome
	case KindTaskReminder:
		if p.Reminder == nil {
			return PriorityReminder
		}
		if p.Reminder.Type == ReminderOverdue {
			return PriorityOverdue
		}
		switch p.Reminder.Urgency {
		case UrgencyUrgent:
			return PriorityReminderUrg
		case UrgencyHigh:
			return PriorityReminderHigh
		}
		return PriorityReminder
	case KindFocusAlert:
		return PriorityFocusAlert
	case KindAchievement:
		return PriorityAchievement
	case KindWeeklyDigest:
		return PriorityDigest
	}
	return PriorityBatchChunk
}

// Build validates the request and returns a new job in state Queued.
// ErrChannelDisabled is returned when the recipient switched the kind off.
func (b *Builder) Build(ctx context.Context, kind Kind, payload Payload, opts ...EnqueueOption) (*Job, error) {
	if !kind.Valid() {
		return nil, NewValidationError(kind, "kind", "unknown")
	}
	if kind == KindRetry {
		// Retry jobs are derived from a failed job, see Service.Retry
		return nil, NewValidationError(kind, "kind", "retry jobs cannot be enqueued directly")
	}

	options := &enqueueOptions{
		maxAttempts:       b.maxAttempts,
		respectQuietHours: !kind.Critical(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.priority != nil && !options.priority.Valid() {
		return nil, NewValidationError(kind, "priority", "must be between 0 and 100")
	}

	if err := validatePayload(kind, payload); err != nil {
		return nil, err
	}

	var userID string
	if payload.Recipient != nil {
		userID = payload.Recipient.UserID
	}

	if !kind.Critical() && kind != KindBatchChunk {
		enabled, err := b.ChannelEnabled(ctx, userID, kind)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, ErrChannelDisabled
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewValidationError(kind, "payload", err.Error())
	}

	now := b.now()

	priority := DefaultPriority(kind, payload)
	if options.priority != nil {
		priority = *options.priority
	}

	delay := options.delay
	if options.dispatchAt != nil {
		delay = max(delay, options.dispatchAt.Sub(now))
	}
	if options.exactDelay != nil {
		delay = *options.exactDelay
	}

	backoff := b.backoff
	if kind == KindBatchChunk {
		backoff = b.chunkBackoff
	}

	return &Job{
		ID:                uuid.New(),
		Queue:             RouteQueue(kind),
		Kind:              kind,
		UserID:            userID,
		Payload:           raw,
		Priority:          priority,
		RespectQuietHours: options.respectQuietHours && !kind.Critical() && userID != "",
		RequestedDelay:    max(delay, 0),
		DispatchAt:        now,
		Attempt:           0,
		MaxAttempts:       options.maxAttempts,
		BaseBackoff:       backoff,
		State:             StateQueued,
		BatchID:           cloneUUID(options.batchID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// buildRetry derives a retry-queue job from a failed one. Retry jobs get a
// single attempt and keep the original priority and quiet-hours policy.
func (b *Builder) buildRetry(original *Job) *Job {
	now := b.now()
	parent := original.ID

	return &Job{
		ID:                retryJobID(original),
		Queue:             QueueRetry,
		Kind:              KindRetry,
		OriginKind:        original.DeliveryKind(),
		UserID:            original.UserID,
		Payload:           append([]byte(nil), original.Payload...),
		Priority:          original.Priority,
		RespectQuietHours: original.RespectQuietHours,
		DispatchAt:        now,
		MaxAttempts:       RetryJobMaxAttempts,
		BaseBackoff:       b.backoff,
		State:             StateQueued,
		ParentID:          &parent,
		BatchID:           cloneUUID(original.BatchID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// retryJobID derives the id of the next retry from the previous one, so two
// retries of the same failure collide on CreateJob.
func retryJobID(original *Job) uuid.UUID {
	name := []byte("retry")
	if original.RetryID != nil {
		name = original.RetryID[:]
	}
	return uuid.NewSHA1(original.ID, name)
}

// ChannelEnabled consults the preference store. Lookup failures fail open:
// a broken preference service must not swallow notifications.
func (b *Builder) ChannelEnabled(ctx context.Context, userID string, kind Kind) (bool, error) {
	if b.prefs == nil || userID == "" {
		return true, nil
	}

	enabled, err := b.prefs.IsChannelEnabled(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, fmt.Errorf("check channel preference: %w", err)
		}
		b.logger.WarnContext(ctx, "preference lookup failed, delivering anyway",
			logger.UserID(userID),
			logger.Kind(string(kind)),
			logger.Error(err))
		return true, nil
	}
	return enabled, nil
}
