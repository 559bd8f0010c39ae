package queue

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Recipient is the addressee of a notification
type Recipient struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Email  string `json:"email" validate:"required,email,max=254"`
	Name   string `json:"name,omitempty" validate:"max=255"`
}

// ReminderType classifies task reminders
type ReminderType string

const (
	ReminderUpcoming ReminderType = "upcoming"
	ReminderDue      ReminderType = "due"
	ReminderOverdue  ReminderType = "overdue"
)

// Urgency is the caller-side urgency signal for task reminders
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Reminder carries task reminder details
type Reminder struct {
	TaskID  string       `json:"task_id" validate:"required,max=128"`
	Title   string       `json:"title" validate:"required,max=255"`
	DueAt   *time.Time   `json:"due_at,omitempty"`
	Type    ReminderType `json:"type,omitempty" validate:"omitempty,oneof=upcoming due overdue"`
	Urgency Urgency      `json:"urgency,omitempty" validate:"omitempty,oneof=low normal high urgent"`
}

// DigestWindow is the period a weekly digest summarises
type DigestWindow struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

// Payload is the kind-specific data of a job. Which fields are required
// depends on the kind; see requirePayload.
type Payload struct {
	Recipient  *Recipient     `json:"recipient,omitempty"`
	Recipients []Recipient    `json:"recipients,omitempty" validate:"omitempty,max=1000,dive"`
	Subject    string         `json:"subject,omitempty" validate:"max=998"`
	Template   string         `json:"template,omitempty" validate:"max=128"`
	Vars       map[string]any `json:"vars,omitempty"`
	Reminder   *Reminder      `json:"reminder,omitempty"`
	Digest     *DigestWindow  `json:"digest,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRecipient checks a single recipient
func ValidateRecipient(r Recipient) error {
	if err := validate.Struct(r); err != nil {
		return toValidationError("", err)
	}
	return nil
}

// validatePayload checks field rules and the per-kind shape
func validatePayload(kind Kind, p Payload) error {
	if err := requirePayload(kind, p); err != nil {
		return err
	}
	if err := validate.Struct(p); err != nil {
		return toValidationError(kind, err)
	}
	return nil
}

func requirePayload(kind Kind, p Payload) *ValidationError {
	switch kind {
	case KindBatchChunk:
		if len(p.Recipients) == 0 {
			return NewValidationError(kind, "recipients", "required")
		}
		return nil
	case KindTaskReminder:
		if p.Reminder == nil {
			return NewValidationError(kind, "reminder", "required")
		}
	case KindWeeklyDigest:
		if p.Digest == nil {
			return NewValidationError(kind, "digest", "required")
		}
	}
	if p.Recipient == nil {
		return NewValidationError(kind, "recipient", "required")
	}
	return nil
}

func toValidationError(kind Kind, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Kind: kind, Fields: map[string]string{"payload": err.Error()}}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Payload.recipient.email"; drop the root type name
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fe.Tag()
	}
	return &ValidationError{Kind: kind, Fields: fields}
}
