package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/pkg/queue"
)

const maxBodySize = 4 << 20

type enqueueRequest struct {
	Kind             queue.Kind    `json:"kind"`
	Payload          queue.Payload `json:"payload"`
	Priority         *int          `json:"priority,omitempty"`
	Delay            string        `json:"delay,omitempty"`
	DispatchAt       *time.Time    `json:"dispatch_at,omitempty"`
	MaxAttempts      int           `json:"max_attempts,omitempty"`
	IgnoreQuietHours bool          `json:"ignore_quiet_hours,omitempty"`
}

// options converts the request knobs into enqueue options
func (r enqueueRequest) options() ([]queue.EnqueueOption, error) {
	var opts []queue.EnqueueOption

	if r.Priority != nil {
		if *r.Priority < 0 || *r.Priority > 100 {
			return nil, queue.NewValidationError(r.Kind, "priority", "range")
		}
		opts = append(opts, queue.WithPriority(queue.Priority(*r.Priority)))
	}
	if r.Delay != "" {
		d, err := time.ParseDuration(r.Delay)
		if err != nil || d < 0 {
			return nil, queue.NewValidationError(r.Kind, "delay", "duration")
		}
		opts = append(opts, queue.WithDelay(d))
	}
	if r.DispatchAt != nil {
		opts = append(opts, queue.WithDispatchAt(*r.DispatchAt))
	}
	if r.MaxAttempts != 0 {
		if r.MaxAttempts < 1 || r.MaxAttempts > 10 {
			return nil, queue.NewValidationError(r.Kind, "max_attempts", "range")
		}
		opts = append(opts, queue.WithMaxAttempts(r.MaxAttempts))
	}
	if r.IgnoreQuietHours {
		opts = append(opts, queue.WithoutQuietHours())
	}
	return opts, nil
}

type batchRequest struct {
	Recipients []queue.Recipient `json:"recipients"`
	Subject    string            `json:"subject,omitempty"`
	Template   string            `json:"template"`
	Vars       map[string]any    `json:"vars,omitempty"`
}

type digestRequest struct {
	UserID              string    `json:"user_id"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	WeeklyDigestEnabled bool      `json:"weekly_digest_enabled"`
	Email               string    `json:"email"`
	Name                string    `json:"name,omitempty"`
}

// decode reads a single JSON document into v
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequestError{errors.New("request body is empty")}
		}
		return badRequestError{fmt.Errorf("invalid request body: %w", err)}
	}
	if dec.More() {
		return badRequestError{errors.New("request body must contain a single JSON object")}
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, badRequestError{fmt.Errorf("invalid id: %w", err)}
	}
	return id, nil
}
