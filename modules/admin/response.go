package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/queue"
)

// Response is the envelope of every admin API answer
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// badRequestError marks requests that could not be decoded
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *api) ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Data: data})
}

// fail maps an error to its status: validation 422, missing 404,
// state conflict 409, undecodable request 400, anything else 500
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "admin request failed",
			logger.Error(err),
			logger.Group("http", slog.String("method", r.Method), slog.String("path", r.URL.Path)))
	}
	writeJSON(w, status, Response{Error: detail})
}

func classify(err error) (int, *ErrorDetail) {
	var (
		valErr      *queue.ValidationError
		conflictErr *queue.StateConflictError
		badReq      badRequestError
	)
	switch {
	case errors.As(err, &valErr):
		detail := &ErrorDetail{Code: "validation_error", Message: valErr.Error()}
		if len(valErr.Fields) > 0 {
			detail.Details = make(map[string][]string, len(valErr.Fields))
			for field, rule := range valErr.Fields {
				detail.Details[field] = []string{rule}
			}
		}
		return http.StatusUnprocessableEntity, detail
	case errors.As(err, &conflictErr):
		return http.StatusConflict, &ErrorDetail{
			Code:    "state_conflict",
			Message: conflictErr.Error(),
			Details: map[string][]string{"state": {string(conflictErr.State)}},
		}
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, queue.ErrBatchNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: err.Error()}
	case errors.As(err, &badReq):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, &ErrorDetail{
			Code:    "internal_error",
			Message: http.StatusText(http.StatusInternalServerError),
		}
	}
}
