package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/modules/admin"
	"github.com/dmitrymomot/courier/pkg/queue"
	"github.com/dmitrymomot/courier/pkg/ratelimiter"
	"github.com/dmitrymomot/courier/pkg/requestid"
)

type envelope struct {
	Data  json.RawMessage    `json:"data"`
	Meta  map[string]any     `json:"meta"`
	Error *admin.ErrorDetail `json:"error"`
}

func newRouter(t *testing.T, opts ...admin.Option) (http.Handler, *queue.Service) {
	t.Helper()

	transport := queue.TransportFunc(func(context.Context, *queue.Job) error { return nil })
	svc, err := queue.NewService(queue.NewMemoryStorage(), transport,
		queue.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	opts = append([]admin.Option{admin.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return admin.Router(svc, opts...), svc
}

func call(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func welcomeRequest() map[string]any {
	return map[string]any{
		"kind": "welcome",
		"payload": map[string]any{
			"recipient": map[string]any{"user_id": "user-1", "email": "user1@example.com", "name": "User 1"},
			"template":  "welcome",
		},
	}
}

func TestJobsLifecycle(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	rec, env := call(t, h, http.MethodPost, "/jobs", welcomeRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var receipt queue.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	require.NotEqual(t, uuid.Nil, receipt.JobID)
	assert.False(t, receipt.Skipped)

	jobPath := "/jobs/" + receipt.JobID.String()

	rec, env = call(t, h, http.MethodGet, jobPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view queue.JobView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, queue.StateScheduled, view.State)
	assert.Equal(t, queue.KindWelcome, view.Kind)

	rec, env = call(t, h, http.MethodGet, jobPath+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []queue.TransitionRecord
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.NotEmpty(t, history)

	rec, env = call(t, h, http.MethodPost, jobPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":true}`, string(env.Data))

	rec, env = call(t, h, http.MethodPost, jobPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "state_conflict", env.Error.Code)
	assert.Equal(t, []string{string(queue.StateCancelled)}, env.Error.Details["state"])

	rec, env = call(t, h, http.MethodPost, jobPath+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "state_conflict", env.Error.Code)
}

func TestEnqueue_Errors(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{
			name:   "unknown kind",
			body:   map[string]any{"kind": "sms", "payload": map[string]any{}},
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
			field:  "kind",
		},
		{
			name: "priority out of range",
			body: func() map[string]any {
				b := welcomeRequest()
				b["priority"] = 150
				return b
			}(),
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
			field:  "priority",
		},
		{
			name: "bad delay",
			body: func() map[string]any {
				b := welcomeRequest()
				b["delay"] = "soon"
				return b
			}(),
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
			field:  "delay",
		},
		{
			name:   "missing recipient",
			body:   map[string]any{"kind": "welcome", "payload": map[string]any{"template": "welcome"}},
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
			field:  "recipient",
		},
		{
			name:   "unknown field",
			body:   `{"kind":"welcome","colour":"red"}`,
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "empty body",
			body:   "",
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := call(t, h, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			if tt.field != "" {
				assert.Contains(t, env.Error.Details, tt.field)
			}
		})
	}
}

func TestJobLookup_Errors(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	rec, env := call(t, h, http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = call(t, h, http.MethodGet, "/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Code)

	rec, _ = call(t, h, http.MethodGet, "/batches/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatches(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	rec, env := call(t, h, http.MethodPost, "/batches", map[string]any{
		"template": "launch",
		"subject":  "We launched",
		"recipients": []map[string]any{
			{"user_id": "user-1", "email": "user1@example.com"},
			{"user_id": "user-2", "email": "user2@example.com"},
			{"user_id": "user-3", "email": "broken"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var summary queue.BatchSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Queued)
	assert.Equal(t, 1, summary.FailedToQueue)
	require.Len(t, summary.Chunks, 1)

	rec, env = call(t, h, http.MethodGet, "/batches/"+summary.BatchID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view queue.BatchView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "launch", view.Template)
	assert.Len(t, view.Chunks, 1)

	rec, env = call(t, h, http.MethodPost, "/batches", map[string]any{"template": "launch"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestDigests(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	rec, env := call(t, h, http.MethodPost, "/digests", map[string]any{
		"user_id":               "user-1",
		"email":                 "user1@example.com",
		"start":                 "2025-03-03T00:00:00Z",
		"end":                   "2025-03-10T00:00:00Z",
		"weekly_digest_enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt queue.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.True(t, receipt.Skipped)

	rec, env = call(t, h, http.MethodPost, "/digests", map[string]any{
		"user_id":               "user-1",
		"email":                 "user1@example.com",
		"start":                 "2025-03-03T00:00:00Z",
		"end":                   "2025-03-10T00:00:00Z",
		"weekly_digest_enabled": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, queue.QueueDigest, receipt.Queue)
}

func TestPauseResumeAndStats(t *testing.T) {
	t.Parallel()

	h, svc := newRouter(t)

	rec, env := call(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, env.Meta["paused"])

	rec, env = call(t, h, http.MethodPost, "/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paused":true}`, string(env.Data))
	assert.True(t, svc.Paused())

	_, env = call(t, h, http.MethodGet, "/stats", nil)
	assert.Equal(t, true, env.Meta["paused"])

	rec, env = call(t, h, http.MethodPost, "/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paused":false}`, string(env.Data))
	assert.False(t, svc.Paused())
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t, admin.WithReadinessChecks(func(context.Context) error {
		return errors.New("database is down")
	}))

	rec, _ := call(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(requestid.Header, "trace-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", rec.Header().Get(requestid.Header))

	rec, _ = call(t, h, http.MethodGet, "/stats", nil)
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(store.Close)
	limiter, err := ratelimiter.NewBucket(store, ratelimiter.PerMinute(1, 2))
	require.NoError(t, err)

	h, _ := newRouter(t, admin.WithRateLimit(limiter))

	for range 2 {
		rec, _ := call(t, h, http.MethodGet, "/stats", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := call(t, h, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = call(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
