package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/requestid"
)

func serve(t *testing.T, header string) (seen string, echoed string) {
	t.Helper()
	handler := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return seen, rec.Header().Get(requestid.Header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generates an id when none is sent", func(t *testing.T) {
		t.Parallel()
		seen, echoed := serve(t, "")
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, echoed)
	})

	t.Run("reuses a well formed id", func(t *testing.T) {
		t.Parallel()
		seen, echoed := serve(t, "batch-import_42")
		assert.Equal(t, "batch-import_42", seen)
		assert.Equal(t, "batch-import_42", echoed)
	})

	for _, bad := range []string{"a b", "x/y", "<script>", strings.Repeat("a", 129)} {
		t.Run("replaces "+bad[:min(len(bad), 8)], func(t *testing.T) {
			t.Parallel()
			seen, echoed := serve(t, bad)
			assert.NotEqual(t, bad, seen)
			assert.Equal(t, seen, echoed)
		})
	}
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := requestid.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	attr, ok := extract(requestid.WithContext(context.Background(), "req-1"))
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())
}
