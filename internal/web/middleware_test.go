package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/learnloop/chatrelay/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(APIMiddleware(errors.NewErrorMiddleware(zap.NewNop()), APISecurityHeaders(), APIInputValidation()))
	api.HandleFunc("/communities/{communityId}/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	return r
}

func TestAPIMiddlewareAllowsValidRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/communities/C1/messages?limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPIMiddlewareRejects(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header [2]string
		code   string
	}{
		{"unknown query param", "/api/communities/C1/messages?since=1", [2]string{}, "INVALID_QUERY_PARAM"},
		{"long query", "/api/communities/C1/messages?limit=" + strings.Repeat("9", 2000), [2]string{}, "QUERY_TOO_LONG"},
		{"long header", "/api/communities/C1/messages", [2]string{"X-Custom", strings.Repeat("a", 5000)}, "HEADER_TOO_LONG"},
		{"bad user agent", "/api/communities/C1/messages", [2]string{"User-Agent", "bot\x00"}, "HEADER_INJECTION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			rec := httptest.NewRecorder()
			newRouter().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body errors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error.Code)
			assert.Equal(t, errors.ErrorTypeValidation, body.Error.Type)
		})
	}
}
