package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPersistenceErrorCodes(t *testing.T) {
	assert.Equal(t, "PERSISTENCE_FAILED", PersistenceError("create message", stderrors.New("boom")).Code)

	timeout := fmt.Errorf("insert: %w", context.DeadlineExceeded)
	err := PersistenceError("create message", timeout)
	assert.Equal(t, "PERSISTENCE_TIMEOUT", err.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, err.StackTrace, "high severity errors carry a stack")
}

func TestAsAndIsTypeSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", MalformedEvent("content is blank", nil))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeMalformedEvent, appErr.Type)
	assert.True(t, IsType(err, ErrorTypeMalformedEvent))
	assert.False(t, IsType(err, ErrorTypePersistence))
	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeInternal))
}

func TestStatusCode(t *testing.T) {
	cases := map[ErrorType]int{
		ErrorTypeValidation:     http.StatusBadRequest,
		ErrorTypeMalformedEvent: http.StatusBadRequest,
		ErrorTypeNotFound:       http.StatusNotFound,
		ErrorTypeRateLimit:      http.StatusTooManyRequests,
		ErrorTypeNetwork:        http.StatusServiceUnavailable,
		ErrorTypeTimeout:        http.StatusGatewayTimeout,
		ErrorTypeDatabase:       http.StatusInternalServerError,
	}
	for typ, want := range cases {
		assert.Equal(t, want, StatusCode(typ), typ)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWrapRendersAppError(t *testing.T) {
	em := NewErrorMiddleware(zap.NewNop())
	h := em.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return NotFoundError("community")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/communities/x/messages", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	body := decodeError(t, rec)
	assert.Equal(t, ErrorTypeNotFound, body.Type)
	assert.Equal(t, "req-1", body.RequestID)
}

func TestWrapHidesPlainErrors(t *testing.T) {
	em := NewErrorMiddleware(zap.NewNop())
	h := em.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return stderrors.New("dial tcp 10.0.0.5:5432: connection refused")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, ErrorTypeInternal, body.Type)
	assert.NotContains(t, body.Message, "10.0.0.5")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverTurnsPanicIntoInternalError(t *testing.T) {
	em := NewErrorMiddleware(zap.NewNop())
	h := em.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PANIC_RECOVERED", decodeError(t, rec).Code)
}
