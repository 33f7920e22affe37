package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixedLen int

func (n fixedLen) Len() int { return int(n) }

type fixedStreak int64

func (s fixedStreak) FailureStreak() int64 { return int64(s) }

func serve(t *testing.T, c *Checker) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	c.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthy(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	c := NewChecker(ok, fixedLen(2), fixedStreak(0), Limits{MaxConnections: 100000, PersistenceAlertThreshold: 5}, nil, "test")

	code, resp := serve(t, c)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Len(t, resp.Components, 4)
}

func TestStoreDownIsUnhealthy(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	c := NewChecker(down, fixedLen(0), fixedStreak(0), Limits{}, nil, "test")

	code, resp := serve(t, c)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestFailureStreakGrading(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })

	_, resp := serve(t, NewChecker(ok, fixedLen(0), fixedStreak(2), Limits{PersistenceAlertThreshold: 5}, nil, "t"))
	assert.Equal(t, StatusDegraded, resp.Status)

	code, resp := serve(t, NewChecker(ok, fixedLen(0), fixedStreak(5), Limits{PersistenceAlertThreshold: 5}, nil, "t"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5e9))
	assert.Equal(t, "1m 1s", formatUptime(61e9))
}
