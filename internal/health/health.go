package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/learnloop/chatrelay/internal/metrics"
	"go.uber.org/zap"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

const checkTimeout = 3 * time.Second

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus       `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Version    string             `json:"version"`
	Uptime     string             `json:"uptime"`
	Components []*ComponentStatus `json:"components"`
}

// Pinger is the store dependency of the checker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry reports how many identities are online.
type Registry interface {
	Len() int
}

// PersistenceMonitor exposes the current run of failed writes.
type PersistenceMonitor interface {
	FailureStreak() int64
}

// Limits are the thresholds the checker grades against.
type Limits struct {
	MaxConnections            int
	PersistenceAlertThreshold int
}

// Checker serves /health.
type Checker struct {
	store     Pinger
	registry  Registry
	persist   PersistenceMonitor
	limits    Limits
	logger    *zap.Logger
	startTime time.Time
	version   string
}

func NewChecker(store Pinger, registry Registry, persist PersistenceMonitor, limits Limits, log *zap.Logger, version string) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		store:     store,
		registry:  registry,
		persist:   persist,
		limits:    limits,
		logger:    log,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth grades every component; the worst one sets the overall status.
func (h *Checker) CheckHealth(ctx context.Context) *HealthResponse {
	components := []*ComponentStatus{
		h.checkStore(ctx),
		h.checkPersistence(),
		h.checkConnections(),
		h.checkMemory(),
	}

	overall := StatusHealthy
	for _, c := range components {
		switch {
		case c.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case c.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     formatUptime(time.Since(h.startTime)),
		Components: components,
	}
}

func (h *Checker) checkStore(ctx context.Context) *ComponentStatus {
	status := &ComponentStatus{Name: "store", Status: StatusHealthy, Message: "Store is reachable"}
	if err := h.store.Ping(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = "Store ping failed"
		status.Details = map[string]any{"error": err.Error()}
	}
	return status
}

func (h *Checker) checkPersistence() *ComponentStatus {
	streak := h.persist.FailureStreak()
	status := &ComponentStatus{
		Name:   "persistence",
		Status: StatusHealthy,
		Details: map[string]any{
			"failure_streak":     streak,
			"messages_persisted": metrics.GetMessagesPersistedCount(),
		},
	}
	if last := metrics.GetLastMessageTime(); !last.IsZero() {
		status.Details["last_message_at"] = last
	}

	threshold := int64(max(h.limits.PersistenceAlertThreshold, 1))
	switch {
	case streak >= threshold:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("%d consecutive writes failed", streak)
	case streak > 0:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("%d recent writes failed", streak)
	default:
		status.Message = "Writes succeeding"
	}
	return status
}

func (h *Checker) checkConnections() *ComponentStatus {
	active := metrics.GetActiveConnectionsCount()
	status := &ComponentStatus{
		Name:   "connections",
		Status: StatusHealthy,
		Details: map[string]any{
			"active_connections":    active,
			"registered_identities": h.registry.Len(),
			"max_connections":       h.limits.MaxConnections,
		},
	}
	if h.limits.MaxConnections > 0 {
		utilization := float64(active) / float64(h.limits.MaxConnections) * 100
		status.Details["utilization_percent"] = utilization
		if utilization > 90 {
			status.Status = StatusDegraded
			status.Message = fmt.Sprintf("High connection utilization: %d/%d", active, h.limits.MaxConnections)
			return status
		}
	}
	status.Message = fmt.Sprintf("%d connections open", active)
	return status
}

func (h *Checker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	allocMB := float64(m.Alloc) / 1024 / 1024

	status := &ComponentStatus{
		Name:   "memory",
		Status: StatusHealthy,
		Details: map[string]any{
			"alloc_mb":   allocMB,
			"sys_mb":     float64(m.Sys) / 1024 / 1024,
			"num_gc":     m.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
		Message: fmt.Sprintf("Memory usage: %.1f MB", allocMB),
	}
	if allocMB > 1000 {
		status.Status = StatusDegraded
	}
	return status
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HandleHealth answers 200 unless a component is unhealthy.
func (h *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := h.CheckHealth(ctx)
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
		return
	}
	h.logger.Debug("Health check completed",
		zap.String("status", string(resp.Status)),
		zap.Int("status_code", code))
}
