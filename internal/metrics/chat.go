package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_active_connections",
		Help: "The number of open WebSocket connections",
	})

	RegisteredIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_registered_identities",
		Help: "The number of identities mapped to a live connection",
	})

	ConnectionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_connections_closed_total",
		Help: "Connections closed by reason",
	}, []string{"reason"})

	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_connections_rejected_total",
		Help: "Upgrade requests rejected because the connection limit was reached",
	})

	// Inbound frame metrics
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_frames_received_total",
		Help: "Inbound frames by event type",
	}, []string{"type"})

	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_malformed_frames_total",
		Help: "Inbound frames dropped as malformed",
	})

	RateLimitedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_rate_limited_frames_total",
		Help: "Inbound frames dropped by the per-connection rate limit",
	})

	FrameSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_frame_size_bytes",
		Help:    "Size of inbound frames in bytes",
		Buckets: prometheus.ExponentialBuckets(16, 4, 6),
	})

	// Persistence metrics
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_messages_persisted_total",
		Help: "Messages stored by message type",
	}, []string{"type"})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_persistence_failures_total",
		Help: "Inbound events dropped because the store rejected them",
	})

	ConsecutivePersistenceFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_persistence_failure_streak",
		Help: "Current run of consecutive persistence failures",
	})

	PersistenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_persistence_duration_seconds",
		Help:    "Time spent in CreateMessage",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 7),
	})

	// Fan-out metrics
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_pushes_total",
		Help: "Envelope pushes by outcome",
	}, []string{"outcome"})

	FanoutRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_fanout_recipients",
		Help:    "Resolved recipients per message",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_dispatch_queue_depth",
		Help: "Events waiting in the ordered dispatch queues",
	})

	DispatchPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_dispatch_panics_total",
		Help: "Panics recovered while dispatching an event",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_http_requests_total",
		Help: "HTTP requests by route",
	}, []string{"route"})

	HTTPRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 10, 5),
	})

	ErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_errors_total",
		Help: "Errors by type",
	}, []string{"type"})
)

// Shadow counters for the health endpoint, since collectors cannot be read back.
var (
	activeConnectionsCount int64
	messagesPersistedCount int64
	lastMessageTimestamp   int64
)

const (
	PushDelivered = "delivered"
	PushFailed    = "failed"
)

// IncrementActiveConnections tracks a newly opened connection.
func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
}

// DecrementActiveConnections tracks a closed connection.
func DecrementActiveConnections(reason string) {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
	ConnectionsClosed.WithLabelValues(reason).Inc()
}

func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordPersisted counts a stored message and resets the failure streak.
func RecordPersisted(msgType string, took time.Duration) {
	MessagesPersisted.WithLabelValues(msgType).Inc()
	PersistenceDuration.Observe(took.Seconds())
	ConsecutivePersistenceFailures.Set(0)
	atomic.AddInt64(&messagesPersistedCount, 1)
	atomic.StoreInt64(&lastMessageTimestamp, time.Now().Unix())
}

// RecordPersistenceFailure counts a dropped event and publishes the current streak.
func RecordPersistenceFailure(streak int64, took time.Duration) {
	PersistenceFailures.Inc()
	PersistenceDuration.Observe(took.Seconds())
	ConsecutivePersistenceFailures.Set(float64(streak))
	ErrorsCount.WithLabelValues("persistence").Inc()
}

func GetMessagesPersistedCount() int64 {
	return atomic.LoadInt64(&messagesPersistedCount)
}

// GetLastMessageTime returns zero time when nothing was persisted yet.
func GetLastMessageTime() time.Time {
	ts := atomic.LoadInt64(&lastMessageTimestamp)
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// RegisterMetrics pre-creates labelled series so dashboards show zeros.
func RegisterMetrics() {
	for _, t := range []string{"community_message", "direct_message", "unknown"} {
		FramesReceived.WithLabelValues(t)
	}
	for _, t := range []string{"community", "direct"} {
		MessagesPersisted.WithLabelValues(t)
	}
	for _, o := range []string{PushDelivered, PushFailed} {
		Pushes.WithLabelValues(o)
	}
	for _, r := range []string{"peer", "superseded", "write_failure", "idle", "rate_limit", "shutdown"} {
		ConnectionsClosed.WithLabelValues(r)
	}
	for _, t := range []string{"malformed_event", "persistence", "connection_write", "database", "internal"} {
		ErrorsCount.WithLabelValues(t)
	}
}
