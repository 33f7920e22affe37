package config

import "time"

// ChatConfig holds the real-time endpoint and fan-out settings.
type ChatConfig struct {
	WSAddr             string        `mapstructure:"WS_ADDR"               json:"ws_addr"               validate:"required,wsaddr"`
	IdentityParam      string        `mapstructure:"IDENTITY_PARAM"        json:"identity_param"        validate:"required,max=64"`
	IdentityField      string        `mapstructure:"IDENTITY_FIELD"        json:"identity_field"        validate:"required,identity_field"`
	CloseSuperseded    bool          `mapstructure:"CLOSE_SUPERSEDED"      json:"close_superseded"`
	EchoDirectToSender bool          `mapstructure:"ECHO_DIRECT_TO_SENDER" json:"echo_direct_to_sender"`
	PersistTimeout     time.Duration `mapstructure:"PERSIST_TIMEOUT"       json:"persist_timeout"       validate:"required,timeout_duration"`
	// PersistenceAlertThreshold is the streak of failed writes after which
	// every further failure is logged at error level.
	PersistenceAlertThreshold int `mapstructure:"PERSISTENCE_ALERT_THRESHOLD" json:"persistence_alert_threshold" validate:"required,min=1,max=10000"`

	Connection ConnectionConfig `mapstructure:"CONNECTION" json:"connection" validate:"required"`
	RateLimit  RateLimitConfig  `mapstructure:"RATE_LIMIT" json:"rate_limit"`
	Dispatch   DispatchConfig   `mapstructure:"DISPATCH"   json:"dispatch"   validate:"required"`
	History    HistoryConfig    `mapstructure:"HISTORY"    json:"history"    validate:"required"`
}

// ConnectionConfig bounds a single WebSocket connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration `mapstructure:"IDLE_TIMEOUT"    json:"idle_timeout"    validate:"required,reasonable_duration"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"   json:"write_timeout"   validate:"required,timeout_duration"`
	PingInterval   time.Duration `mapstructure:"PING_INTERVAL"   json:"ping_interval"   validate:"required,timeout_duration"`
	PongWait       time.Duration `mapstructure:"PONG_WAIT"       json:"pong_wait"       validate:"required,timeout_duration,gtfield=PingInterval"`
	SendQueueSize  int           `mapstructure:"SEND_QUEUE_SIZE" json:"send_queue_size" validate:"required,min=1,max=65536"`
	MaxFrameBytes  int64         `mapstructure:"MAX_FRAME_BYTES" json:"max_frame_bytes" validate:"required,min=256,max=33554432"`
	MaxConnections int           `mapstructure:"MAX_CONNECTIONS" json:"max_connections" validate:"required,min=1,max=100000"`
}

// RateLimitConfig throttles inbound frames per connection.
type RateLimitConfig struct {
	Enabled            bool    `mapstructure:"ENABLED"               json:"enabled"`
	MaxEventsPerSecond float64 `mapstructure:"MAX_EVENTS_PER_SECOND" json:"max_events_per_second" validate:"min=0,max=10000"`
	BurstSize          int     `mapstructure:"BURST_SIZE"            json:"burst_size"            validate:"min=0,max=1000"`
	// MaxViolations consecutive rejected frames close the connection.
	MaxViolations int `mapstructure:"MAX_VIOLATIONS" json:"max_violations" validate:"min=0,max=1000"`

	// Upgrade attempts per client address.
	ConnectsPerSecond float64       `mapstructure:"CONNECTS_PER_SECOND" json:"connects_per_second" validate:"min=0,max=10000"`
	ConnectBurst      int           `mapstructure:"CONNECT_BURST"       json:"connect_burst"       validate:"min=0,max=1000"`
	BanThreshold      int           `mapstructure:"BAN_THRESHOLD"       json:"ban_threshold"       validate:"min=0,max=1000"`
	BanDuration       time.Duration `mapstructure:"BAN_DURATION"        json:"ban_duration"        validate:"omitempty,reasonable_duration"`
}

// DispatchConfig sizes the ordered dispatch workers.
type DispatchConfig struct {
	Workers   int `mapstructure:"WORKERS"    json:"workers"    validate:"required,min=1,max=1024"`
	QueueSize int `mapstructure:"QUEUE_SIZE" json:"queue_size" validate:"required,min=1,max=100000"`
}

// HistoryConfig bounds history reads.
type HistoryConfig struct {
	DefaultLimit int `mapstructure:"DEFAULT_LIMIT" json:"default_limit" validate:"required,min=1,max=1000"`
	MaxLimit     int `mapstructure:"MAX_LIMIT"     json:"max_limit"     validate:"required,min=1,max=10000,gtefield=DefaultLimit"`
}
