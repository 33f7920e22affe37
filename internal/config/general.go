package config

import "time"

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout" validate:"required,timeout_duration"`
}
