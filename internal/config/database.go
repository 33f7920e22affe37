package config

import "time"

// StoreConfig selects and configures the message store backend.
// For postgres, URL takes priority over Server/Port when set.
type StoreConfig struct {
	Driver string `mapstructure:"DRIVER" json:"driver" validate:"required,store_driver"`

	URL            string        `mapstructure:"URL"             json:"url"             validate:"omitempty"`
	Server         string        `mapstructure:"SERVER"          json:"server"          validate:"omitempty,host"`
	Port           int           `mapstructure:"PORT"            json:"port"            validate:"omitempty,min=1,max=65535"`
	User           string        `mapstructure:"USER"            json:"user"`
	Password       string        `mapstructure:"PASSWORD"        json:"-"`
	Name           string        `mapstructure:"NAME"            json:"name"`
	SSLMode        string        `mapstructure:"SSL_MODE"        json:"ssl_mode"        validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxConns       int32         `mapstructure:"MAX_CONNS"       json:"max_conns"       validate:"omitempty,min=1,max=1000"`
	ConnectTimeout time.Duration `mapstructure:"CONNECT_TIMEOUT" json:"connect_timeout" validate:"omitempty,timeout_duration"`
	ConnectRetries int           `mapstructure:"CONNECT_RETRIES" json:"connect_retries" validate:"min=0,max=100"`

	// PebblePath is the data directory of the embedded backend.
	PebblePath string `mapstructure:"PEBBLE_PATH" json:"pebble_path"`
}
