package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/learnloop/chatrelay/internal/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is overridden by the main package from build information.
var Version = "dev"

const envPrefix = "CHATRELAY"

var (
	validate    = validator.New()
	hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

// Config holds every sub-config.
type Config struct {
	General GeneralConfig `mapstructure:"general" validate:"required"`
	Chat    ChatConfig    `mapstructure:"chat"    validate:"required"`
	Store   StoreConfig   `mapstructure:"store"   validate:"required"`
	Logging LoggingConfig `mapstructure:"logging" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics" validate:"required"`
}

func init() {
	registerCustomValidators()
	validate.RegisterStructValidation(crossValidate, Config{})
}

func registerCustomValidators() {
	must := func(tag string, fn validator.Func) {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validator: %v", tag, err))
		}
	}

	must("wsaddr", func(fl validator.FieldLevel) bool {
		return validListenAddr(fl.Field().String())
	})
	must("host", func(fl validator.FieldLevel) bool {
		host := fl.Field().String()
		return net.ParseIP(host) != nil || hostPattern.MatchString(host)
	})
	must("reasonable_duration", func(fl validator.FieldLevel) bool {
		d := time.Duration(fl.Field().Int())
		return d >= time.Second && d <= 24*time.Hour
	})
	must("timeout_duration", func(fl validator.FieldLevel) bool {
		d := time.Duration(fl.Field().Int())
		return d >= 100*time.Millisecond && d <= time.Hour
	})
	must("log_level", func(fl validator.FieldLevel) bool {
		return slices.Contains([]string{"debug", "info", "warn", "error", "fatal"}, fl.Field().String())
	})
	must("log_format", func(fl validator.FieldLevel) bool {
		f := fl.Field().String()
		return f == "console" || f == "json"
	})
	must("store_driver", func(fl validator.FieldLevel) bool {
		d := fl.Field().String()
		return d == DriverPostgres || d == DriverPebble
	})
	must("identity_field", func(fl validator.FieldLevel) bool {
		f := fl.Field().String()
		return f == "email" || f == "id"
	})
}

const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

func validListenAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	return host == "" || net.ParseIP(host) != nil || hostPattern.MatchString(host)
}

func crossValidate(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	switch cfg.Store.Driver {
	case DriverPostgres:
		if cfg.Store.URL == "" && cfg.Store.Server == "" {
			sl.ReportError(cfg.Store.URL, "URL", "URL", "postgres_target", "")
		}
	case DriverPebble:
		if cfg.Store.PebblePath == "" {
			sl.ReportError(cfg.Store.PebblePath, "PebblePath", "PebblePath", "pebble_path", "")
		}
	}

	if cfg.Metrics.Enabled {
		if _, port, err := net.SplitHostPort(cfg.Chat.WSAddr); err == nil && port == fmt.Sprint(cfg.Metrics.Port) {
			sl.ReportError(cfg.Metrics.Port, "Port", "Port", "port_conflict", "")
		}
	}

	if cfg.Chat.RateLimit.Enabled && cfg.Chat.RateLimit.MaxEventsPerSecond <= 0 {
		sl.ReportError(cfg.Chat.RateLimit.MaxEventsPerSecond, "MaxEventsPerSecond", "MaxEventsPerSecond", "gt", "0")
	}
	if rl := cfg.Chat.RateLimit; rl.BanThreshold > 0 && rl.BanDuration <= 0 {
		sl.ReportError(rl.BanDuration, "BanDuration", "BanDuration", "ban_duration", "")
	}
}

/* ------------------------------------------------------------------ *
|  Public API                                                         |
* -------------------------------------------------------------------*/

// SetVersion sets the version from build information.
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns cfg.
func Load(path string, log *zap.Logger) (*Config, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix) // CHATRELAY_CHAT_WS_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		log.Info("Loaded config file", zap.String("path", path))
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			log.Debug("No config.yaml found, using defaults")
		} else {
			log.Info("Loaded config.yaml from current directory")
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs field and cross-field validation.
func Validate(cfg *Config) error {
	if err := validate.Struct(*cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// InitLogger configures the process logger from cfg.
func InitLogger(cfg LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(cfg.Level),
		logger.WithFormat(cfg.Format),
		logger.WithFile(cfg.FilePath),
		logger.WithVersion(Version),
		logger.WithComponent("chatrelay"),
		logger.WithRotation(cfg.MaxSize, cfg.MaxBackups, cfg.MaxAge),
	)
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldErrorMessage(fe))
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	field, value, param := fe.Namespace(), fe.Value(), fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got: %v)", field, param, value)
	case "gtfield", "gtefield":
		return fmt.Sprintf("%s must not be smaller than %s (got: %v)", field, param, value)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got: %v)", field, param, value)
	case "wsaddr":
		return fmt.Sprintf("%s must be a listen address in format ':port' or 'host:port' (got: %v)", field, value)
	case "host":
		return fmt.Sprintf("%s must be a valid hostname or IP address (got: %v)", field, value)
	case "reasonable_duration":
		return fmt.Sprintf("%s must be between 1 second and 24 hours (got: %v)", field, value)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 100ms and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "store_driver":
		return fmt.Sprintf("%s must be either 'postgres' or 'pebble' (got: %v)", field, value)
	case "identity_field":
		return fmt.Sprintf("%s must be either 'email' or 'id' (got: %v)", field, value)
	case "postgres_target":
		return "store.url or store.server is required for the postgres driver"
	case "pebble_path":
		return "store.pebble_path is required for the pebble driver"
	case "ban_duration":
		return "chat.rate_limit.ban_duration is required when ban_threshold is set"
	case "port_conflict":
		return "metrics port conflicts with the chat listen port, they must be different"
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, fe.Tag(), value)
	}
}
