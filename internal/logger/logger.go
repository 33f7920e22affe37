package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

/* ------------------------------------------------------------------ *
|  1. Options                                                         |
* -------------------------------------------------------------------*/

type Config struct {
	Level      string
	FilePath   string
	Format     string
	Version    string
	Component  string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type Option func(*Config)

func WithLevel(lvl string) Option      { return func(c *Config) { c.Level = lvl } }
func WithFormat(f string) Option       { return func(c *Config) { c.Format = f } }
func WithFile(path string) Option      { return func(c *Config) { c.FilePath = path } }
func WithVersion(v string) Option      { return func(c *Config) { c.Version = v } }
func WithComponent(comp string) Option { return func(c *Config) { c.Component = comp } }
func WithRotation(size, backups, age int) Option {
	return func(c *Config) {
		c.MaxSize, c.MaxBackups, c.MaxAge = size, backups, age
	}
}

/* ------------------------------------------------------------------ *
|  2. Package state                                                   |
* -------------------------------------------------------------------*/

var (
	root   *zap.Logger
	toFile bool

	mu sync.RWMutex
)

/* ------------------------------------------------------------------ *
|  3. Init / Sync                                                     |
* -------------------------------------------------------------------*/

// Init builds the process logger. A second call replaces the previous core.
func Init(opts ...Option) error {
	cfg := &Config{
		Level:      "info",
		Format:     "console",
		Component:  "chatrelay",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
	for _, apply := range opts {
		apply(cfg)
	}

	enc, err := encoderFor(cfg.Format)
	if err != nil {
		return err
	}
	ws, isFile, err := writerFor(cfg)
	if err != nil {
		return err
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	l := zap.New(zapcore.NewCore(enc, ws, lvl),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("version", cfg.Version),
			zap.String("service", cfg.Component),
		),
	)

	mu.Lock()
	defer mu.Unlock()
	if root != nil && toFile {
		_ = root.Sync()
	}
	root, toFile = l, isFile
	return nil
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return nil
	}
	if err := root.Sync(); err != nil && toFile {
		return err
	}
	return nil
}

func encoderFor(format string) (zapcore.Encoder, error) {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	case "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func writerFor(cfg *Config) (zapcore.WriteSyncer, bool, error) {
	if cfg.FilePath == "" {
		return zapcore.AddSync(os.Stdout), false, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, false, fmt.Errorf("create log dir: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}), true, nil
}

/* ------------------------------------------------------------------ *
|  4. Child loggers                                                   |
* -------------------------------------------------------------------*/

// L returns the process logger, or a no-op logger before Init.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return zap.NewNop()
	}
	return root
}

// New returns a component-scoped child logger.
func New(component string) *zap.Logger {
	return L().With(zap.String("component", component))
}

// ForConnection scopes a logger to one client connection.
func ForConnection(base *zap.Logger, connID, identity string) *zap.Logger {
	fields := []zap.Field{zap.String("conn_id", connID)}
	if identity != "" {
		fields = append(fields, zap.String("identity", identity))
	}
	return base.With(fields...)
}
