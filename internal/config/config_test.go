package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Chat.WSAddr)
	assert.Equal(t, "userEmail", cfg.Chat.IdentityParam)
	assert.Equal(t, "email", cfg.Chat.IdentityField)
	assert.True(t, cfg.Chat.CloseSuperseded)
	assert.False(t, cfg.Chat.EchoDirectToSender)
	assert.Equal(t, 5*time.Second, cfg.Chat.PersistTimeout)
	assert.Equal(t, 50, cfg.Chat.History.DefaultLimit)
	assert.Equal(t, DriverPebble, cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 5*time.Minute, cfg.Chat.RateLimit.BanDuration)
	assert.Equal(t, 10, cfg.Chat.RateLimit.ConnectBurst)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
chat:
  ws_addr: "127.0.0.1:9000"
  identity_field: id
  persist_timeout: 2s
store:
  driver: postgres
  url: postgres://chat@localhost/chat
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Chat.WSAddr)
	assert.Equal(t, "id", cfg.Chat.IdentityField)
	assert.Equal(t, 2*time.Second, cfg.Chat.PersistTimeout)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	// untouched keys keep their defaults
	assert.Equal(t, 256, cfg.Chat.Connection.SendQueueSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHATRELAY_CHAT_CLOSE_SUPERSEDED", "false")
	t.Setenv("CHATRELAY_LOGGING_LEVEL", "debug")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.False(t, cfg.Chat.CloseSuperseded)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "chat:\n  not_a_key: 1\n")
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"bad listen address", "chat:\n  ws_addr: nope\n", "WSAddr"},
		{"bad log level", "logging:\n  level: loud\n", "Logging.Level"},
		{"bad identity field", "chat:\n  identity_field: phone\n", "email' or 'id'"},
		{"bad driver", "store:\n  driver: sqlite\n", "'postgres' or 'pebble'"},
		{"postgres without target", "store:\n  driver: postgres\n  server: \"\"\n", "store.url or store.server"},
		{"pebble without path", "store:\n  pebble_path: \"\"\n", "pebble_path is required"},
		{"port conflict", "chat:\n  ws_addr: \":9090\"\n", "port conflicts"},
		{"ban without duration", "chat:\n  rate_limit:\n    ban_duration: 0s\n", "ban_duration is required"},
		{"history limits inverted", "chat:\n  history:\n    default_limit: 100\n    max_limit: 10\n", "MaxLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
