package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookedRegistry runs beforeRegister ahead of every Register call.
type hookedRegistry struct {
	*registry.Registry
	beforeRegister func()
}

func (r *hookedRegistry) Register(id domain.Identity, conn domain.Connection) domain.Connection {
	if r.beforeRegister != nil {
		r.beforeRegister()
	}
	return r.Registry.Register(id, conn)
}

type acceptResult struct {
	conn *WsConn
	err  error
}

// acceptOne upgrades a single client through m.Accept and returns its result.
func acceptOne(t *testing.T, m *Manager, identity string) acceptResult {
	t.Helper()
	results := make(chan acceptResult, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			results <- acceptResult{err: err}
			return
		}
		c, err := m.Accept(ws, identity)
		results <- acceptResult{conn: c, err: err}
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case res := <-results:
		return res
	case <-time.After(waitFor):
		t.Fatal("accept did not return")
		return acceptResult{}
	}
}

func testManagerOptions() ManagerOptions {
	return ManagerOptions{
		IdentityField:   domain.IdentityByEmail,
		CloseSuperseded: true,
		Conn: ConnOptions{
			WriteTimeout:  time.Second,
			PingInterval:  time.Minute,
			PongWait:      time.Minute,
			SendQueueSize: 4,
			MaxFrameBytes: 1 << 16,
		},
	}
}

func TestAcceptRegistersIdentifiedConnection(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, nil, testManagerOptions(), nil)

	res := acceptOne(t, m, "Alice@Example.com")
	require.NoError(t, res.err)
	require.NotNil(t, res.conn)
	t.Cleanup(func() { res.conn.Close(ReasonShutdown) })

	got, ok := reg.Lookup("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, res.conn.ID(), got.ID())
	assert.Equal(t, 1, m.Count())
}

func TestAcceptAfterShutdownIsRefused(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, nil, testManagerOptions(), nil)
	require.NoError(t, m.Shutdown(context.Background()))

	res := acceptOne(t, m, "alice@example.com")
	assert.ErrorIs(t, res.err, ErrShuttingDown)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, m.Count())
}

func TestShutdownDuringRegistrationLeavesNoEntry(t *testing.T) {
	reg := &hookedRegistry{Registry: registry.New()}
	m := NewManager(reg, nil, testManagerOptions(), nil)
	reg.beforeRegister = func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
	}

	res := acceptOne(t, m, "alice@example.com")
	assert.ErrorIs(t, res.err, ErrShuttingDown)
	assert.Nil(t, res.conn)

	_, ok := reg.Lookup("alice@example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, m.Count())
}
