package relay

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/learnloop/chatrelay/internal/domain"
	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Accept once Shutdown has started.
var ErrShuttingDown = stderrors.New("connection manager is shutting down")

// Manager owns every live connection. It binds identified connections to
// the registry on open and releases them on close.
type Manager struct {
	registry        domain.ConnectionRegistry
	field           domain.IdentityField
	closeSuperseded bool
	opts            ConnOptions
	sink            EventSink
	log             *zap.Logger

	mu      sync.Mutex
	conns   map[*WsConn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	IdentityField   domain.IdentityField
	CloseSuperseded bool
	Conn            ConnOptions
}

func NewManager(registry domain.ConnectionRegistry, sink EventSink, opts ManagerOptions, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		registry:        registry,
		field:           opts.IdentityField,
		closeSuperseded: opts.CloseSuperseded,
		opts:            opts.Conn,
		sink:            sink,
		log:             log,
		conns:           make(map[*WsConn]struct{}),
	}
}

// Accept wraps an upgraded socket and opens it. A blank identity yields an
// observation-only connection that can send but is never pushed to.
func (m *Manager) Accept(ws *websocket.Conn, rawIdentity string) (*WsConn, error) {
	identity := domain.NormalizeIdentity(m.field, rawIdentity)
	c := newWsConn(ws, identity, m.opts, m.log)
	c.onClose = m.release

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = ws.Close()
		return nil, ErrShuttingDown
	}
	m.conns[c] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	c.open()

	if identity == "" {
		c.log.Debug("Observation-only connection opened")
		return c, nil
	}

	if prev := m.registry.Register(identity, c); prev != nil && prev != domain.Connection(c) {
		if m.closeSuperseded {
			prev.Close(ReasonSuperseded)
		}
		c.log.Info("Connection superseded previous one",
			zap.String("previous_conn_id", prev.ID()),
			zap.Bool("previous_closed", m.closeSuperseded))
	} else {
		c.log.Debug("Connection registered")
	}
	// A Shutdown racing the registration has already released c.
	if !c.Ready() {
		m.registry.Unregister(identity, c)
		return nil, ErrShuttingDown
	}
	return c, nil
}

// Serve runs the read loop of c until it closes.
func (m *Manager) Serve(ctx context.Context, c *WsConn) {
	c.readLoop(ctx, m.sink)
}

func (m *Manager) release(c *WsConn, reason string) {
	if c.identity != "" {
		m.registry.Unregister(c.identity, c)
	}
	m.mu.Lock()
	if _, ok := m.conns[c]; ok {
		delete(m.conns, c)
		m.wg.Done()
	}
	m.mu.Unlock()
}

// Count returns the number of live connections, observation-only included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown stops accepting connections, closes the live ones and waits for
// them to be released or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*WsConn, 0, len(m.conns))
	for c := range m.conns {
		live = append(live, c)
	}
	m.mu.Unlock()

	m.log.Info("Closing client connections", zap.Int("count", len(live)))
	for _, c := range live {
		c.Close(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
