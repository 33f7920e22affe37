package relay

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
	"github.com/learnloop/chatrelay/internal/logger"
	"github.com/learnloop/chatrelay/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Close reasons, also used as metric labels.
const (
	ReasonPeer         = "peer"
	ReasonReadError    = "read_error"
	ReasonWriteFailure = "write_failure"
	ReasonPingFailed   = "ping_failed"
	ReasonIdle         = "idle"
	ReasonRateLimit    = "rate_limit"
	ReasonSuperseded   = "superseded"
	ReasonShutdown     = "shutdown"
)

var (
	ErrNotReady  = stderrors.New("connection is not open")
	ErrQueueFull = stderrors.New("send queue is full")
)

// ConnOptions bounds one connection.
type ConnOptions struct {
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PongWait      time.Duration
	IdleTimeout   time.Duration
	SendQueueSize int
	MaxFrameBytes int64

	RateLimitEnabled bool
	EventsPerSecond  float64
	Burst            int
	MaxViolations    int
}

// EventSink accepts decoded events for dispatch. Enqueue may block.
type EventSink interface {
	Enqueue(ctx context.Context, ev domain.InboundEvent) error
}

// WsConn is a WebSocket client connection. Pushes are queued and written by
// a dedicated writer goroutine, so Push never blocks on the network.
type WsConn struct {
	id       string
	identity domain.Identity
	ws       *websocket.Conn
	opts     ConnOptions
	log      *zap.Logger

	state        atomic.Int32
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	closeReason  string
	onClose      func(c *WsConn, reason string)
	lastActivity atomic.Int64
	startTime    time.Time

	limiter    *rate.Limiter
	violations int
}

var _ domain.Connection = (*WsConn)(nil)

func newWsConn(ws *websocket.Conn, identity domain.Identity, opts ConnOptions, log *zap.Logger) *WsConn {
	c := &WsConn{
		id:        uuid.NewString(),
		identity:  identity,
		ws:        ws,
		opts:      opts,
		send:      make(chan []byte, max(opts.SendQueueSize, 1)),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	c.log = logger.ForConnection(log, c.id, string(identity))
	if opts.RateLimitEnabled {
		c.limiter = rate.NewLimiter(rate.Limit(opts.EventsPerSecond), max(opts.Burst, 1))
	}
	c.touch()
	return c
}

func (c *WsConn) ID() string                { return c.id }
func (c *WsConn) Identity() domain.Identity { return c.identity }
func (c *WsConn) State() ConnState          { return ConnState(c.state.Load()) }
func (c *WsConn) Ready() bool               { return c.State() == StateOpen }

// Done is closed once the connection reaches StateClosed.
func (c *WsConn) Done() <-chan struct{} { return c.done }

// CloseReason is valid after Done is closed.
func (c *WsConn) CloseReason() string {
	<-c.done
	return c.closeReason
}

func (c *WsConn) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Push queues payload for the writer goroutine without blocking.
func (c *WsConn) Push(payload []byte) error {
	if !c.Ready() {
		return ErrNotReady
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrNotReady
	default:
		return ErrQueueFull
	}
}

// open moves Connecting → Open and starts the writer.
func (c *WsConn) open() bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return false
	}
	metrics.IncrementActiveConnections()
	go c.writeLoop()
	return true
}

// Close moves the connection to Closed exactly once, whatever the number of
// close signals.
func (c *WsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		wasOpen := ConnState(c.state.Swap(int32(StateClosed))) == StateOpen
		c.closeReason = reason
		close(c.done)

		code := websocket.CloseNormalClosure
		switch reason {
		case ReasonShutdown:
			code = websocket.CloseGoingAway
		case ReasonRateLimit:
			code = websocket.ClosePolicyViolation
		case ReasonWriteFailure:
			code = websocket.CloseTryAgainLater
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		_ = c.ws.Close()

		if wasOpen {
			metrics.DecrementActiveConnections(reason)
		}
		c.log.Debug("WebSocket connection closed",
			zap.String("reason", reason),
			zap.Duration("connection_duration", time.Since(c.startTime)))

		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}

func (c *WsConn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				metrics.Pushes.WithLabelValues(metrics.PushFailed).Inc()
				c.log.Debug("Write failed", zap.Error(errors.ConnectionWriteFailure(c.id, err)))
				c.Close(ReasonWriteFailure)
				return
			}
		case <-ticker.C:
			if c.opts.IdleTimeout > 0 && time.Since(time.Unix(0, c.lastActivity.Load())) > c.opts.IdleTimeout {
				c.Close(ReasonIdle)
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.log.Debug("Failed to send ping, closing connection", zap.Error(err))
				c.Close(ReasonPingFailed)
				return
			}
		}
	}
}

// readLoop decodes frames and hands them to sink until the connection closes.
// Malformed frames are dropped; the connection stays open.
func (c *WsConn) readLoop(ctx context.Context, sink EventSink) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Recovered from panic in read loop", zap.Any("panic", r))
		}
		c.Close(ReasonReadError)
	}()

	if c.opts.MaxFrameBytes > 0 {
		c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			reason := ReasonReadError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				reason = ReasonPeer
			} else if c.State() != StateClosed {
				c.log.Debug("WS read error, disconnecting client", zap.Error(errors.WebSocketError("read", err)))
			}
			c.Close(reason)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.touch()
		metrics.FrameSizeBytes.Observe(float64(len(raw)))

		if !c.allow() {
			continue
		}
		if c.State() == StateClosed {
			return
		}

		ev, err := DecodeInbound(raw)
		if err != nil {
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
			metrics.MalformedFrames.Inc()
			c.log.Debug("Dropped malformed frame", zap.Error(err))
			continue
		}
		metrics.FramesReceived.WithLabelValues(string(ev.Type)).Inc()

		if err := sink.Enqueue(ctx, ev); err != nil {
			c.log.Debug("Dispatch queue unavailable", zap.Error(err))
			c.Close(ReasonShutdown)
			return
		}
	}
}

// allow applies the inbound rate limit. After MaxViolations consecutive
// rejected frames the connection is closed.
func (c *WsConn) allow() bool {
	if c.limiter == nil || c.limiter.Allow() {
		c.violations = 0
		return true
	}
	c.violations++
	metrics.RateLimitedFrames.Inc()
	if c.opts.MaxViolations > 0 && c.violations >= c.opts.MaxViolations {
		c.log.Info("Closing connection after repeated rate limit violations",
			zap.Int("violations", c.violations),
			zap.Error(errors.RateLimitError("inbound frames")))
		c.Close(ReasonRateLimit)
	}
	return false
}
