package relay

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
	"github.com/learnloop/chatrelay/internal/limiter"
	"github.com/learnloop/chatrelay/internal/metrics"
	"github.com/learnloop/chatrelay/internal/web"
	"go.uber.org/zap"
)

const limiterCleanupInterval = time.Minute

// Server exposes the WebSocket endpoint, the history reads and /health.
type Server struct {
	cfg      config.ChatConfig
	manager  *Manager
	history  domain.HistoryStore
	health   http.Handler
	limiter  *limiter.RateLimiter
	errs     *errors.ErrorMiddleware
	upgrader websocket.Upgrader
	router   *mux.Router
	httpSrv  *http.Server
	log      *zap.Logger

	// ctx outlives individual requests; it is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the router. health may be nil.
func NewServer(cfg config.ChatConfig, manager *Manager, history domain.HistoryStore, health http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		manager: manager,
		history: history,
		health:  health,
		errs:    errors.NewErrorMiddleware(log.Named("http")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	rl := cfg.RateLimit
	if rl.Enabled && rl.ConnectsPerSecond > 0 {
		s.limiter = limiter.NewRateLimiter(limiter.Limit{
			PerSecond:    rl.ConnectsPerSecond,
			BurstSize:    rl.ConnectBurst,
			BanThreshold: rl.BanThreshold,
			BanDuration:  rl.BanDuration,
		}, log.Named("limiter"))
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument, s.errs.Recover)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(web.APIMiddleware(s.errs, web.APISecurityHeaders(), web.APIInputValidation()))
	api.Handle("/communities/{communityId}/messages", s.errs.Wrap(s.handleCommunityHistory)).Methods(http.MethodGet)
	api.Handle("/messages/{userId}/{otherUserId}", s.errs.Wrap(s.handleDirectHistory)).Methods(http.MethodGet)
	if s.health != nil {
		r.Handle("/health", s.health).Methods(http.MethodGet)
	}
	r.NotFoundHandler = s.errs.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return errors.NotFoundError("route")
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route).Inc()
		if route == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	reject := func(err error) {
		metrics.ConnectionsRejected.Inc()
		s.errs.HandleError(w, r, r.Header.Get("X-Request-ID"), err)
	}

	if max := s.cfg.Connection.MaxConnections; max > 0 {
		if n := s.manager.Count(); n >= max {
			reject(errors.ConnectionLimitError(n, max))
			return
		}
	}
	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		reject(errors.RateLimitError("websocket upgrades"))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		metrics.ConnectionsRejected.Inc()
		s.log.Debug("WebSocket upgrade failed", zap.Error(errors.WebSocketError("upgrade", err)))
		return
	}

	c, err := s.manager.Accept(ws, r.URL.Query().Get(s.cfg.IdentityParam))
	if err != nil {
		s.log.Debug("Connection refused", zap.Error(err))
		return
	}
	s.manager.Serve(s.ctx, c)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.limiter != nil {
		go s.cleanupLimiter()
	}

	s.log.Info("Chat server listening", zap.String("address", s.cfg.WSAddr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cleanupLimiter() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(10 * limiterCleanupInterval); n > 0 {
				s.log.Debug("Pruned idle rate limit entries", zap.Int("removed", n))
			}
		}
	}
}

// Shutdown stops accepting requests, then closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var httpErr error
	if s.httpSrv != nil {
		httpErr = s.httpSrv.Shutdown(ctx)
	}
	connErr := s.manager.Shutdown(ctx)
	s.cancel()
	return stderrors.Join(httpErr, connErr)
}
