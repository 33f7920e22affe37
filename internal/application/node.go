package application

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/dispatch"
	"github.com/learnloop/chatrelay/internal/health"
	"github.com/learnloop/chatrelay/internal/registry"
	"github.com/learnloop/chatrelay/internal/relay"
	"github.com/learnloop/chatrelay/internal/storage"
	"github.com/learnloop/chatrelay/internal/workers"
	"go.uber.org/zap"
)

// Node ties together the components of a running chat relay.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	config     *config.Config
	store      storage.Backend
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	pool       *workers.OrderedPool
	queue      *dispatch.Queue
	manager    *relay.Manager
	server     *relay.Server
	health     *health.Checker
	metricsSrv *http.Server

	log       *zap.Logger
	startTime time.Time
}

// New creates and configures a Node using the NodeBuilder pattern.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	builder := NewNodeBuilder(ctx, cfg)

	if err := builder.BuildStore(); err != nil {
		return nil, fmt.Errorf("failed building store: %w", err)
	}
	builder.BuildDispatch()
	builder.BuildTransport()

	node, err := builder.Build()
	if err != nil {
		_ = builder.store.Close()
		builder.cancel()
		return nil, fmt.Errorf("failed to build node: %w", err)
	}
	return node, nil
}

// Start launches the metrics endpoint and the chat server. It returns once
// both are listening in the background; Done is closed if either fails.
func (n *Node) Start(ctx context.Context) error {
	n.startTime = time.Now()

	if n.config.Metrics.Enabled {
		n.startMetricsServer()
	}

	go func() {
		if err := n.server.Start(); err != nil {
			n.log.Error("Chat server stopped", zap.Error(err))
			n.cancel()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-n.ctx.Done():
		}
		n.cancel()
	}()

	n.log.Info("Node started",
		zap.String("ws_addr", n.config.Chat.WSAddr),
		zap.String("store", n.config.Store.Driver),
		zap.Bool("metrics", n.config.Metrics.Enabled))
	return nil
}

// Done is closed when the node stops on its own or its parent context ends.
func (n *Node) Done() <-chan struct{} {
	return n.ctx.Done()
}

// Shutdown stops the node in dependency order: transport, dispatch, metrics,
// store. It never blocks longer than the configured shutdown timeout.
func (n *Node) Shutdown() {
	n.log.Info("Initiating graceful shutdown...")
	shutdownTimeout := n.config.General.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErrors []error

	// Step 1: stop accepting upgrades and close live connections
	if err := n.server.Shutdown(shutdownCtx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("server: %w", err))
	}

	// Step 2: drain the dispatch lanes so accepted messages are persisted
	if err := n.pool.Stop(shutdownCtx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("dispatch pool: %w", err))
	}

	// Step 3: metrics endpoint
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server: %w", err))
		}
	}

	n.cancel()

	// Step 4: store
	if err := n.store.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("store: %w", err))
	}

	if len(shutdownErrors) > 0 {
		n.log.Warn("Node shutdown completed with errors",
			zap.Int("error_count", len(shutdownErrors)),
			zap.Errors("errors", shutdownErrors),
			zap.Duration("shutdown_timeout", shutdownTimeout))
		return
	}
	n.log.Info("Node shutdown completed",
		zap.Duration("uptime", time.Since(n.startTime)))
}
