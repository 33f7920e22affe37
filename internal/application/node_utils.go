package application

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/dispatch"
	"github.com/learnloop/chatrelay/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func (n *Node) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	n.metricsSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", n.config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		n.log.Info("Metrics server listening", zap.Int("port", n.config.Metrics.Port))
		if err := n.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Handler returns the chat HTTP handler, for embedding and tests.
func (n *Node) Handler() http.Handler {
	return n.server.Handler()
}

// Store returns the node's message store.
func (n *Node) Store() storage.Backend {
	return n.store
}

// Config returns the node's configuration.
func (n *Node) Config() *config.Config {
	return n.config
}

// Dispatcher returns the node's dispatcher.
func (n *Node) Dispatcher() *dispatch.Dispatcher {
	return n.dispatcher
}

// ConnectionCount returns the number of live connections.
func (n *Node) ConnectionCount() int {
	return n.manager.Count()
}

// StartTime returns when the node was started.
func (n *Node) StartTime() time.Time {
	return n.startTime
}
