package application

import (
	"context"
	"fmt"
	"net/http"

	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/dispatch"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/health"
	"github.com/learnloop/chatrelay/internal/logger"
	"github.com/learnloop/chatrelay/internal/registry"
	"github.com/learnloop/chatrelay/internal/relay"
	"github.com/learnloop/chatrelay/internal/storage"
	"github.com/learnloop/chatrelay/internal/workers"
	"go.uber.org/zap"
)

// NodeBuilder is used to incrementally construct a Node instance.
type NodeBuilder struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config

	store      storage.Backend
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	pool       *workers.OrderedPool
	queue      *dispatch.Queue
	manager    *relay.Manager
	server     *relay.Server
	health     *health.Checker
}

// NewNodeBuilder creates a new NodeBuilder with its own cancelable context.
func NewNodeBuilder(ctx context.Context, cfg *config.Config) *NodeBuilder {
	c, cancel := context.WithCancel(ctx)
	return &NodeBuilder{
		ctx:    c,
		cancel: cancel,
		config: cfg,
	}
}

// BuildStore opens the configured message store.
func (b *NodeBuilder) BuildStore() error {
	log := logger.New("storage")
	log.Info("Opening message store", zap.String("driver", b.config.Store.Driver))

	store, err := storage.Open(b.ctx, b.config.Store, log)
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed to open %s store: %w", b.config.Store.Driver, err)
	}
	b.store = store
	return nil
}

// UseStore injects an already opened store instead of calling BuildStore.
func (b *NodeBuilder) UseStore(store storage.Backend) {
	b.store = store
}

// BuildDispatch creates the registry, the dispatcher and its ordered pool.
func (b *NodeBuilder) BuildDispatch() {
	chat := b.config.Chat
	b.registry = registry.New()
	b.dispatcher = dispatch.New(b.store, b.registry, dispatch.Options{
		IdentityField:      domain.IdentityField(chat.IdentityField),
		StoreTimeout:       chat.PersistTimeout,
		EchoDirectToSender: chat.EchoDirectToSender,
		AlertThreshold:     chat.PersistenceAlertThreshold,
	}, logger.New("dispatch"))
	b.pool = workers.NewOrderedPool(chat.Dispatch.Workers, chat.Dispatch.QueueSize, logger.New("workers"))
	b.queue = dispatch.NewQueue(b.dispatcher, b.pool, logger.New("dispatch"))
}

// BuildTransport creates the connection manager, the health checker and the
// HTTP server.
func (b *NodeBuilder) BuildTransport() {
	chat := b.config.Chat
	conn := chat.Connection
	rl := chat.RateLimit

	b.manager = relay.NewManager(b.registry, b.queue, relay.ManagerOptions{
		IdentityField:   domain.IdentityField(chat.IdentityField),
		CloseSuperseded: chat.CloseSuperseded,
		Conn: relay.ConnOptions{
			WriteTimeout:     conn.WriteTimeout,
			PingInterval:     conn.PingInterval,
			PongWait:         conn.PongWait,
			IdleTimeout:      conn.IdleTimeout,
			SendQueueSize:    conn.SendQueueSize,
			MaxFrameBytes:    conn.MaxFrameBytes,
			RateLimitEnabled: rl.Enabled,
			EventsPerSecond:  rl.MaxEventsPerSecond,
			Burst:            rl.BurstSize,
			MaxViolations:    rl.MaxViolations,
		},
	}, logger.New("connections"))

	b.health = health.NewChecker(b.store, b.registry, b.dispatcher, health.Limits{
		MaxConnections:            conn.MaxConnections,
		PersistenceAlertThreshold: chat.PersistenceAlertThreshold,
	}, logger.New("health"), config.Version)

	b.server = relay.NewServer(chat, b.manager, b.store, http.HandlerFunc(b.health.HandleHealth), logger.New("server"))
}

// Build assembles the Node from the built components.
func (b *NodeBuilder) Build() (*Node, error) {
	switch {
	case b.store == nil:
		return nil, fmt.Errorf("store not built")
	case b.dispatcher == nil:
		return nil, fmt.Errorf("dispatcher not built")
	case b.server == nil:
		return nil, fmt.Errorf("transport not built")
	}

	return &Node{
		ctx:        b.ctx,
		cancel:     b.cancel,
		config:     b.config,
		store:      b.store,
		registry:   b.registry,
		dispatcher: b.dispatcher,
		pool:       b.pool,
		queue:      b.queue,
		manager:    b.manager,
		server:     b.server,
		health:     b.health,
		log:        logger.New("node"),
	}, nil
}
