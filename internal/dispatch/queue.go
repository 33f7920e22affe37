package dispatch

import (
	"context"

	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
	"github.com/learnloop/chatrelay/internal/workers"
	"go.uber.org/zap"
)

// Queue feeds events to a Dispatcher through an ordered worker pool keyed by
// conversation, so events of one community or one direct-message pair are
// persisted and fanned out strictly in submission order.
type Queue struct {
	d    *Dispatcher
	pool *workers.OrderedPool
	log  *zap.Logger
	// onResult observes every processed event; used by tests.
	onResult func(domain.InboundEvent, Result, error)
}

func NewQueue(d *Dispatcher, pool *workers.OrderedPool, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{d: d, pool: pool, log: log}
}

// OnResult registers a callback invoked after each event is handled.
func (q *Queue) OnResult(fn func(domain.InboundEvent, Result, error)) {
	q.onResult = fn
}

// Enqueue blocks until ev is accepted by its lane, ctx is done, or the pool stops.
func (q *Queue) Enqueue(ctx context.Context, ev domain.InboundEvent) error {
	return q.pool.Submit(ctx, ev.ConversationKey(), func(jobCtx context.Context) {
		res, err := q.d.HandleInbound(jobCtx, ev)
		switch {
		case err == nil:
			q.log.Debug("Message dispatched",
				zap.String("message_id", res.Message.ID),
				zap.String("type", string(ev.Type)),
				zap.Int("recipients", res.Recipients),
				zap.Int("delivered", len(res.Delivered)))
		case errors.IsType(err, errors.ErrorTypeMalformedEvent):
			q.log.Debug("Dropped malformed event", zap.Error(err))
		case errors.IsType(err, errors.ErrorTypePersistence):
			// already reported by the dispatcher
		default:
			q.log.Warn("Dispatch failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
		if q.onResult != nil {
			q.onResult(ev, res, err)
		}
	})
}
