// Package dispatch persists inbound chat events and fans them out to the
// live connections of their recipients.
package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
	"github.com/learnloop/chatrelay/internal/metrics"
	"go.uber.org/zap"
)

// Options tunes a Dispatcher.
type Options struct {
	IdentityField domain.IdentityField
	// StoreTimeout bounds every store call made for one event.
	StoreTimeout time.Duration
	// EchoDirectToSender also pushes a direct message to its author.
	EchoDirectToSender bool
	// AlertThreshold is the failure streak at which persistence errors are
	// logged at error level.
	AlertThreshold int
}

func (o *Options) setDefaults() {
	if o.IdentityField == "" {
		o.IdentityField = domain.IdentityByEmail
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.AlertThreshold <= 0 {
		o.AlertThreshold = 5
	}
}

// Result describes one dispatched event.
type Result struct {
	Message    domain.MessageWithAuthor
	Recipients int
	Delivered  []domain.Identity
}

// Dispatcher implements the persist → resolve → enrich → push pipeline.
// It is safe for concurrent use; ordering is the caller's concern.
type Dispatcher struct {
	store    domain.MessageStore
	registry domain.ConnectionRegistry
	opts     Options
	log      *zap.Logger

	failStreak atomic.Int64
}

func New(store domain.MessageStore, registry domain.ConnectionRegistry, opts Options, log *zap.Logger) *Dispatcher {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, registry: registry, opts: opts, log: log}
}

// HandleInbound persists ev and pushes it to every online recipient.
// Invalid events return a malformed_event error without touching the store.
// A failed write returns a persistence error and pushes nothing. Failures
// to push to one connection close that connection and never abort the rest
// of the fan-out.
func (d *Dispatcher) HandleInbound(ctx context.Context, ev domain.InboundEvent) (Result, error) {
	input := ev.NewMessage()
	if err := input.Validate(); err != nil {
		metrics.MalformedFrames.Inc()
		return Result{}, errors.MalformedEvent(err.Error(), err)
	}

	msg, err := d.persist(ctx, input)
	if err != nil {
		return Result{}, err
	}

	recipients, err := d.recipients(ctx, ev)
	if err != nil {
		// the message is stored; history reads will still return it
		d.log.Warn("Failed to resolve recipients",
			zap.String("message_id", msg.ID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return Result{Message: domain.MessageWithAuthor{Message: msg}}, errors.DatabaseError("resolve recipients", err)
	}

	author := d.author(ctx, msg.AuthorID)
	if ev.Type == domain.EventDirectMessage && d.opts.EchoDirectToSender && author != nil {
		recipients = append(recipients, *author)
	}

	res := Result{
		Message:    domain.MessageWithAuthor{Message: msg, Author: author},
		Recipients: len(recipients),
	}
	metrics.FanoutRecipients.Observe(float64(len(recipients)))

	payload, err := json.Marshal(domain.OutboundEnvelope{Type: ev.Type, Message: res.Message})
	if err != nil {
		return res, errors.InternalError("encode envelope", err)
	}
	res.Delivered = d.fanOut(payload, recipients)
	return res, nil
}

func (d *Dispatcher) persist(ctx context.Context, input domain.NewMessage) (domain.Message, error) {
	pctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	msg, err := d.store.CreateMessage(pctx, input)
	took := time.Since(start)
	if err != nil {
		streak := d.failStreak.Add(1)
		metrics.RecordPersistenceFailure(streak, took)

		fields := []zap.Field{
			zap.String("type", string(input.Type)),
			zap.String("author_id", input.AuthorID),
			zap.Int64("failure_streak", streak),
			zap.Duration("took", took),
			zap.Error(err),
		}
		if streak >= int64(d.opts.AlertThreshold) {
			d.log.Error("Message store failing repeatedly, dropping events", fields...)
		} else {
			d.log.Warn("Failed to persist message, event dropped", fields...)
		}
		return domain.Message{}, errors.PersistenceError("create message", err)
	}

	d.failStreak.Store(0)
	metrics.RecordPersisted(string(msg.Type), took)
	return msg, nil
}

// FailureStreak returns the current run of consecutive persistence failures.
func (d *Dispatcher) FailureStreak() int64 {
	return d.failStreak.Load()
}

func (d *Dispatcher) recipients(ctx context.Context, ev domain.InboundEvent) ([]domain.User, error) {
	rctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	if ev.Type == domain.EventCommunityMessage {
		return d.store.GetCommunityMembers(rctx, ev.CommunityID)
	}
	u, err := d.store.GetUser(rctx, ev.RecipientID)
	if err != nil || u == nil {
		return nil, err
	}
	return []domain.User{*u}, nil
}

// author is best effort: a missing profile only drops the enrichment.
func (d *Dispatcher) author(ctx context.Context, id string) *domain.User {
	actx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	u, err := d.store.GetUser(actx, id)
	if err != nil {
		d.log.Debug("Author lookup failed, pushing without profile",
			zap.String("author_id", id), zap.Error(err))
		return nil
	}
	return u
}

func (d *Dispatcher) fanOut(payload []byte, recipients []domain.User) []domain.Identity {
	seen := make(map[domain.Identity]struct{}, len(recipients))
	var delivered []domain.Identity

	for _, u := range recipients {
		id := domain.IdentityOf(d.opts.IdentityField, u)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		conn, ok := d.registry.Lookup(id)
		if !ok || !conn.Ready() {
			continue // offline
		}
		if err := conn.Push(payload); err != nil {
			metrics.Pushes.WithLabelValues(metrics.PushFailed).Inc()
			werr := errors.ConnectionWriteFailure(conn.ID(), err)
			d.log.Debug("Push failed, closing connection",
				zap.String("identity", string(id)),
				zap.String("conn_id", conn.ID()),
				zap.Error(werr))
			conn.Close(CloseReasonWriteFailure)
			continue
		}
		metrics.Pushes.WithLabelValues(metrics.PushDelivered).Inc()
		delivered = append(delivered, id)
	}
	return delivered
}

// CloseReasonWriteFailure is passed to Connection.Close after a failed push.
const CloseReasonWriteFailure = "write_failure"
