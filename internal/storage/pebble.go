package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/learnloop/chatrelay/internal/domain"
	"go.uber.org/zap"
)

// Key layout. Message keys sort by creation time within a conversation:
//
//	user/<id>                                   → User JSON
//	community/<id>                              → Community JSON
//	member/<community>/<user>                   → empty
//	msg/c/<community>/<unixnano:20>             → Message JSON
//	msg/d/<lo>/<hi>/<unixnano:20>               → Message JSON, lo < hi
const sep = "/"

// Pebble is the embedded message store.
type Pebble struct {
	db  *pebble.DB
	log *zap.Logger

	// serializes CreateMessage so keys are strictly increasing per conversation
	writeMu sync.Mutex
	lastTS  int64

	closed atomic.Bool
}

var errClosed = errors.New("pebble store is closed")

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string, log *zap.Logger) (*Pebble, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	log.Info("Pebble store opened", zap.String("path", path))
	return &Pebble{db: db, log: log}, nil
}

func (p *Pebble) Ping(context.Context) error {
	if p.closed.Load() {
		return errClosed
	}
	return nil
}

func (p *Pebble) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

// esc encodes one key component so it can never contain sep.
func esc(id string) string { return url.PathEscape(id) }

func userKey(id string) []byte      { return []byte("user" + sep + esc(id)) }
func communityKey(id string) []byte { return []byte("community" + sep + esc(id)) }

func memberPrefix(communityID string) []byte {
	return []byte("member" + sep + esc(communityID) + sep)
}

func conversationPrefix(msg domain.Message) []byte {
	if msg.Type == domain.MessageTypeCommunity {
		return communityMessagePrefix(*msg.CommunityID)
	}
	return directMessagePrefix(msg.AuthorID, *msg.RecipientID)
}

func communityMessagePrefix(communityID string) []byte {
	return []byte("msg" + sep + "c" + sep + esc(communityID) + sep)
}

func directMessagePrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("msg" + sep + "d" + sep + esc(a) + sep + esc(b) + sep)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *Pebble) CreateMessage(ctx context.Context, in domain.NewMessage) (domain.Message, error) {
	if p.closed.Load() {
		return domain.Message{}, errClosed
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Message{}, err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	now := time.Now().UTC()
	ts := now.UnixNano()
	if ts <= p.lastTS {
		ts = p.lastTS + 1
		now = time.Unix(0, ts).UTC()
	}
	p.lastTS = ts

	msg := in.Build(uuid.NewString(), now)
	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	key := fmt.Appendf(conversationPrefix(msg), "%020d", ts)
	if err := p.db.Set(key, data, pebble.Sync); err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

func (p *Pebble) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if p.closed.Load() {
		return nil, errClosed
	}
	var u domain.User
	found, err := p.getJSON(userKey(id), &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

func (p *Pebble) GetCommunityMembers(ctx context.Context, communityID string) ([]domain.User, error) {
	if p.closed.Load() {
		return nil, errClosed
	}
	prefix := memberPrefix(communityID)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	users := []domain.User{}
	for iter.First(); iter.Valid(); iter.Next() {
		userID, err := url.PathUnescape(string(bytes.TrimPrefix(iter.Key(), prefix)))
		if err != nil {
			return nil, fmt.Errorf("decode member key %s: %w", iter.Key(), err)
		}
		u, err := p.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			p.log.Debug("Dangling community member", zap.String("community_id", communityID), zap.String("user_id", userID))
			continue
		}
		users = append(users, *u)
	}
	return users, iter.Error()
}

func (p *Pebble) ListCommunityMessages(ctx context.Context, communityID string, limit int) ([]domain.MessageWithAuthor, error) {
	return p.listNewest(ctx, communityMessagePrefix(communityID), limit)
}

func (p *Pebble) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]domain.MessageWithAuthor, error) {
	return p.listNewest(ctx, directMessagePrefix(userA, userB), limit)
}

// listNewest walks the conversation backwards and returns the newest limit
// messages in ascending order, each enriched with its author.
func (p *Pebble) listNewest(ctx context.Context, prefix []byte, limit int) ([]domain.MessageWithAuthor, error) {
	if p.closed.Load() {
		return nil, errClosed
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	authors := make(map[string]*domain.User)
	out := []domain.MessageWithAuthor{}
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var m domain.MessageWithAuthor
		if err := json.Unmarshal(iter.Value(), &m.Message); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", iter.Key(), err)
		}
		author, ok := authors[m.AuthorID]
		if !ok {
			if author, err = p.GetUser(ctx, m.AuthorID); err != nil {
				return nil, err
			}
			authors[m.AuthorID] = author
		}
		m.Author = author
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (p *Pebble) getJSON(key []byte, v any) (bool, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (p *Pebble) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Set(key, data, pebble.Sync)
}

/* ------------------------------------------------------------------ *
|  Seeding                                                            |
* -------------------------------------------------------------------*/

func (p *Pebble) UpsertUser(_ context.Context, u domain.User) error {
	if p.closed.Load() {
		return errClosed
	}
	now := time.Now().UTC()
	var existing domain.User
	found, err := p.getJSON(userKey(u.ID), &existing)
	if err != nil {
		return err
	}
	u.CreatedAt, u.UpdatedAt = now, now
	if found {
		u.CreatedAt = existing.CreatedAt
	}
	if u.Skills == nil {
		u.Skills = []string{}
	}
	return p.putJSON(userKey(u.ID), u)
}

func (p *Pebble) UpsertCommunity(_ context.Context, c Community) error {
	if p.closed.Load() {
		return errClosed
	}
	return p.putJSON(communityKey(c.ID), c)
}

func (p *Pebble) AddCommunityMember(_ context.Context, communityID, userID string) error {
	if p.closed.Load() {
		return errClosed
	}
	return p.db.Set(append(memberPrefix(communityID), esc(userID)...), nil, pebble.Sync)
}
