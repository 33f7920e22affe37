package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/domain"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaDDL string

// DBState represents the current state of the database connection
type DBState int

const (
	DBStateInitial DBState = iota
	DBStateConnecting
	DBStateConnected
	DBStateClosed
)

var errNotConnected = errors.New("database is not connected")

// Postgres is the message store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	stateMu sync.RWMutex
	state   DBState
}

// ConnString builds the pgx connection string from cfg. URL wins when set.
func ConnString(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = "sslmode=" + cfg.SSLMode
	}
	return u.String()
}

// OpenPostgres connects with exponential backoff, then applies the schema.
func OpenPostgres(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database URI: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	p := &Postgres{log: log, state: DBStateConnecting}

	attempts := max(cfg.ConnectRetries, 1)
	backoff := time.Second
	for i := 1; ; i++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				p.pool = pool
				break
			}
			pool.Close()
		}
		if i >= attempts {
			p.setState(DBStateClosed)
			return nil, fmt.Errorf("connect to database after %d attempts: %w", i, err)
		}
		log.Warn("Failed to connect to DB, retrying...",
			zap.Error(err),
			zap.Int("attempt", i),
			zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	if _, err := p.pool.Exec(ctx, schemaDDL); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	p.setState(DBStateConnected)

	stat := p.pool.Stat()
	log.Info("DB connected",
		zap.Int32("max_conns", stat.MaxConns()),
		zap.Int32("total_conns", stat.TotalConns()))
	return p, nil
}

func (p *Postgres) setState(s DBState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

func (p *Postgres) connected() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state == DBStateConnected
}

func (p *Postgres) Ping(ctx context.Context) error {
	if !p.connected() {
		return errNotConnected
	}
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == DBStateClosed {
		return nil
	}
	p.state = DBStateClosed
	if p.pool != nil {
		p.pool.Close()
	}
	p.log.Debug("Database connection closed")
	return nil
}

/* ------------------------------------------------------------------ *
|  Message store                                                      |
* -------------------------------------------------------------------*/

const userColumns = `u.id, u.email, u.name, COALESCE(u.avatar, ''), COALESCE(u.title, ''),
	COALESCE(u.location, ''), COALESCE(u.bio, ''), u.skills, COALESCE(u.github, ''),
	COALESCE(u.linkedin, ''), u.created_at, u.updated_at`

func (p *Postgres) CreateMessage(ctx context.Context, in domain.NewMessage) (domain.Message, error) {
	if !p.connected() {
		return domain.Message{}, errNotConnected
	}
	if err := in.Validate(); err != nil {
		return domain.Message{}, err
	}
	msg := in.Build(uuid.NewString(), time.Time{})
	err := p.pool.QueryRow(ctx,
		`INSERT INTO messages (id, content, author_id, community_id, recipient_id, type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, msg.Content, msg.AuthorID, msg.CommunityID, msg.RecipientID, string(msg.Type),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) GetCommunityMembers(ctx context.Context, communityID string) ([]domain.User, error) {
	if !p.connected() {
		return nil, errNotConnected
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+userColumns+`
		 FROM community_members cm JOIN users u ON u.id = cm.user_id
		 WHERE cm.community_id = $1
		 ORDER BY cm.joined_at`, communityID)
	if err != nil {
		return nil, fmt.Errorf("query community members: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if !p.connected() {
		return nil, errNotConnected
	}
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) ListCommunityMessages(ctx context.Context, communityID string, limit int) ([]domain.MessageWithAuthor, error) {
	return p.listMessages(ctx,
		`type = 'community' AND community_id = $1`, communityID, limit)
}

func (p *Postgres) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]domain.MessageWithAuthor, error) {
	return p.listMessages(ctx,
		`type = 'direct' AND ((author_id = $1 AND recipient_id = $3) OR (author_id = $3 AND recipient_id = $1))`,
		userA, limit, userB)
}

// listMessages returns the newest limit rows matching where, oldest first.
// where uses $1 and may use $3; $2 is the limit.
func (p *Postgres) listMessages(ctx context.Context, where string, arg1 string, limit int, extra ...any) ([]domain.MessageWithAuthor, error) {
	if !p.connected() {
		return nil, errNotConnected
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	args := append([]any{arg1, limit}, extra...)
	rows, err := p.pool.Query(ctx,
		`SELECT m.id::text, m.content, m.author_id, m.community_id, m.recipient_id, m.type, m.created_at,
		        u.id IS NOT NULL, `+userColumnsNullable+`
		 FROM (
		     SELECT * FROM messages WHERE `+where+`
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) m
		 LEFT JOIN users u ON u.id = m.author_id
		 ORDER BY m.created_at ASC, m.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []domain.MessageWithAuthor{}
	for rows.Next() {
		var (
			m         domain.MessageWithAuthor
			msgType   string
			hasAuthor bool
			u         domain.User
		)
		err := rows.Scan(&m.ID, &m.Content, &m.AuthorID, &m.CommunityID, &m.RecipientID, &msgType, &m.CreatedAt,
			&hasAuthor, &u.ID, &u.Email, &u.Name, &u.Avatar, &u.Title, &u.Location, &u.Bio, &u.Skills,
			&u.GitHub, &u.LinkedIn, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = domain.MessageType(msgType)
		if hasAuthor {
			m.Author = &u
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// user columns for a LEFT JOIN, where every column may be NULL
const userColumnsNullable = `COALESCE(u.id, ''), COALESCE(u.email, ''), COALESCE(u.name, ''),
	COALESCE(u.avatar, ''), COALESCE(u.title, ''), COALESCE(u.location, ''), COALESCE(u.bio, ''),
	COALESCE(u.skills, '{}'), COALESCE(u.github, ''), COALESCE(u.linkedin, ''),
	COALESCE(u.created_at, 'epoch'::timestamptz), COALESCE(u.updated_at, 'epoch'::timestamptz)`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Title, &u.Location, &u.Bio, &u.Skills,
		&u.GitHub, &u.LinkedIn, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

/* ------------------------------------------------------------------ *
|  Seeding                                                            |
* -------------------------------------------------------------------*/

func (p *Postgres) UpsertUser(ctx context.Context, u domain.User) error {
	if !p.connected() {
		return errNotConnected
	}
	if u.Skills == nil {
		u.Skills = []string{}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, avatar, title, location, bio, skills, github, linkedin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     email = EXCLUDED.email, name = EXCLUDED.name, avatar = EXCLUDED.avatar,
		     title = EXCLUDED.title, location = EXCLUDED.location, bio = EXCLUDED.bio,
		     skills = EXCLUDED.skills, github = EXCLUDED.github, linkedin = EXCLUDED.linkedin,
		     updated_at = now()`,
		u.ID, u.Email, u.Name, u.Avatar, u.Title, u.Location, u.Bio, u.Skills, u.GitHub, u.LinkedIn)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (p *Postgres) UpsertCommunity(ctx context.Context, c Community) error {
	if !p.connected() {
		return errNotConnected
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO communities (id, name, description) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description`,
		c.ID, c.Name, c.Description)
	if err != nil {
		return fmt.Errorf("upsert community %s: %w", c.ID, err)
	}
	return nil
}

func (p *Postgres) AddCommunityMember(ctx context.Context, communityID, userID string) error {
	if !p.connected() {
		return errNotConnected
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO community_members (community_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, communityID, userID)
	if err != nil {
		return fmt.Errorf("add member %s to %s: %w", userID, communityID, err)
	}
	return nil
}
