// Package storage implements the message store gateway on PostgreSQL (pgx)
// and on an embedded Pebble database.
package storage

import (
	"context"
	"fmt"

	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/domain"
	"go.uber.org/zap"
)

// Community is a chat group whose members receive community messages.
type Community struct {
	ID          string `json:"id"          yaml:"id"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Seeder loads reference data. Both backends implement it so local
// environments can be populated with the seed command.
type Seeder interface {
	UpsertUser(ctx context.Context, u domain.User) error
	UpsertCommunity(ctx context.Context, c Community) error
	AddCommunityMember(ctx context.Context, communityID, userID string) error
}

// Backend is a store that can also be seeded.
type Backend interface {
	domain.Store
	Seeder
}

var (
	_ Backend = (*Postgres)(nil)
	_ Backend = (*Pebble)(nil)
)

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, log)
	case config.DriverPebble:
		return OpenPebble(cfg.PebblePath, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// DefaultHistoryLimit applies when a history read passes a non-positive limit.
const DefaultHistoryLimit = 50
