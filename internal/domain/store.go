package domain

import "context"

// MessageStore is the narrow persistence gateway consumed by the fan-out core.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	// GetCommunityMembers returns an empty slice for unknown or empty communities.
	GetCommunityMembers(ctx context.Context, communityID string) ([]User, error)
	// GetUser returns (nil, nil) when the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)
}

// HistoryStore serves chronological history reads. Results are the newest
// limit messages, ordered oldest first.
type HistoryStore interface {
	ListCommunityMessages(ctx context.Context, communityID string, limit int) ([]MessageWithAuthor, error)
	ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]MessageWithAuthor, error)
}

// Store is the full gateway implemented by the storage backends.
type Store interface {
	MessageStore
	HistoryStore
	Ping(ctx context.Context) error
	Close() error
}
