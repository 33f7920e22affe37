package domain

import (
	"errors"
	"strings"
	"time"
)

// MessageType distinguishes community chat from direct messages.
type MessageType string

const (
	MessageTypeCommunity MessageType = "community"
	MessageTypeDirect    MessageType = "direct"
)

// Message is a persisted chat message. It is immutable once stored.
type Message struct {
	ID          string      `json:"id"`
	Content     string      `json:"content"`
	AuthorID    string      `json:"authorId"`
	CommunityID *string     `json:"communityId"`
	RecipientID *string     `json:"recipientId"`
	Type        MessageType `json:"type"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewMessage is the input of MessageStore.CreateMessage.
type NewMessage struct {
	Content     string
	AuthorID    string
	CommunityID string
	RecipientID string
	Type        MessageType
}

var (
	ErrEmptyContent       = errors.New("content must not be empty")
	ErrMissingAuthor      = errors.New("author id is required")
	ErrInvalidTarget      = errors.New("exactly one of community id or recipient id must be set")
	ErrUnknownMessageKind = errors.New("unknown message type")
)

// Validate checks the community/recipient exclusivity invariant.
func (m NewMessage) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.AuthorID == "" {
		return ErrMissingAuthor
	}
	switch m.Type {
	case MessageTypeCommunity:
		if m.CommunityID == "" || m.RecipientID != "" {
			return ErrInvalidTarget
		}
	case MessageTypeDirect:
		if m.RecipientID == "" || m.CommunityID != "" {
			return ErrInvalidTarget
		}
	default:
		return ErrUnknownMessageKind
	}
	return nil
}

// Build materializes a stored Message from the input, an id and a timestamp.
func (m NewMessage) Build(id string, createdAt time.Time) Message {
	msg := Message{
		ID:        id,
		Content:   m.Content,
		AuthorID:  m.AuthorID,
		Type:      m.Type,
		CreatedAt: createdAt,
	}
	if m.CommunityID != "" {
		c := m.CommunityID
		msg.CommunityID = &c
	}
	if m.RecipientID != "" {
		r := m.RecipientID
		msg.RecipientID = &r
	}
	return msg
}

// User is the public profile of a member of the platform.
type User struct {
	ID        string    `json:"id"        yaml:"id"`
	Email     string    `json:"email"     yaml:"email"`
	Name      string    `json:"name"      yaml:"name"`
	Avatar    string    `json:"avatar,omitempty"   yaml:"avatar"`
	Title     string    `json:"title,omitempty"    yaml:"title"`
	Location  string    `json:"location,omitempty" yaml:"location"`
	Bio       string    `json:"bio,omitempty"      yaml:"bio"`
	Skills    []string  `json:"skills"    yaml:"skills"`
	GitHub    string    `json:"github,omitempty"   yaml:"github"`
	LinkedIn  string    `json:"linkedin,omitempty" yaml:"linkedin"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// MessageWithAuthor is the unit pushed over the wire and returned by history reads.
type MessageWithAuthor struct {
	Message
	Author *User `json:"author,omitempty"`
}
