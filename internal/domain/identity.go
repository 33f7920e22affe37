package domain

import "strings"

// Identity is the stable key that addresses a user's live connection,
// independent of the physical connection.
type Identity string

// IdentityField selects which user attribute is used as the registry key.
type IdentityField string

const (
	IdentityByEmail IdentityField = "email"
	IdentityByID    IdentityField = "id"
)

// NormalizeIdentity trims the raw handshake value. Emails are compared
// case-insensitively.
func NormalizeIdentity(field IdentityField, raw string) Identity {
	raw = strings.TrimSpace(raw)
	if field == IdentityByEmail {
		raw = strings.ToLower(raw)
	}
	return Identity(raw)
}

// IdentityOf returns the registry key for a user, or "" when the user has none.
func IdentityOf(field IdentityField, u User) Identity {
	switch field {
	case IdentityByID:
		return NormalizeIdentity(field, u.ID)
	default:
		return NormalizeIdentity(IdentityByEmail, u.Email)
	}
}
