package models

import "time"

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// TokenRecord is the ledger entry shadowing one issued JWT. ID equals the
// token's jti claim. Revoked only ever goes from false to true and ExpiresAt
// never changes after insertion.
type TokenRecord struct {
	ID        string
	Type      TokenType
	Subject   string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ValidAt reports whether the record authorizes access at now.
func (r *TokenRecord) ValidAt(now time.Time) bool {
	return !r.Revoked && r.ExpiresAt.After(now)
}

func (r *TokenRecord) Serialize() map[string]any {
	return map[string]any{
		"jti":        r.ID,
		"token_type": string(r.Type),
		"subject":    r.Subject,
		"revoked":    r.Revoked,
		"expires_at": r.ExpiresAt.UTC().Format(time.RFC3339),
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
