// Package tokens declares the revocation ledger contract and its PostgreSQL
// implementation.
//
// Consistency: every call goes to the single authoritative store, with no
// cache in front of it, so a committed Revoke is observed by every later
// IsValid on any connection (read-your-writes). A revoke takes effect at
// commit; reads already in flight may still see the previous state.
package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Repository is the token ledger.
type Repository interface {
	// Insert records a freshly issued token. An existing ID yields
	// common.ErrDuplicateIdentifier and leaves the ledger unchanged.
	Insert(ctx context.Context, rec *models.TokenRecord) error

	// Find returns a snapshot of the record or common.ErrorNotFound.
	Find(ctx context.Context, id string) (*models.TokenRecord, error)

	// IsValid reports whether the record exists, is not revoked and expires
	// after now. A missing record is invalid, not an error.
	IsValid(ctx context.Context, id string, now time.Time) (bool, error)

	// Revoke marks the record revoked. Revoking twice succeeds; an unknown
	// ID yields common.ErrorNotFound.
	Revoke(ctx context.Context, id string) error

	// Consume revokes the record only if it is still active, so exactly one
	// of several concurrent callers succeeds. Losers get
	// common.ErrTokenRevoked; an unknown ID yields common.ErrorNotFound.
	Consume(ctx context.Context, id string) error

	// RevokeAllBySubject revokes every active record of subject and returns
	// how many changed.
	RevokeAllBySubject(ctx context.Context, subject string) (int64, error)

	// ListExpired returns up to limit records with expires_at <= before,
	// oldest first. A limit of zero or less returns every such record.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.TokenRecord, error)

	// DeleteExpired removes the given records provided they expired at or
	// before the cutoff, returning the number removed.
	DeleteExpired(ctx context.Context, ids []string, before time.Time) (int64, error)
}
