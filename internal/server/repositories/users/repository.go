// Package users declares the user store contract and its PostgreSQL
// implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Repository reads, creates and retires identity records. Lookups only ever see users
// that have not been soft-deleted.
type Repository interface {
	// Create inserts user and returns it with its assigned ID. A username or
	// email already taken by a live user yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetUserByLogin returns the live user with the given username or
	// common.ErrorNotFound.
	GetUserByLogin(ctx context.Context, userName string) (*models.User, error)

	// GetByID returns the live user with the given ID or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.User, error)
	// UpdatePassword replaces the password hash of the live user id and
	// stamps UpdatedAt, or yields common.ErrorNotFound.
	UpdatePassword(ctx context.Context, id string, hash []byte, at time.Time) error
	// SoftDelete stamps DeletedAt on the live user id, freeing its username
	// and email for reuse, or yields common.ErrorNotFound.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
