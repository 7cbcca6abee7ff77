// Package repomanager vends the repositories for one storage backend and
// owns transactions across them.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

// Repositories groups the stores a unit of work needs.
type Repositories interface {
	Users() users.Repository
	Tokens() tokens.Repository
}

// RepositoryManager exposes repositories bound to the backend directly and
// inside a transaction. Repositories passed to a WithTx callback observe
// the callback's own writes; the changes become visible to others only when
// fn returns nil.
type RepositoryManager interface {
	Repositories
	RunMigrations(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Close() error
}
