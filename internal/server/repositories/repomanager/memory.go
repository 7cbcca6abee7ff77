package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

// MemoryRepositoryManager serves repositories from a process-local store.
// Used when no database DSN is configured.
type MemoryRepositoryManager struct {
	store *memory.Store
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{store: memory.NewStore()}
}

func (m *MemoryRepositoryManager) Users() users.Repository {
	return m.store.Users()
}

func (m *MemoryRepositoryManager) Tokens() tokens.Repository {
	return m.store.Tokens()
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error {
	return nil
}

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx *memory.Tx) error {
		return fn(ctx, memoryTx{tx: tx})
	})
}

func (m *MemoryRepositoryManager) Close() error {
	return nil
}

type memoryTx struct {
	tx *memory.Tx
}

func (r memoryTx) Users() users.Repository {
	return r.tx.Users()
}

func (r memoryTx) Tokens() tokens.Repository {
	return r.tx.Tokens()
}
