// Package memory implements the user and token repositories in process
// memory. It backs development runs without a database and the service
// tests; the ledger is lost on restart and is not shared between replicas.
//
// All access goes through one Store. Plain calls lock per operation;
// WithTx holds the write lock for the whole callback and works on a copy of
// the state that replaces the live state only when the callback succeeds.
// Waiting for the lock honours the caller's context, so a reader stuck
// behind a long transaction gives up at its deadline.
package memory

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers. A writer takes every slot.
const maxReaders = 1 << 20

type state struct {
	users  map[string]models.User
	tokens map[string]models.TokenRecord
}

func newState() *state {
	return &state{
		users:  make(map[string]models.User),
		tokens: make(map[string]models.TokenRecord),
	}
}

// clone copies the maps; values are copied by assignment. User.PasswordHash
// and DeletedAt are never mutated in place, so sharing them is safe.
func (s *state) clone() *state {
	c := &state{
		users:  make(map[string]models.User, len(s.users)),
		tokens: make(map[string]models.TokenRecord, len(s.tokens)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// view abstracts how a repository reaches the state: through the store's
// lock, or directly inside a transaction that already holds it.
type view interface {
	read(ctx context.Context, fn func(*state) error) error
	write(ctx context.Context, fn func(*state) error) error
}

// Store guards the state with a weighted semaphore used as a read/write
// lock: readers take one slot, writers take all of them.
type Store struct {
	sem   *semaphore.Weighted
	state *state
}

func NewStore() *Store {
	return &Store{sem: semaphore.NewWeighted(maxReaders), state: newState()}
}

func (s *Store) lock(ctx context.Context, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sem.Acquire(ctx, n)
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if err := s.lock(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn(s.state)
}

func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if err := s.lock(ctx, maxReaders); err != nil {
		return err
	}
	defer s.sem.Release(maxReaders)
	return fn(s.state)
}

// Users returns a user repository bound to the live state.
func (s *Store) Users() *UserRepository {
	return &UserRepository{v: s}
}

// Tokens returns a token ledger bound to the live state.
func (s *Store) Tokens() *TokenRepository {
	return &TokenRepository{v: s}
}

// Tx is the transactional handle passed to WithTx callbacks.
type Tx struct {
	state *state
}

func (t *Tx) read(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t.state)
}

func (t *Tx) write(ctx context.Context, fn func(*state) error) error {
	return t.read(ctx, fn)
}

func (t *Tx) Users() *UserRepository {
	return &UserRepository{v: t}
}

func (t *Tx) Tokens() *TokenRepository {
	return &TokenRepository{v: t}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn returns nil and ctx is still live. Other callers wait until
// the transaction finishes or their context ends. fn must not call back
// into s directly.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if err := s.lock(ctx, maxReaders); err != nil {
		return err
	}
	defer s.sem.Release(maxReaders)

	tx := &Tx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}
