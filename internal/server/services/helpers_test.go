package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser     = "alice"
	testPassword = "correct horse battery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	cfg      *config.Config
	repos    *repomanager.MemoryRepositoryManager
	clock    *fakeClock
	users    *UserService
	issuer   *TokenIssuer
	gate     *Gate
	sessions *SessionService
	alice    *models.User
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = bcrypt.MinCost
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		cfg:   cfg,
		repos: repomanager.NewMemoryRepositoryManager(),
		clock: &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	log := logging.Nop{}
	f.users = NewUserService(f.repos, cfg, log)
	f.issuer = NewTokenIssuer(cfg, log)
	f.gate = NewGate(f.repos.Tokens(), cfg, log)
	f.sessions = NewSessionService(f.repos, f.users, f.issuer, f.gate, cfg, log)

	f.users.now = f.clock.Now
	f.issuer.now = f.clock.Now
	f.gate.now = f.clock.Now

	alice, err := f.users.Register(context.Background(), RegisterInput{
		Name:     "Alice",
		UserName: testUser,
		Email:    "alice@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	f.alice = alice

	return f
}

func (f *fixture) login(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := f.sessions.Login(context.Background(), testUser, testPassword)
	require.NoError(t, err)
	return pair
}

// ledgerSize counts every record regardless of state.
func (f *fixture) ledgerSize(t *testing.T) int {
	t.Helper()
	recs, err := f.repos.Tokens().ListExpired(context.Background(), f.clock.Now().Add(100*365*24*time.Hour), 0)
	require.NoError(t, err)
	return len(recs)
}
