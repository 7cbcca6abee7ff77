package admin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
}

func newTestApp(t *testing.T, stdin string) (*App, *repomanager.MemoryRepositoryManager, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = bcrypt.MinCost

	repos := repomanager.NewMemoryRepositoryManager()
	out := &bytes.Buffer{}
	return newApp(cfg, repos, strings.NewReader(stdin), out), repos, out
}

func TestUserAdd(t *testing.T) {
	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	app, repos, out := newTestApp(t, "")

	err := app.Run(context.Background(), []string{"useradd", "-name", "Alice", "-username", "alice", "-email", "alice@example.com"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "created user alice")

	u, err := repos.Users().GetUserByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(u.PasswordHash, []byte("s3cret-pass")))
}

func TestUserAdd_PromptsForUsername(t *testing.T) {
	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	app, repos, _ := newTestApp(t, "bob\n")

	require.NoError(t, app.Run(context.Background(), []string{"useradd", "-name", "Bob", "-email", "bob@example.com"}))
	_, err := repos.Users().GetUserByLogin(context.Background(), "bob")
	assert.NoError(t, err)
}

func TestUserAdd_PasswordMismatch(t *testing.T) {
	stubPasswords(t, "s3cret-pass", "other-pass")
	app, _, _ := newTestApp(t, "")

	err := app.Run(context.Background(), []string{"useradd", "-name", "A", "-username", "a", "-email", "a@example.com"})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestRevokeAll(t *testing.T) {
	app, repos, out := newTestApp(t, "")
	ctx := context.Background()

	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	require.NoError(t, app.Run(ctx, []string{"useradd", "-name", "Alice", "-username", "alice", "-email", "alice@example.com"}))
	u, err := repos.Users().GetUserByLogin(ctx, "alice")
	require.NoError(t, err)

	now := time.Now()
	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, repos.Tokens().Insert(ctx, &models.TokenRecord{
			ID: id, Type: models.TokenTypeAccess, Subject: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}))
	}

	require.NoError(t, app.Run(ctx, []string{"revoke-all", "-username", "alice"}))
	assert.Contains(t, out.String(), "revoked 2 token(s) of alice")

	ok, err := repos.Tokens().IsValid(ctx, "t1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	err = app.Run(ctx, []string{"revoke-all", "-username", "nobody"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, app.Run(ctx, []string{"revoke-all"}), ErrUsage)
}

func TestPurge(t *testing.T) {
	app, repos, out := newTestApp(t, "")
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, repos.Tokens().Insert(ctx, &models.TokenRecord{
		ID: "old", Type: models.TokenTypeAccess, Subject: "u", ExpiresAt: past, CreatedAt: past,
	}))

	require.NoError(t, app.Run(ctx, []string{"purge"}))
	assert.Contains(t, out.String(), "purged 1 expired record(s)")
}

func TestRun_Usage(t *testing.T) {
	app, _, out := newTestApp(t, "")

	assert.ErrorIs(t, app.Run(context.Background(), nil), ErrUsage)
	assert.ErrorIs(t, app.Run(context.Background(), []string{"frobnicate"}), ErrUsage)
	assert.Contains(t, out.String(), "usage: gatekeeperctl")
}

func TestMain_RequiresDSN(t *testing.T) {
	t.Setenv("GATEKEEPER_DATABASE_DSN", "")
	err := Main(context.Background(), []string{"purge"}, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorContains(t, err, "DSN is required")
}

func TestMain_UsesConfiguredStore(t *testing.T) {
	repos := repomanager.NewMemoryRepositoryManager()
	orig := openRepositories
	t.Cleanup(func() { openRepositories = orig })

	var gotDSN string
	openRepositories = func(_ context.Context, dsn string) (repomanager.RepositoryManager, error) {
		gotDSN = dsn
		return repos, nil
	}

	out := &bytes.Buffer{}
	err := Main(context.Background(), []string{"-d", "postgres://example", "purge"}, strings.NewReader(""), out)
	require.NoError(t, err)
	assert.Equal(t, "postgres://example", gotDSN)
	assert.Contains(t, out.String(), "purged 0")
}
