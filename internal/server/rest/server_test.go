package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	srv   *Server
	repos *repomanager.MemoryRepositoryManager
}

type options struct {
	mutate func(*config.Config)
	ledger func(tokens.Repository) tokens.Repository
}

func newEnv(t *testing.T, opts options) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = bcrypt.MinCost
	if opts.mutate != nil {
		opts.mutate(cfg)
	}

	repos := repomanager.NewMemoryRepositoryManager()
	var ledger tokens.Repository = repos.Tokens()
	if opts.ledger != nil {
		ledger = opts.ledger(ledger)
	}

	log := logging.Nop{}
	users := services.NewUserService(repos, cfg, log)
	issuer := services.NewTokenIssuer(cfg, log)
	gate := services.NewGate(ledger, cfg, log)
	sessions := services.NewSessionService(repos, users, issuer, gate, cfg, log)

	_, err := users.Register(context.Background(), services.RegisterInput{
		Name: "Alice", UserName: "alice", Email: "alice@example.com", Password: "correct horse battery",
	})
	require.NoError(t, err)

	return &env{srv: NewServer(":0", log, users, sessions, gate), repos: repos}
}

type reply struct {
	Status int
	Header http.Header
	Body   map[string]any
}

func (e *env) do(t *testing.T, method, path, token string, body any) reply {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	out := reply{Status: rec.Code, Header: rec.Header()}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.Body), rec.Body.String())
	}
	return out
}

func (e *env) login(t *testing.T) (access, refresh string) {
	t.Helper()
	r := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct horse battery"})
	require.Equal(t, http.StatusOK, r.Status)
	data := r.Body["data"].(map[string]any)
	return data["access_token"].(string), data["refresh_token"].(string)
}

func (e *env) ledgerSize(t *testing.T) int {
	t.Helper()
	recs, err := e.repos.Tokens().ListExpired(context.Background(), time.Now().Add(24*365*time.Hour), 0)
	require.NoError(t, err)
	return len(recs)
}

func assertUnauthorized(t *testing.T, r reply) {
	t.Helper()
	assert.Equal(t, http.StatusUnauthorized, r.Status)
	assert.Equal(t, map[string]any{"message": "unauthorized", "success": false}, r.Body)
	assert.Equal(t, "Bearer", r.Header.Get("WWW-Authenticate"))
}

func TestScenario_LoginMeLogoutMe(t *testing.T) {
	e := newEnv(t, options{})
	access, _ := e.login(t)

	me := e.do(t, http.MethodGet, "/users/me", access, nil)
	require.Equal(t, http.StatusOK, me.Status)
	assert.Equal(t, true, me.Body["success"])
	user := me.Body["data"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.NotContains(t, user, "password_hash")

	out := e.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"scope": "one"})
	assert.Equal(t, http.StatusNoContent, out.Status)

	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", access, nil))
}

func TestLogin(t *testing.T) {
	e := newEnv(t, options{})

	r := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct horse battery"})
	require.Equal(t, http.StatusOK, r.Status)
	data := r.Body["data"].(map[string]any)
	assert.Equal(t, "Bearer", data["token_type"])
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
	assert.InDelta(t, (15 * time.Minute).Seconds(), data["expires_in"], 2)

	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope nope nope"}))
	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "nope nope nope"}))

	bad := e.do(t, http.MethodPost, "/auth/login", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, bad.Status)
	assert.Equal(t, false, bad.Body["success"])

	missing := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, missing.Status)
}

func TestRefresh_Rotation(t *testing.T) {
	e := newEnv(t, options{})
	_, refresh := e.login(t)

	r := e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, r.Status)
	data := r.Body["data"].(map[string]any)
	assert.NotEmpty(t, data["refresh_token"])

	me := e.do(t, http.MethodGet, "/users/me", data["access_token"].(string), nil)
	assert.Equal(t, http.StatusOK, me.Status)

	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh}))
}

func TestRefresh_WithoutRotation(t *testing.T) {
	e := newEnv(t, options{mutate: func(c *config.Config) { c.RotateRefreshTokens = false }})
	_, refresh := e.login(t)

	r := e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, r.Status)
	data := r.Body["data"].(map[string]any)
	assert.NotContains(t, data, "refresh_token")
	assert.NotEmpty(t, data["access_token"])
}

func TestRefresh_ExpiredAfterTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a token to expire")
	}
	e := newEnv(t, options{mutate: func(c *config.Config) { c.RefreshTokenValidityDuration = time.Second }})
	_, refresh := e.login(t)
	before := e.ledgerSize(t)

	time.Sleep(2 * time.Second)

	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh}))
	assert.Equal(t, before, e.ledgerSize(t), "no token may be issued")
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	e := newEnv(t, options{})
	access, _ := e.login(t)

	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": access}))
	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": "garbage"}))

	r := e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, r.Status)
}

func TestLogout(t *testing.T) {
	e := newEnv(t, options{})

	t.Run("bad scope", func(t *testing.T) {
		access, _ := e.login(t)
		r := e.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"scope": "galaxy"})
		assert.Equal(t, http.StatusBadRequest, r.Status)
	})

	t.Run("empty body means one", func(t *testing.T) {
		access, refresh := e.login(t)
		r := e.do(t, http.MethodPost, "/auth/logout", access, nil)
		assert.Equal(t, http.StatusNoContent, r.Status)

		assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", access, nil))
		ok := e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
		assert.Equal(t, http.StatusOK, ok.Status)
	})

	t.Run("with refresh token", func(t *testing.T) {
		access, refresh := e.login(t)
		r := e.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"scope": "one", "refresh_token": refresh})
		assert.Equal(t, http.StatusNoContent, r.Status)
		assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh}))
	})

	t.Run("everywhere", func(t *testing.T) {
		first, _ := e.login(t)
		second, secondRefresh := e.login(t)

		r := e.do(t, http.MethodPost, "/auth/logout", first, map[string]string{"scope": "all"})
		assert.Equal(t, http.StatusNoContent, r.Status)

		assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", second, nil))
		assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": secondRefresh}))
	})

	t.Run("requires token", func(t *testing.T) {
		assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/logout", "", nil))
	})
}

func TestBearerMiddleware(t *testing.T) {
	e := newEnv(t, options{})
	access, refresh := e.login(t)

	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", "", nil))
	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", refresh, nil))
	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", access+"x", nil))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "bearer "+access)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Basic "+access)
	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type downLedger struct {
	tokens.Repository
}

func (downLedger) IsValid(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func TestLedgerUnavailable(t *testing.T) {
	e := newEnv(t, options{ledger: func(r tokens.Repository) tokens.Repository { return downLedger{r} }})
	access, _ := e.login(t)

	r := e.do(t, http.MethodGet, "/users/me", access, nil)
	assert.Equal(t, http.StatusServiceUnavailable, r.Status)
	assert.Equal(t, false, r.Body["success"])
}

func TestRegister(t *testing.T) {
	e := newEnv(t, options{})

	r := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Bob", "username": "bob", "email": "bob@example.com", "password": "bobs password",
	})
	require.Equal(t, http.StatusCreated, r.Status)
	user := r.Body["data"].(map[string]any)
	assert.Equal(t, "bob", user["username"])
	assert.Equal(t, false, user["verified_account"])

	dup := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Bob", "username": "bob", "email": "bob2@example.com", "password": "bobs password",
	})
	assert.Equal(t, http.StatusConflict, dup.Status)

	invalid := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, invalid.Status)

	tooLong := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Long", "username": strings.Repeat("l", 37), "email": "long@example.com", "password": "long password",
	})
	assert.Equal(t, http.StatusBadRequest, tooLong.Status)

	login := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "bobs password"})
	assert.Equal(t, http.StatusOK, login.Status)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, options{})
	r := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, r.Status)
	assert.Equal(t, true, r.Body["success"])
}

func TestServe_StopsOnCancel(t *testing.T) {
	e := newEnv(t, options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{common.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: %w", common.ErrMalformedToken, common.ErrTokenTypeMismatch), http.StatusUnauthorized, "unauthorized"},
		{common.ErrTokenExpired, http.StatusUnauthorized, "unauthorized"},
		{common.ErrTokenRevoked, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: timeout", common.ErrLedgerUnavailable), http.StatusServiceUnavailable, "service unavailable"},
		{fmt.Errorf("%w: name is required", common.ErrorValidation), http.StatusBadRequest, "validation error: name is required"},
		{common.ErrorAlreadyExists, http.StatusConflict, "already exists"},
		{common.ErrorNotFound, http.StatusNotFound, "not found"},
		{fmt.Errorf("%w: %w", common.ErrIssuance, errors.New("db down")), http.StatusInternalServerError, "internal error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, options{})
	access, refresh := e.login(t)

	assertUnauthorized(t, e.do(t, http.MethodPost, "/account/password", "", map[string]string{
		"current_password": "correct horse battery", "new_password": "battery staple horse",
	}))

	wrong := e.do(t, http.MethodPost, "/account/password", access, map[string]string{
		"current_password": "nope nope nope", "new_password": "battery staple horse",
	})
	assertUnauthorized(t, wrong)

	weak := e.do(t, http.MethodPost, "/account/password", access, map[string]string{
		"current_password": "correct horse battery", "new_password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, weak.Status)

	missing := e.do(t, http.MethodPost, "/account/password", access, map[string]string{"new_password": "battery staple horse"})
	assert.Equal(t, http.StatusBadRequest, missing.Status)

	ok := e.do(t, http.MethodPost, "/account/password", access, map[string]string{
		"current_password": "correct horse battery", "new_password": "battery staple horse",
	})
	require.Equal(t, http.StatusNoContent, ok.Status)

	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", access, nil))
	assertUnauthorized(t, e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh}))

	old := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct horse battery"})
	assertUnauthorized(t, old)
	fresh := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "battery staple horse"})
	assert.Equal(t, http.StatusOK, fresh.Status)
}

func TestDeleteAccount(t *testing.T) {
	e := newEnv(t, options{})
	access, _ := e.login(t)

	wrong := e.do(t, http.MethodDelete, "/account", access, map[string]string{"password": "nope nope nope"})
	assertUnauthorized(t, wrong)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/users/me", access, nil).Status)

	empty := e.do(t, http.MethodDelete, "/account", access, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, empty.Status)

	ok := e.do(t, http.MethodDelete, "/account", access, map[string]string{"password": "correct horse battery"})
	require.Equal(t, http.StatusNoContent, ok.Status)

	assertUnauthorized(t, e.do(t, http.MethodGet, "/users/me", access, nil))
	login := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "correct horse battery"})
	assertUnauthorized(t, login)
}
