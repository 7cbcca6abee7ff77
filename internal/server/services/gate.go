package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
)

// Subject is the identity a presented token resolves to.
type Subject struct {
	UserID    string
	TokenID   string
	Type      models.TokenType
	ExpiresAt time.Time
}

type subjectKey struct{}

// WithSubject stores s in ctx for downstream handlers.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the subject put there by WithSubject.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(*Subject)
	return s, ok && s != nil
}

// Gate authorizes presented tokens. Checks run cheapest first: signature
// and shape, token type, embedded expiry, then the ledger. The ledger is
// consulted on every call and a ledger failure denies access.
type Gate struct {
	ledger  tokens.Repository
	secret  []byte
	issuer  string
	timeout time.Duration
	log     logging.Logger
	now     func() time.Time
}

func NewGate(ledger tokens.Repository, cfg *config.Config, log logging.Logger) *Gate {
	return &Gate{
		ledger:  ledger,
		secret:  []byte(cfg.SecretKey),
		issuer:  cfg.Issuer,
		timeout: cfg.LedgerTimeout,
		log:     log.With("module", "gate"),
		now:     time.Now,
	}
}

// Authorize resolves token to its subject. want restricts the accepted
// token type; an empty want accepts either.
func (g *Gate) Authorize(ctx context.Context, token string, want models.TokenType) (*Subject, error) {
	subj, err := g.authorize(ctx, token, want)
	if err != nil {
		g.log.Warn(ctx, "authorization denied", "reason", err, "want", string(want))
		return nil, err
	}
	return subj, nil
}

func (g *Gate) authorize(ctx context.Context, token string, want models.TokenType) (*Subject, error) {
	claims, err := g.decode(token, want)
	if err != nil {
		return nil, err
	}

	if !g.now().Before(claims.ExpiresAt.Time) {
		return nil, common.ErrTokenExpired
	}

	lctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	valid, err := g.ledger.IsValid(lctx, claims.ID, g.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrLedgerUnavailable, err)
	}
	if !valid {
		return nil, common.ErrTokenRevoked
	}

	return &Subject{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		Type:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// decode runs the local checks only: signature, shape and type.
func (g *Gate) decode(token string, want models.TokenType) (*auth.Claims, error) {
	claims, err := auth.ParseToken(token, g.secret, g.issuer)
	if err != nil {
		return nil, err
	}
	if want != "" && claims.Type != want {
		return nil, fmt.Errorf("%w: %w: got %s, want %s",
			common.ErrMalformedToken, common.ErrTokenTypeMismatch, claims.Type, want)
	}
	return claims, nil
}
