package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/tokens"
	"github.com/google/uuid"
)

// IssuedToken is a signed token together with its ledger identity.
type IssuedToken struct {
	Token     string
	ID        string
	Type      models.TokenType
	ExpiresAt time.Time
}

// TokenPair is what a login or refresh hands back. RefreshToken is empty
// when refresh tokens are not rotated.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// TokenIssuer mints signed tokens and records each one in the ledger before
// handing it out.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        logging.Logger
	now        func() time.Time
	newID      func() string
}

func NewTokenIssuer(cfg *config.Config, log logging.Logger) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(cfg.SecretKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenValidityDuration,
		refreshTTL: cfg.RefreshTokenValidityDuration,
		log:        log.With("module", "issuer"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Issue signs a token of type typ for subject and inserts its record into
// repo. A duplicate identifier is regenerated once; any other failure, or
// a second duplicate, yields common.ErrIssuance and no token.
func (i *TokenIssuer) Issue(ctx context.Context, repo tokens.Repository, subject string, typ models.TokenType, ttl time.Duration) (*IssuedToken, error) {
	if subject == "" || !typ.Valid() || ttl <= 0 {
		return nil, fmt.Errorf("%w: invalid request (subject=%q type=%q ttl=%s)", common.ErrIssuance, subject, typ, ttl)
	}

	now := i.now().UTC()
	expiresAt := expiryAfter(now, ttl)

	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		id := i.newID()

		signed, err := auth.GenerateToken(auth.NewClaims(id, subject, i.issuer, typ, now, expiresAt), i.secret)
		if err != nil {
			return nil, fmt.Errorf("%w: sign: %w", common.ErrIssuance, err)
		}

		rec := &models.TokenRecord{
			ID:        id,
			Type:      typ,
			Subject:   subject,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		err = repo.Insert(ctx, rec)
		if err == nil {
			return &IssuedToken{Token: signed, ID: id, Type: typ, ExpiresAt: expiresAt}, nil
		}
		lastErr = err
		if !errors.Is(err, common.ErrDuplicateIdentifier) {
			break
		}
		i.log.Warn(ctx, "token identifier collision", "jti", id, "attempt", attempt)
	}

	return nil, fmt.Errorf("%w: %w", common.ErrIssuance, lastErr)
}

// expiryAfter returns now+ttl rounded up to a whole second. JWT exp has
// second precision and the ledger stores the same instant, so rounding down
// could hand out a token that is already expired.
func expiryAfter(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if whole := exp.Truncate(time.Second); !whole.Equal(exp) {
		return whole.Add(time.Second)
	}
	return exp
}

// IssuePair issues an access and a refresh token for subject through repo.
// Pass a transaction-bound repo to have both records commit together.
func (i *TokenIssuer) IssuePair(ctx context.Context, repo tokens.Repository, subject string) (*TokenPair, error) {
	access, err := i.Issue(ctx, repo, subject, models.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.Issue(ctx, repo, subject, models.TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refresh.Token,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}, nil
}

// IssueAccess issues a lone access token for subject.
func (i *TokenIssuer) IssueAccess(ctx context.Context, repo tokens.Repository, subject string) (*TokenPair, error) {
	access, err := i.Issue(ctx, repo, subject, models.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access.Token, AccessTokenExpiresAt: access.ExpiresAt}, nil
}
