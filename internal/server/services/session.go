package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

// Scope selects which tokens a logout revokes.
type Scope string

const (
	// ScopeOne revokes the presented access token (and refresh token, if given).
	ScopeOne Scope = "one"
	// ScopeAll revokes every active token of the subject.
	ScopeAll Scope = "all"
)

// ParseScope accepts "one", "all" or empty (meaning one).
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeOne:
		return ScopeOne, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("%w: unknown logout scope %q", common.ErrorValidation, s)
}

// SessionService implements login, refresh and logout on top of the
// verifier, issuer, gate and ledger.
type SessionService struct {
	repos  repomanager.RepositoryManager
	users  *UserService
	issuer *TokenIssuer
	gate   *Gate
	rotate bool
	log    logging.Logger
}

func NewSessionService(m repomanager.RepositoryManager, users *UserService, issuer *TokenIssuer, gate *Gate, cfg *config.Config, log logging.Logger) *SessionService {
	return &SessionService{
		repos:  m,
		users:  users,
		issuer: issuer,
		gate:   gate,
		rotate: cfg.RotateRefreshTokens,
		log:    log.With("module", "sessions"),
	}
}

// Login verifies credentials and issues an access/refresh pair whose ledger
// records commit together.
func (s *SessionService) Login(ctx context.Context, userName, password string) (*TokenPair, error) {
	user, err := s.users.Verify(ctx, userName, password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.log.Warn(ctx, "login rejected", "username", userName)
		}
		return nil, err
	}

	var pair *TokenPair
	err = s.repos.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		var err error
		pair, err = s.issuer.IssuePair(ctx, repos.Tokens(), user.ID)
		return err
	})
	if err != nil {
		return nil, issuanceError(err)
	}

	s.log.Info(ctx, "login", "user_id", user.ID)
	return pair, nil
}

// Refresh exchanges a valid refresh token for new tokens. With rotation the
// old refresh token is consumed and replaced in the same transaction, so a
// failed issuance leaves it valid and only one of several concurrent
// refreshes with the same token succeeds.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	subj, err := s.gate.Authorize(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	if !s.rotate {
		pair, err := s.issuer.IssueAccess(ctx, s.repos.Tokens(), subj.UserID)
		if err != nil {
			return nil, issuanceError(err)
		}
		return pair, nil
	}

	var pair *TokenPair
	err = s.repos.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if err := repos.Tokens().Consume(ctx, subj.TokenID); err != nil {
			if errors.Is(err, common.ErrTokenRevoked) || errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenRevoked
			}
			return fmt.Errorf("%w: %w", common.ErrLedgerUnavailable, err)
		}
		var err error
		pair, err = s.issuer.IssuePair(ctx, repos.Tokens(), subj.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenRevoked) {
			s.log.Warn(ctx, "refresh token reused", "user_id", subj.UserID, "jti", subj.TokenID)
			return nil, err
		}
		return nil, issuanceError(err)
	}

	s.log.Info(ctx, "refresh rotated", "user_id", subj.UserID, "old_jti", subj.TokenID)
	return pair, nil
}

// Logout authorizes accessToken and revokes according to scope.
func (s *SessionService) Logout(ctx context.Context, accessToken string, scope Scope, refreshToken string) error {
	subj, err := s.gate.Authorize(ctx, accessToken, models.TokenTypeAccess)
	if err != nil {
		return err
	}
	return s.LogoutSubject(ctx, subj, scope, refreshToken)
}

// LogoutSubject revokes for an already authorized subject. With ScopeOne a
// refresh token is revoked too when it verifies, is a refresh token and
// belongs to the same subject; otherwise it is ignored.
func (s *SessionService) LogoutSubject(ctx context.Context, subj *Subject, scope Scope, refreshToken string) error {
	switch scope {
	case ScopeAll:
		n, err := s.repos.Tokens().RevokeAllBySubject(ctx, subj.UserID)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrLedgerUnavailable, err)
		}
		s.log.Info(ctx, "logout everywhere", "user_id", subj.UserID, "revoked", n)
		return nil
	case ScopeOne:
	default:
		return fmt.Errorf("%w: unknown logout scope %q", common.ErrorValidation, scope)
	}

	var refreshID string
	if refreshToken != "" {
		claims, err := s.gate.decode(refreshToken, models.TokenTypeRefresh)
		switch {
		case err != nil:
			s.log.Debug(ctx, "logout ignores refresh token", "reason", err)
		case claims.Subject != subj.UserID:
			s.log.Warn(ctx, "logout ignores foreign refresh token", "user_id", subj.UserID)
		default:
			refreshID = claims.ID
		}
	}

	err := s.repos.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if err := repos.Tokens().Revoke(ctx, subj.TokenID); err != nil {
			return err
		}
		if refreshID == "" {
			return nil
		}
		if err := repos.Tokens().Revoke(ctx, refreshID); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrLedgerUnavailable, err)
	}

	s.log.Info(ctx, "logout", "user_id", subj.UserID, "jti", subj.TokenID, "refresh_revoked", refreshID != "")
	return nil
}

// issuanceError keeps ledger and issuance failures distinguishable and
// files everything else under ErrIssuance.
func issuanceError(err error) error {
	if errors.Is(err, common.ErrIssuance) || errors.Is(err, common.ErrLedgerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrIssuance, err)
}
