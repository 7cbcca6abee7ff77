// Package services contains server-side business logic: credential
// verification, token issuance, per-request authorization and the session
// operations built on them.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes; reject instead of truncating.
	maxPasswordLength = 72

	dummyPassword = "gatekeeper-timing-equalizer"

	// Column widths of the users table, in characters.
	maxNameLength     = 36
	maxUserNameLength = 36
	maxPhoneLength    = 15
)

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Name     string
	UserName string
	Email    string
	Phone    string
	Password string
}

// UserService verifies credentials and manages user records.
type UserService struct {
	repos      repomanager.RepositoryManager
	bcryptCost int
	log        logging.Logger
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewUserService(m repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *UserService {
	return &UserService{
		repos:      m,
		bcryptCost: cfg.BcryptCost,
		log:        log.With("module", "users"),
		now:        time.Now,
	}
}

// Verify returns the user owning username if password matches. Unknown,
// inactive and mismatching users are indistinguishable to the caller: all
// yield common.ErrInvalidCredentials after a full bcrypt comparison.
func (s *UserService) Verify(ctx context.Context, userName, password string) (*models.User, error) {
	user, err := s.repos.Users().GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, common.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

// Register validates in, hashes the password and stores the user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.UserName = strings.TrimSpace(in.UserName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", common.ErrorInternal, err)
	}

	user := models.NewUser(in.Name, in.UserName, in.Email, in.Phone, hash, s.now().UTC())
	created, err := s.repos.Users().Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	s.log.Info(ctx, "user registered", "user_id", created.ID, "username", created.UserName)
	return created, nil
}

// GetByID returns the live user with id.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repos.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	return user, nil
}

// ChangePassword replaces the password of userID once current verifies and
// revokes every token the user holds in the same transaction, so all
// sessions, including the caller's, must log in again.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if problems := validatePassword(next); len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrorValidation, strings.Join(problems, "; "))
	}
	if _, err := s.checkPassword(ctx, userID, current); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("%w: hash password: %w", common.ErrorInternal, err)
	}

	var revoked int64
	err = s.repos.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if err := repos.Users().UpdatePassword(ctx, userID, hash, s.now().UTC()); err != nil {
			return err
		}
		var err error
		revoked, err = repos.Tokens().RevokeAllBySubject(ctx, userID)
		return err
	})
	if err != nil {
		return accountError(err)
	}
	s.log.Info(ctx, "password changed", "user_id", userID, "revoked", revoked)
	return nil
}

// Delete soft-deletes userID once password verifies and revokes every token
// the user holds in the same transaction.
func (s *UserService) Delete(ctx context.Context, userID, password string) error {
	if _, err := s.checkPassword(ctx, userID, password); err != nil {
		return err
	}

	var revoked int64
	err := s.repos.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if err := repos.Users().SoftDelete(ctx, userID, s.now().UTC()); err != nil {
			return err
		}
		var err error
		revoked, err = repos.Tokens().RevokeAllBySubject(ctx, userID)
		return err
	})
	if err != nil {
		return accountError(err)
	}
	s.log.Info(ctx, "account deleted", "user_id", userID, "revoked", revoked)
	return nil
}

// checkPassword loads the live user id and compares password against it.
// A mismatch yields common.ErrInvalidCredentials.
func (s *UserService) checkPassword(ctx context.Context, id, password string) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

func accountError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrorInternal, err)
}

func (s *UserService) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), s.bcryptCost)
		if err != nil {
			s.log.Error(context.Background(), "dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func validateRegistration(in RegisterInput) error {
	var problems []string
	if in.Name == "" {
		problems = append(problems, "name is required")
	} else if utf8.RuneCountInString(in.Name) > maxNameLength {
		problems = append(problems, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if in.UserName == "" {
		problems = append(problems, "username is required")
	} else if utf8.RuneCountInString(in.UserName) > maxUserNameLength {
		problems = append(problems, fmt.Sprintf("username must be at most %d characters", maxUserNameLength))
	}
	if utf8.RuneCountInString(in.Phone) > maxPhoneLength {
		problems = append(problems, fmt.Sprintf("phone must be at most %d characters", maxPhoneLength))
	}
	if in.Email == "" {
		problems = append(problems, "email is required")
	} else if !strings.Contains(in.Email, "@") {
		problems = append(problems, "email is invalid")
	}
	problems = append(problems, validatePassword(in.Password)...)
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrorValidation, strings.Join(problems, "; "))
	}
	return nil
}

func validatePassword(password string) []string {
	var problems []string
	if len(password) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}
	return problems
}
