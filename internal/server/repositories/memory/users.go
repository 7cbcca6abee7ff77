package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/google/uuid"
)

type UserRepository struct {
	v view
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.v.write(ctx, func(s *state) error {
		for _, existing := range s.users {
			if existing.IsDeleted() {
				continue
			}
			if existing.UserName == user.UserName || existing.Email == user.Email {
				return common.ErrorAlreadyExists
			}
		}
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		s.users[user.ID] = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool { return u.UserName == userName })
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool { return u.ID == id })
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, hash []byte, at time.Time) error {
	return r.update(ctx, id, func(u *models.User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(u *models.User) {
		u.DeletedAt = &at
		u.UpdatedAt = at
	})
}

// update applies change to a copy of the live user id and stores the copy.
func (r *UserRepository) update(ctx context.Context, id string, change func(*models.User)) error {
	return r.v.write(ctx, func(s *state) error {
		u, ok := s.users[id]
		if !ok || u.IsDeleted() {
			return common.ErrorNotFound
		}
		change(&u)
		s.users[id] = u
		return nil
	})
}

func (r *UserRepository) find(ctx context.Context, match func(*models.User) bool) (*models.User, error) {
	var found *models.User
	err := r.v.read(ctx, func(s *state) error {
		for _, u := range s.users {
			if u.IsDeleted() || !match(&u) {
				continue
			}
			snapshot := u
			found = &snapshot
			return nil
		}
		return common.ErrorNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
