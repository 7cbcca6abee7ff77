package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// TokenRepository is the in-memory ledger. Every mutation runs under the
// store's write lock, which gives the same per-record atomicity as the
// single-statement SQL version.
type TokenRepository struct {
	v view
}

func (r *TokenRepository) Insert(ctx context.Context, rec *models.TokenRecord) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.tokens[rec.ID]; ok {
			return common.ErrDuplicateIdentifier
		}
		s.tokens[rec.ID] = *rec
		return nil
	})
}

func (r *TokenRepository) Find(ctx context.Context, id string) (*models.TokenRecord, error) {
	var out *models.TokenRecord
	err := r.v.read(ctx, func(s *state) error {
		rec, ok := s.tokens[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TokenRepository) IsValid(ctx context.Context, id string, now time.Time) (bool, error) {
	var valid bool
	err := r.v.read(ctx, func(s *state) error {
		rec, ok := s.tokens[id]
		valid = ok && rec.ValidAt(now)
		return nil
	})
	return valid, err
}

func (r *TokenRepository) Revoke(ctx context.Context, id string) error {
	return r.v.write(ctx, func(s *state) error {
		rec, ok := s.tokens[id]
		if !ok {
			return common.ErrorNotFound
		}
		rec.Revoked = true
		s.tokens[id] = rec
		return nil
	})
}

func (r *TokenRepository) Consume(ctx context.Context, id string) error {
	return r.v.write(ctx, func(s *state) error {
		rec, ok := s.tokens[id]
		if !ok {
			return common.ErrorNotFound
		}
		if rec.Revoked {
			return common.ErrTokenRevoked
		}
		rec.Revoked = true
		s.tokens[id] = rec
		return nil
	})
}

func (r *TokenRepository) RevokeAllBySubject(ctx context.Context, subject string) (int64, error) {
	var n int64
	err := r.v.write(ctx, func(s *state) error {
		for id, rec := range s.tokens {
			if rec.Subject != subject || rec.Revoked {
				continue
			}
			rec.Revoked = true
			s.tokens[id] = rec
			n++
		}
		return nil
	})
	return n, err
}

func (r *TokenRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.TokenRecord, error) {
	var out []*models.TokenRecord
	err := r.v.read(ctx, func(s *state) error {
		for _, rec := range s.tokens {
			if rec.ExpiresAt.After(before) {
				continue
			}
			rec := rec
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, ids []string, before time.Time) (int64, error) {
	var n int64
	err := r.v.write(ctx, func(s *state) error {
		for _, id := range ids {
			rec, ok := s.tokens[id]
			if !ok || rec.ExpiresAt.After(before) {
				continue
			}
			delete(s.tokens, id)
			n++
		}
		return nil
	})
	return n, err
}
