package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// PostgresRepository implements the ledger over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). Each mutation is a single statement, so it is atomic
// on its own and row locks serialize writers of the same jti.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert uses ON CONFLICT DO NOTHING rather than surfacing a unique
// violation, which would abort an enclosing transaction and rule out the
// caller's retry with a new identifier.
func (r *PostgresRepository) Insert(ctx context.Context, rec *models.TokenRecord) error {
	query := `
		INSERT INTO tokens (jti, token_type, subject, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (jti) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Type), rec.Subject, rec.Revoked, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrDuplicateIdentifier
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.TokenRecord, error) {
	query := `
		SELECT jti, token_type, subject, revoked, expires_at, created_at
		FROM tokens
		WHERE jti = $1
	`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) IsValid(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tokens
			WHERE jti = $1 AND revoked = FALSE AND expires_at > $2
		)
	`
	var valid bool
	if err := r.db.QueryRowContext(ctx, query, id, now).Scan(&valid); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return valid, nil
}

// Revoke sets the flag unconditionally; Postgres counts the row as updated
// even when it was already revoked, which is what makes repeats succeed.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `
		UPDATE tokens SET revoked = TRUE
		WHERE jti = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Consume(ctx context.Context, id string) error {
	query := `
		UPDATE tokens SET revoked = TRUE
		WHERE jti = $1 AND revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.Find(ctx, id); err != nil {
		return err
	}
	return common.ErrTokenRevoked
}

func (r *PostgresRepository) RevokeAllBySubject(ctx context.Context, subject string) (int64, error) {
	query := `
		UPDATE tokens SET revoked = TRUE
		WHERE subject = $1 AND revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, subject)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.TokenRecord, error) {
	query := `
		SELECT jti, token_type, subject, revoked, expires_at, created_at
		FROM tokens
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	// LIMIT NULL is LIMIT ALL.
	limitArg := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := r.db.QueryContext(ctx, query, before, limitArg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.TokenRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, ids []string, before time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, before)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = "$" + strconv.Itoa(i+2)
	}

	query := `DELETE FROM tokens WHERE expires_at <= $1 AND jti IN (` + strings.Join(placeholders, ", ") + `)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.TokenRecord, error) {
	var (
		rec       models.TokenRecord
		tokenType string
	)
	if err := s.Scan(&rec.ID, &tokenType, &rec.Subject, &rec.Revoked, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Type = models.TokenType(tokenType)
	return &rec, nil
}
