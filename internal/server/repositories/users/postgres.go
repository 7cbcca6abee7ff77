package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (name, username, email, phone, password_hash, active, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	phone := sql.NullString{String: user.Phone, Valid: user.Phone != ""}
	err := r.db.QueryRowContext(ctx, query,
		user.Name, user.UserName, user.Email, phone, user.PasswordHash,
		user.Active, user.Verified, user.CreatedAt, user.UpdatedAt).Scan(&user.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const selectUser = `
		SELECT id, name, username, email, phone, password_hash, active, verified, created_at, updated_at, deleted_at
		FROM users
	`

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, selectUser+`WHERE username = $1 AND deleted_at IS NULL`, userName)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, selectUser+`WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id string, hash []byte, at time.Time) error {
	query := `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, hash, at)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, query, id, at)
}

// execOne runs an update that must touch exactly one live user.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		user      models.User
		phone     sql.NullString
		deletedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.UserName, &user.Email, &phone, &user.PasswordHash,
		&user.Active, &user.Verified, &user.CreatedAt, &user.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Phone = phone.String
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return &user, nil
}
