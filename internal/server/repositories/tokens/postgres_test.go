package tokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return NewPostgresRepository(db), mock, db
}

var recordColumns = []string{"jti", "token_type", "subject", "revoked", "expires_at", "created_at"}

const (
	insertQ  = `(?s)^\s*INSERT\s+INTO\s+tokens\s*\(jti,\s*token_type,\s*subject,\s*revoked,\s*expires_at,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*ON\s+CONFLICT\s*\(jti\)\s*DO\s+NOTHING\s*$`
	findQ    = `(?s)^\s*SELECT\s+jti,\s*token_type,\s*subject,\s*revoked,\s*expires_at,\s*created_at\s+FROM\s+tokens\s+WHERE\s+jti\s*=\s*\$1\s*$`
	isValidQ = `(?s)SELECT\s+EXISTS\s*\(\s*SELECT\s+1\s+FROM\s+tokens\s+WHERE\s+jti\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s+AND\s+expires_at\s*>\s*\$2\s*\)`
	revokeQ  = `(?s)^\s*UPDATE\s+tokens\s+SET\s+revoked\s*=\s*TRUE\s+WHERE\s+jti\s*=\s*\$1\s*$`
	consumeQ = `(?s)^\s*UPDATE\s+tokens\s+SET\s+revoked\s*=\s*TRUE\s+WHERE\s+jti\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s*$`
)

func sampleRecord() *models.TokenRecord {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	return &models.TokenRecord{
		ID:        "6f1c3d0e-4c61-4b7e-9d36-2f0d0f1b7a11",
		Type:      models.TokenTypeAccess,
		Subject:   "u-1",
		ExpiresAt: now.Add(15 * time.Minute),
		CreatedAt: now,
	}
}

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectExec(insertQ).
		WithArgs(rec.ID, "access", "u-1", false, rec.ExpiresAt, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInsert_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Insert(context.Background(), sampleRecord())
	if !errors.Is(err, common.ErrDuplicateIdentifier) {
		t.Fatalf("want ErrDuplicateIdentifier, got %v", err)
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), sampleRecord())
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFind_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectQuery(findQ).
		WithArgs(rec.ID).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(rec.ID, "refresh", "u-1", true, rec.ExpiresAt, rec.CreatedAt))

	got, err := repo.Find(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != models.TokenTypeRefresh || !got.Revoked || got.Subject != "u-1" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFind_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findQ).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := repo.Find(context.Background(), "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestIsValid(t *testing.T) {
	now := time.Now()

	for _, want := range []bool{true, false} {
		repo, mock, db := newRepoWithMock(t)

		mock.ExpectQuery(isValidQ).
			WithArgs("jti-1", now).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(want))

		got, err := repo.IsValid(context.Background(), "jti-1", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("IsValid = %v, want %v", got, want)
		}
		db.Close()
	}
}

func TestIsValid_DBErrorIsNotValid(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(isValidQ).WillReturnError(context.DeadlineExceeded)

	valid, err := repo.IsValid(context.Background(), "jti-1", time.Now())
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
	if valid {
		t.Fatal("a failed lookup must never report valid")
	}
}

func TestRevoke_IdempotentAtSQLLevel(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// Postgres reports the matched row on both calls.
	mock.ExpectExec(revokeQ).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(revokeQ).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < 2; i++ {
		if err := repo.Revoke(context.Background(), "jti-1"); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
}

func TestRevoke_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(revokeQ).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Revoke(context.Background(), "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestRevoke_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(revokeQ).WillReturnError(errors.New("db err"))

	err := repo.Revoke(context.Background(), "jti-1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestConsume_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(consumeQ).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Consume(context.Background(), "jti-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConsume_AlreadyRevoked(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectExec(consumeQ).WithArgs(rec.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(findQ).WithArgs(rec.ID).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(rec.ID, "refresh", "u-1", true, rec.ExpiresAt, rec.CreatedAt))

	if err := repo.Consume(context.Background(), rec.ID); !errors.Is(err, common.ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
}

func TestConsume_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(consumeQ).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(findQ).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if err := repo.Consume(context.Background(), "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestRevokeAllBySubject(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)UPDATE\s+tokens\s+SET\s+revoked\s*=\s*TRUE\s+WHERE\s+subject\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE`
	mock.ExpectExec(q).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllBySubject(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d, want 3", n)
	}
}

func TestListExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	q := `(?s)FROM\s+tokens\s+WHERE\s+expires_at\s*<=\s*\$1\s+ORDER\s+BY\s+expires_at\s+LIMIT\s+\$2`
	mock.ExpectQuery(q).
		WithArgs(before, 2).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("a", "access", "u-1", false, before.Add(-2*time.Hour), before.Add(-3*time.Hour)).
			AddRow("b", "refresh", "u-2", true, before.Add(-time.Hour), before.Add(-3*time.Hour)))

	got, err := repo.ListExpired(context.Background(), before, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" || !got[1].Revoked {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestListExpired_NonPositiveLimitIsUnbounded(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	for _, limit := range []int{0, -1} {
		mock.ExpectQuery(`LIMIT\s+\$2`).
			WithArgs(before, nil).
			WillReturnRows(sqlmock.NewRows(recordColumns).
				AddRow("a", "access", "u-1", false, before.Add(-time.Hour), before.Add(-2*time.Hour)))

		got, err := repo.ListExpired(context.Background(), before, limit)
		if err != nil {
			t.Fatalf("limit %d: unexpected error: %v", limit, err)
		}
		if len(got) != 1 {
			t.Fatalf("limit %d: unexpected records: %+v", limit, got)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListExpired_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE\s+expires_at`).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("a", "access", "u-1", "not-a-bool", time.Now(), time.Now()))

	if _, err := repo.ListExpired(context.Background(), time.Now(), 10); err == nil {
		t.Fatal("expected scan error")
	}
}

func TestDeleteExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Now()
	q := `^DELETE FROM tokens WHERE expires_at <= \$1 AND jti IN \(\$2, \$3\)$`
	mock.ExpectExec(q).
		WithArgs(before, "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteExpired(context.Background(), []string{"a", "b"}, before)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
}

func TestDeleteExpired_EmptyIsNoop(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	n, err := repo.DeleteExpired(context.Background(), nil, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}
}
