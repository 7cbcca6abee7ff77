package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	_ Serializable = (*User)(nil)
	_ Serializable = (*TokenRecord)(nil)
)

func TestUser_SerializeOmitsPasswordHash(t *testing.T) {
	u := NewUser("Alice", "alice", "alice@example.com", "", []byte("$2a$hash"), time.Now())
	u.ID = "u-1"

	got := u.Serialize()

	assert.Equal(t, "u-1", got["id"])
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, false, got["verified_account"])
	for k, v := range got {
		assert.NotContains(t, k, "password")
		assert.NotEqual(t, u.PasswordHash, v)
	}
}

func TestNewUser_TimestampsArePerInstance(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	a := NewUser("A", "a", "a@x", "", nil, t1)
	b := NewUser("B", "b", "b@x", "", nil, t2)

	assert.Equal(t, t1, a.CreatedAt)
	assert.Equal(t, t2, b.CreatedAt)
	assert.True(t, a.Active)
	assert.False(t, a.Verified)
	assert.False(t, a.IsDeleted())
}

func TestTokenRecord_ValidAt(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  TokenRecord
		want bool
	}{
		{"active", TokenRecord{ExpiresAt: now.Add(time.Minute)}, true},
		{"revoked", TokenRecord{Revoked: true, ExpiresAt: now.Add(time.Minute)}, false},
		{"expires exactly now", TokenRecord{ExpiresAt: now}, false},
		{"expired", TokenRecord{ExpiresAt: now.Add(-time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.ValidAt(now))
		})
	}
}

func TestTokenType_Valid(t *testing.T) {
	assert.True(t, TokenTypeAccess.Valid())
	assert.True(t, TokenTypeRefresh.Valid())
	assert.False(t, TokenType("id").Valid())
	assert.False(t, TokenType("").Valid())
}
