package models

import "time"

// User is an identity record. Users are never physically deleted; DeletedAt
// marks a soft delete and frees the username and email for reuse.
type User struct {
	ID           string
	Name         string
	UserName     string
	Email        string
	Phone        string
	PasswordHash []byte
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// NewUser returns an active, unverified user stamped with now.
func NewUser(name, userName, email, phone string, passwordHash []byte, now time.Time) *User {
	return &User{
		Name:         name,
		UserName:     userName,
		Email:        email,
		Phone:        phone,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsDeleted reports whether the user has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Serialize returns the public view of the user. The password hash is
// deliberately absent.
func (u *User) Serialize() map[string]any {
	return map[string]any{
		"id":               u.ID,
		"name":             u.Name,
		"username":         u.UserName,
		"email":            u.Email,
		"phone":            u.Phone,
		"verified_account": u.Verified,
	}
}
