// Package common defines shared constants and sentinel errors used across
// the Gatekeeper server, its transports and the admin tooling. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Credential verification.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token validation errors, in the order the gate checks them.
	ErrMalformedToken    = errors.New("malformed token")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenRevoked      = errors.New("token revoked")

	// Ledger errors.
	ErrDuplicateIdentifier = errors.New("duplicate token identifier")
	ErrIssuance            = errors.New("token issuance failed")
	ErrLedgerUnavailable   = errors.New("token ledger unavailable")
)

// IsAuthError reports whether err denies access because of the presented
// credentials or token, as opposed to an infrastructure failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrorUnauthorized)
}
