// Package auth encodes and decodes the signed tokens handed to clients.
// It checks signature and shape only; expiry and revocation are decided by
// the caller against its own clock and the ledger.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: the registered claims plus the token type.
type Claims struct {
	jwt.RegisteredClaims
	Type models.TokenType `json:"typ"`
}

// NewClaims builds the claim set for a token identified by id.
func NewClaims(id, subject, issuer string, typ models.TokenType, issuedAt, expiresAt time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: typ,
	}
}

// GenerateToken signs claims with HS256.
func GenerateToken(claims Claims, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies the HS256 signature and that every claim the service
// relies on is present, and that the issuer matches. Time-based claims are
// not evaluated here. All failures wrap common.ErrMalformedToken.
func ParseToken(tokenString string, secretKey []byte, issuer string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedToken, err)
	}

	if err := claims.validate(issuer); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedToken, err)
	}

	return claims, nil
}

func (c *Claims) validate(issuer string) error {
	switch {
	case c.ID == "":
		return errors.New("missing jti")
	case c.Subject == "":
		return errors.New("missing sub")
	case c.ExpiresAt == nil:
		return errors.New("missing exp")
	case !c.Type.Valid():
		return fmt.Errorf("unknown token type %q", c.Type)
	case c.Issuer != issuer:
		return fmt.Errorf("unexpected issuer %q", c.Issuer)
	}
	return nil
}
