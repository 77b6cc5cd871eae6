// Package token validates the bearer tokens minted by the external
// identity layer. Only the subject claim matters to the core.
package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"pharmatrace/internal/platform/middleware"
)

// Validator checks HMAC-signed JWTs against the shared signing key.
type Validator struct {
	signingKey []byte
}

func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies the token, returning the caller
// principal from the subject claim.
func (v *Validator) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}
	return &middleware.TokenClaims{Principal: subject}, nil
}
