package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier consumes bearer tokens issued by the external identity
// service. It does not issue tokens; it only checks the HS256 signature and
// extracts the subject id.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth jwt secret is not configured")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// SubjectFromHeader resolves the caller identity from an Authorization header.
func (v *TokenVerifier) SubjectFromHeader(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	return v.Subject(strings.TrimPrefix(header, "Bearer "))
}

// Subject validates the token and returns its subject claim.
func (v *TokenVerifier) Subject(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
