package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jjudge-oj/identity/types"
)

// SessionTokenIssuer signs and verifies HS256 bearer tokens whose subject is
// a user id.
type SessionTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokenIssuer returns an issuer signing with secret. A nil now uses
// time.Now.
func NewSessionTokenIssuer(secret string, ttl time.Duration, now func() time.Time) *SessionTokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &SessionTokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

// Issue signs a token for subjectID.
func (s *SessionTokenIssuer) Issue(subjectID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", types.Infrastructure(err, "sign session token")
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns its
// subject. Failures are ErrTokenMalformed, ErrSignatureInvalid or
// ErrTokenExpired.
func (s *SessionTokenIssuer) Verify(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", types.ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return "", types.ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", types.ErrTokenExpired
		default:
			return "", types.ErrTokenMalformed
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", types.ErrTokenMalformed
	}
	return claims.Subject, nil
}
