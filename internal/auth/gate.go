package auth

import (
	"context"
	"strings"

	"github.com/jjudge-oj/identity/types"
)

// Identity is the outcome of resolving a request's bearer token. The zero
// value is anonymous.
type Identity struct {
	subject string
}

// Anonymous is the identity of a request without a valid token.
var Anonymous = Identity{}

// Authenticated returns the identity of a verified subject.
func Authenticated(subjectID string) Identity {
	return Identity{subject: subjectID}
}

// IsAuthenticated reports whether a verified token was presented.
func (i Identity) IsAuthenticated() bool {
	return i.subject != ""
}

// Subject returns the verified subject id and whether there is one.
func (i Identity) Subject() (string, bool) {
	return i.subject, i.subject != ""
}

// RequireSubject returns the subject id or ErrUnauthorized for an anonymous identity.
func (i Identity) RequireSubject() (string, error) {
	if i.subject == "" {
		return "", types.ErrUnauthorized
	}
	return i.subject, nil
}

// TokenVerifier resolves a signed token to its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Gate resolves Authorization header values to identities. Every failure
// collapses to Anonymous.
type Gate struct {
	verifier TokenVerifier
}

func NewGate(verifier TokenVerifier) *Gate {
	return &Gate{verifier: verifier}
}

// Resolve parses an Authorization header of the form "Bearer <token>" and
// verifies the token.
func (g *Gate) Resolve(authorization string) Identity {
	token, ok := BearerToken(authorization)
	if !ok {
		return Anonymous
	}
	subject, err := g.verifier.Verify(token)
	if err != nil {
		return Anonymous
	}
	return Authenticated(subject)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) (string, bool) {
	parts := strings.Fields(authorization)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored in ctx, or Anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
