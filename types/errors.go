package types

import (
	"errors"

	"github.com/samber/oops"
)

// Semantic errors returned by the account core. They are terminal for the
// operation and are compared with errors.Is.
var (
	ErrDuplicateUsername  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials, check username or password")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token is expired")
	ErrTokenMalformed     = errors.New("token is malformed")
	ErrSignatureInvalid   = errors.New("token signature is invalid")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// CodeInfrastructure tags errors raised by storage, brokers or crypto
// primitives rather than by a semantic rejection.
const CodeInfrastructure = "infrastructure"

// Infrastructure wraps err as an infrastructure fault. It returns nil for a nil err.
func Infrastructure(err error, action string) error {
	if err == nil {
		return nil
	}
	return oops.Code(CodeInfrastructure).Wrapf(err, "%s", action)
}

// IsInfrastructure reports whether err was raised as an infrastructure fault.
func IsInfrastructure(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == CodeInfrastructure
}
