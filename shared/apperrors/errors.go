// Package apperrors holds the typed failures returned at the core boundary.
// Callers branch with errors.As / errors.Is rather than by message.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against any typed error below.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not enough permissions")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("already exists")
	ErrProvisioning   = errors.New("provisioning failed")
	ErrValidation     = errors.New("invalid input")
	ErrUnavailable    = errors.New("backend unavailable")
)

// TokenErrorKind distinguishes token failures for diagnostics
type TokenErrorKind string

const (
	TokenMalformed TokenErrorKind = "malformed"
	TokenRevoked   TokenErrorKind = "revoked"
	TokenExpired   TokenErrorKind = "expired"
)

// AuthenticationError covers bad credentials, failed challenges and unusable tokens
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return ErrAuthentication.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthentication, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return ErrAuthentication }

// TokenError is an authentication failure caused by the presented session token
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
	}
	return "token " + string(e.Kind)
}

func (e *TokenError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAuthentication, e.Err}
	}
	return []error{ErrAuthentication}
}

// AuthorizationError is a valid identity lacking role or scope
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return ErrAuthorization.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthorization, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// NotFoundError names the kind of entity that could not be resolved
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is a uniqueness violation on creation
type ConflictError struct {
	Entity string
	Field  string
	Value  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Entity, e.Field, e.Value)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ProvisioningError wraps a store allocation or seeding failure
type ProvisioningError struct {
	Org  string
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed at %s: %v", e.Org, e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() []error { return []error{ErrProvisioning, e.Err} }

// ValidationError is malformed caller input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UnavailableError is a backend I/O failure that ends the current request
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func Authentication(reason string) error { return &AuthenticationError{Reason: reason} }

func Token(kind TokenErrorKind, err error) error { return &TokenError{Kind: kind, Err: err} }

func Authorization(reason string) error { return &AuthorizationError{Reason: reason} }

func NotFound(entity, key string) error { return &NotFoundError{Entity: entity, Key: key} }

func Conflict(entity, field, value string) error {
	return &ConflictError{Entity: entity, Field: field, Value: value}
}

func Provisioning(org, step string, err error) error {
	return &ProvisioningError{Org: org, Step: step, Err: err}
}

func Validation(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

func Unavailable(backend string, err error) error {
	return &UnavailableError{Backend: backend, Err: err}
}

// TokenKind returns the kind of a TokenError anywhere in err's chain
func TokenKind(err error) (TokenErrorKind, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
