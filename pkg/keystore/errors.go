package keystore

import (
	"errors"
	"fmt"
)

// AuthError indicates a credential that could not be resolved to a tenant.
// It is always surfaced to the caller; this package never retries.
type AuthError struct {
	Reason string
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// NotFoundError indicates a tenant record was not found
type NotFoundError struct {
	SecretHash string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tenant for credential %.12s...", e.SecretHash)
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// ErrMissingCredential is returned when a request carries no bearer secret
var ErrMissingCredential = errors.New("missing credential")
