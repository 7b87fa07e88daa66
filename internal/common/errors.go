// Package common defines shared constants and sentinel errors used across
// tenantguard components. Callers should use errors.Is to match these values;
// producers wrap them with fmt.Errorf("...: %w", ...) to add detail.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Authentication errors. At the transport boundary all of these collapse
	// into a single "unauthorized" answer; the distinction is kept for logs.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrMalformedToken     = errors.New("malformed token")
	ErrTokenBlocked       = errors.New("token blocked")
	ErrTokenExpired       = errors.New("token expired")

	// Codec errors.
	ErrMalformedLocator  = errors.New("malformed token locator")
	ErrMalformedIdentity = errors.New("malformed identity")

	// Authorization errors.
	ErrAccessDenied         = errors.New("access denied")
	ErrProjectNotFunctional = errors.New("project not functional")
)

// IsUnauthenticated reports whether err belongs to the authentication family
// (credentials, token, ledger and codec failures).
func IsUnauthenticated(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials,
		ErrUserNotFound,
		ErrMalformedToken,
		ErrTokenBlocked,
		ErrTokenExpired,
		ErrMalformedLocator,
		ErrMalformedIdentity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
