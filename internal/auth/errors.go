package auth

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the gateway. Every credential or permission failure
// collapses to an opaque 401/403 at the boundary; the finer kinds exist for
// logs and audit metadata only.
var (
	ErrMissingCredential          = errors.New("auth: missing credential")
	ErrMalformedCredential        = errors.New("auth: malformed credential")
	ErrExpiredCredential          = errors.New("auth: expired credential")
	ErrRevokedCredential          = errors.New("auth: revoked credential")
	ErrUnknownOrInactivePrincipal = errors.New("auth: unknown or inactive principal")
	ErrInsufficientPermission     = errors.New("auth: insufficient permission")
	ErrRateLimited                = errors.New("auth: rate limited")
	ErrBackingStoreUnavailable    = errors.New("auth: backing store unavailable")

	// ErrBadSignature is a malformed credential whose signature does not match.
	ErrBadSignature = fmt.Errorf("%w: bad signature", ErrMalformedCredential)
)

// Store-level errors. They never reach a response body.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInactive     = errors.New("auth: inactive")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// IsAuthenticationFailure reports whether err should surface as 401.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMalformedCredential) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrRevokedCredential) ||
		errors.Is(err, ErrUnknownOrInactivePrincipal) ||
		errors.Is(err, ErrBackingStoreUnavailable)
}

// Reason returns a short stable label for err, suitable for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrExpiredCredential):
		return "expired_credential"
	case errors.Is(err, ErrRevokedCredential):
		return "revoked_credential"
	case errors.Is(err, ErrInactive):
		return "inactive_principal"
	case errors.Is(err, ErrUnknownOrInactivePrincipal):
		return "unknown_principal"
	case errors.Is(err, ErrInsufficientPermission):
		return "insufficient_permission"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBackingStoreUnavailable):
		return "backing_store_unavailable"
	default:
		return "internal"
	}
}
