package gateway

import (
	"net/http"
	"time"

	"authgate.org/internal/auth"
	"authgate.org/internal/permission"
	"authgate.org/internal/ratelimit"
)

// State is a stage of request evaluation. A request moves through the
// non-terminal states in order and stops at the first rejection.
type State string

const (
	StateReceived            State = "received"
	StateRateChecked         State = "rate_checked"
	StateCredentialExtracted State = "credential_extracted"
	StateCredentialResolved  State = "credential_resolved"
	StateAuthorized          State = "authorized"
	StateForwarded           State = "forwarded"

	StateRejectedRateLimited     State = "rejected_rate_limited"
	StateRejectedUnauthenticated State = "rejected_unauthenticated"
	StateRejectedForbidden       State = "rejected_forbidden"
)

// Terminal reports whether s ends evaluation.
func (s State) Terminal() bool {
	switch s {
	case StateForwarded, StateRejectedRateLimited, StateRejectedUnauthenticated, StateRejectedForbidden:
		return true
	}
	return false
}

// Status is the HTTP status a terminal state maps to.
func (s State) Status() int {
	switch s {
	case StateForwarded:
		return http.StatusOK
	case StateRejectedRateLimited:
		return http.StatusTooManyRequests
	case StateRejectedUnauthenticated:
		return http.StatusUnauthorized
	case StateRejectedForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Request is the transport-neutral input of an evaluation.
type Request struct {
	RouteKey   string
	Header     http.Header
	RemoteAddr string
	UserAgent  string
}

// Outcome is the result of an evaluation. Principal is nil for public routes.
type Outcome struct {
	State      State
	Status     int
	Principal  *auth.Principal
	Token      string
	ClientID   string
	RetryAfter time.Duration
	RateLimit  ratelimit.Result
	Decision   permission.Decision
	Err        error
}

// Allowed reports whether the request may proceed to its handler.
func (o Outcome) Allowed() bool { return o.State == StateForwarded }
