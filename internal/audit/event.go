// Package audit records security-relevant events. Recording is
// fire-and-forget: a failing sink never changes the outcome of the request
// that produced the event.
package audit

import (
	"context"
	"strings"
	"time"
)

// Gateway decision actions.
const (
	ActionAllowed               = "auth.allowed"
	ActionDeniedRateLimited     = "auth.denied.rate_limited"
	ActionDeniedUnauthenticated = "auth.denied.unauthenticated"
	ActionDeniedForbidden       = "auth.denied.forbidden"
	ActionLogin                 = "auth.login"
	ActionLoginFailed           = "auth.login.failed"
	ActionRefresh               = "auth.refresh"
	ActionLogout                = "auth.logout"
	ActionLogoutAll             = "auth.logout_all"
	ActionPasswordChanged       = "auth.password.changed"
	ActionAPIKeyIssued          = "auth.api_key.issued"
	ActionAPIKeyRevoked         = "auth.api_key.revoked"
)

// Event is one append-only audit record.
type Event struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
	RequestID  string
	Timestamp  time.Time
}

// Emitter accepts events without reporting failures.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
