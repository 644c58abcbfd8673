// Package ratelimit implements fixed-window request counting per client and
// action class on top of a shared counter backend.
//
// A client can burst up to twice the limit across a window boundary; the
// counters are not sliding.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"authgate.org/internal/config"
	"authgate.org/internal/obs"
)

const defaultTimeout = 2 * time.Second

// Result describes one rate-limit check.
type Result struct {
	Allowed    bool
	Action     string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen is set when the backend could not be consulted and the
	// request was let through.
	FailOpen bool
}

// Limiter checks requests against per-action fixed-window policies.
type Limiter struct {
	backend  Backend
	policies map[string]config.RateLimit
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// New builds a limiter; policies are copied.
func New(backend Backend, policies map[string]config.RateLimit, opts ...Option) *Limiter {
	l := &Limiter{
		backend:  backend,
		policies: make(map[string]config.RateLimit, len(policies)),
		timeout:  defaultTimeout,
		now:      time.Now,
		log:      obs.Logger(),
	}
	for k, v := range policies {
		l.policies[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the effective policy for action. Unknown classes fall back
// to the general policy.
func (l *Limiter) Policy(action string) (string, config.RateLimit, bool) {
	if p, ok := l.policies[action]; ok {
		return action, p, true
	}
	p, ok := l.policies[config.ActionGeneral]
	return config.ActionGeneral, p, ok
}

// Check counts one request of clientID for action. Backend failures let the
// request through and are logged.
func (l *Limiter) Check(ctx context.Context, clientID, action string) Result {
	action, policy, ok := l.Policy(action)
	if !ok || policy.Max <= 0 || policy.Window <= 0 {
		return Result{Allowed: true, Action: action}
	}

	now := l.now()
	window := policy.Window
	windowMs := max(window.Milliseconds(), 1)
	start := now.UnixMilli() / windowMs * windowMs
	resetAt := time.UnixMilli(start + windowMs)
	key := action + ":" + clientID + ":" + strconv.FormatInt(start, 10)

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	count, err := l.backend.Incr(cctx, key, window)
	if err != nil {
		l.log.Warn("rate limit backend unavailable, allowing request",
			"action", action, "client", clientID, "error", err)
		obs.RateLimitFailOpen(action)
		return Result{Allowed: true, Action: action, Limit: policy.Max, Remaining: policy.Max, ResetAt: resetAt, FailOpen: true}
	}

	res := Result{
		Allowed: count <= int64(policy.Max),
		Action:  action,
		Limit:   policy.Max,
		ResetAt: resetAt,
	}
	if remaining := int64(policy.Max) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
