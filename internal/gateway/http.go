package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
	"authgate.org/internal/ratelimit"
)

// Middleware admits requests to routeKey. Admitted requests carry the
// principal and its bearer token in their context.
func (g *Gateway) Middleware(routeKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := g.Evaluate(r.Context(), Request{
				RouteKey:   routeKey,
				Header:     r.Header,
				RemoteAddr: ClientIP(r, g.trustProxy),
				UserAgent:  r.UserAgent(),
			})
			if out.RateLimit.Limit > 0 && !out.RateLimit.FailOpen {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(out.RateLimit.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(out.RateLimit.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(out.RateLimit.ResetAt.Unix(), 10))
			}

			switch out.State {
			case StateForwarded:
				ctx := r.Context()
				if out.Principal != nil {
					ctx = auth.ContextWithPrincipal(ctx, *out.Principal, out.Token)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			case StateRejectedRateLimited:
				w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(out.RetryAfter)))
				writeDenied(w, r, out.Status, "too many requests")
			case StateRejectedUnauthenticated:
				w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
				writeDenied(w, r, out.Status, "unauthorized")
			case StateRejectedForbidden:
				writeDenied(w, r, out.Status, "forbidden")
			default:
				writeDenied(w, r, http.StatusInternalServerError, "internal error")
			}
		})
	}
}

// Recover turns a panic anywhere below it into an opaque 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			obs.Logger().Error("panic serving request",
				"path", r.URL.Path,
				"panic", fmt.Sprint(rec),
				"request_id", audit.RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeDenied(w, r, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// Rejection bodies never say which check failed.
func writeDenied(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
