package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddlewareForwardsWithPrincipal(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.user(t, "admin@example.com", "institution_admin")
	tok := f.token(t, admin)

	var seen auth.Principal
	var seenToken string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.PrincipalFromContext(r.Context())
		seenToken, _ = auth.TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := f.gw.Middleware("institutions.list")(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/institutions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := serve(h, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.ID != admin.ID || seenToken != tok {
		t.Fatalf("principal not in context: %+v", seen)
	}
	if rr.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("rate limit headers missing")
	}
}

func TestMiddlewareRejections(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.user(t, "admin@example.com", "institution_admin")
	tok := f.token(t, admin)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run on rejection")
	})

	req := httptest.NewRequest(http.MethodDelete, "/v1/institutions/1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := serve(f.gw.Middleware("institutions.delete")(next), req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req = req.WithContext(audit.WithRequestID(req.Context(), "req-7"))
	rr = serve(f.gw.Middleware(config.RouteMe)(next), req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Fatalf("missing WWW-Authenticate challenge")
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["error"] != "unauthorized" || body["request_id"] != "req-7" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMiddlewareRateLimitedSetsRetryAfter(t *testing.T) {
	f := newFixture(t, nil)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := f.gw.Middleware(config.RouteLogin)(ok)

	var rr *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "192.0.2.5:4242"
		rr = serve(h, req)
	}
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if strings.Contains(rr.Body.String(), "auth") {
		t.Fatalf("rejection body leaks detail: %s", rr.Body.String())
	}
}

func TestMiddlewareTrustProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:999"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.1.1")
	if got := ClientIP(req, false); got != "10.1.1.1" {
		t.Fatalf("untrusted proxy header honoured: %s", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("trusted proxy header ignored: %s", got)
	}
}

func TestRecoverReturns500(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(audit.WithRequestID(context.Background(), "req-500"))
	rr := serve(h, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("panic value leaked: %s", rr.Body.String())
	}
}

type panickingEmitter struct{}

func (panickingEmitter) Emit(context.Context, audit.Event) { panic("audit backend exploded") }

func TestMiddlewareForwardsWhenAuditFails(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.user(t, "admin@example.com", "institution_admin")
	tok := f.token(t, admin)

	var mu sync.Mutex
	attempts := 0
	rec := audit.NewRecorder(audit.SinkFunc(func(context.Context, audit.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("audit_log: disk full")
	}), audit.WithTimeout(time.Second))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, em := range []audit.Emitter{rec, panickingEmitter{}} {
		f.gw.audit = em
		h := f.gw.Middleware("institutions.list")(next)
		req := httptest.NewRequest(http.MethodGet, "/v1/institutions", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		if rr := serve(h, req); rr.Code != http.StatusNoContent {
			t.Fatalf("%T: expected request forwarded, got %d: %s", em, rr.Code, rr.Body.String())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected one sink attempt, got %d", attempts)
	}
}
