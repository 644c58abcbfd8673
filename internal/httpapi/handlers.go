package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/gateway"
	"authgate.org/internal/obs"
	"authgate.org/internal/permission"
)

const serviceName = "authgate"

// Pinger is satisfied by the Redis rate-limit backend and similar dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return errors.New("database unavailable")
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			return errors.New("redis unavailable")
		}
	}
	return nil
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Gateway  *gateway.Gateway
	Sessions *auth.Service
	Perms    *permission.Resolver
	Audit    audit.Emitter
	Ready    ReadyProbe
	HTTP     config.HTTPConfig
	Version  string
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	gw       *gateway.Gateway
	sessions *auth.Service
	perms    *permission.Resolver
	audit    audit.Emitter
	ready    ReadyProbe
	cfg      config.HTTPConfig
	version  string
	throttle *Throttle
}

func New(d Deps) *API {
	a := &API{
		mux:      http.NewServeMux(),
		gw:       d.Gateway,
		sessions: d.Sessions,
		perms:    d.Perms,
		audit:    d.Audit,
		ready:    d.Ready,
		cfg:      d.HTTP,
		version:  d.Version,
	}
	if a.audit == nil {
		a.audit = discardEmitter{}
	}
	if a.cfg.MaxBodyBytes <= 0 {
		a.cfg.MaxBodyBytes = 1 << 20
	}
	a.throttle = NewThrottle(a.cfg.FloodBurst, a.cfg.FloodPerSec, a.cfg.TrustProxy)

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.route("/v1/auth/login", config.RouteLogin, a.handleLogin)
	a.route("/v1/auth/refresh", config.RouteRefresh, a.handleRefresh)
	a.route("/v1/auth/logout", config.RouteLogout, a.handleLogout)
	a.route("/v1/auth/logout-all", config.RouteLogoutAll, a.handleLogoutAll)
	a.route("/v1/auth/password", config.RoutePasswordChange, a.handleChangePassword)
	a.route("/v1/me", config.RouteMe, a.handleMe)
	a.route("/v1/me/navigation", config.RouteNavigation, a.handleNavigation)
	a.route("/v1/api-keys", config.RouteAPIKeyIssue, a.handleIssueKey)
	a.route("/v1/api-keys/{id}", config.RouteAPIKeyRevoke, a.handleRevokeKey)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

func (a *API) route(pattern, routeKey string, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.gw.Middleware(routeKey)(h))
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = a.throttle.Wrap(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return gateway.Recover(h)
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.throttle.Stop()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, audit.Event) {}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
