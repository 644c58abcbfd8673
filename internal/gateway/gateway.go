// Package gateway is the request-admission pipeline: rate check, credential
// extraction and resolution, then authorization. Every evaluation ends in
// exactly one terminal state, and exactly one audit event is emitted for it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/obs"
	"authgate.org/internal/permission"
	"authgate.org/internal/ratelimit"
)

const tracerName = "authgate.org/internal/gateway"

// RateChecker counts requests per client and action class.
type RateChecker interface {
	Check(ctx context.Context, clientID, action string) ratelimit.Result
}

// CredentialResolver turns credentials into principals.
type CredentialResolver interface {
	ResolveBearer(ctx context.Context, claims *auth.Claims) (auth.Principal, error)
	ResolveAPIKey(ctx context.Context, rawKey string) (auth.Principal, string, error)
}

// TokenDecoder verifies bearer tokens without I/O.
type TokenDecoder interface {
	Decode(token string) (*auth.Claims, error)
}

// Authorizer decides route access.
type Authorizer interface {
	Authorize(p auth.Principal, routeKey string) permission.Decision
	IsPublic(routeKey string) bool
}

// Gateway evaluates requests against the admission pipeline.
type Gateway struct {
	limiter    RateChecker
	decoder    TokenDecoder
	creds      CredentialResolver
	authz      Authorizer
	actions    map[string]string
	audit      audit.Emitter
	tracer     trace.Tracer
	log        *slog.Logger
	now        func() time.Time
	trustProxy bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuditor sets the audit emitter. Without one, events are discarded.
func WithAuditor(e audit.Emitter) Option {
	return func(g *Gateway) {
		if e != nil {
			g.audit = e
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithClock overrides the time source used for latency measurement.
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithTrustProxy makes the HTTP middleware take the client address from
// X-Forwarded-For.
func WithTrustProxy(trust bool) Option {
	return func(g *Gateway) { g.trustProxy = trust }
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, audit.Event) {}

// New builds a gateway. Route action classes are copied from routes.
func New(routes map[string]config.Route, limiter RateChecker, decoder TokenDecoder, creds CredentialResolver, authz Authorizer, opts ...Option) *Gateway {
	g := &Gateway{
		limiter: limiter,
		decoder: decoder,
		creds:   creds,
		authz:   authz,
		actions: make(map[string]string, len(routes)),
		audit:   discardEmitter{},
		tracer:  otel.Tracer(tracerName),
		log:     obs.Logger(),
		now:     time.Now,
	}
	for key, rt := range routes {
		g.actions[key] = rt.ActionClass()
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ActionFor returns the rate-limit action class of routeKey.
func (g *Gateway) ActionFor(routeKey string) string {
	if a, ok := g.actions[routeKey]; ok {
		return a
	}
	return config.ActionGeneral
}

// Evaluate runs req through the pipeline and returns its terminal outcome.
func (g *Gateway) Evaluate(ctx context.Context, req Request) Outcome {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "gateway.evaluate",
		trace.WithAttributes(attribute.String("authgate.route", req.RouteKey)))
	defer span.End()

	out := g.evaluate(ctx, span, req)
	out.Status = out.State.Status()

	span.SetAttributes(
		attribute.String("authgate.outcome", string(out.State)),
		attribute.Int("http.response.status_code", out.Status),
	)
	if out.Allowed() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(out.State))
	}
	obs.ObserveDecision(req.RouteKey, string(out.State), g.now().Sub(start))
	g.emit(ctx, req, out)
	return out
}

func (g *Gateway) evaluate(ctx context.Context, span trace.Span, req Request) Outcome {
	stage := func(s State) { span.AddEvent(string(s)) }
	stage(StateReceived)

	cred := extractCredential(req.Header)
	var (
		claims    *auth.Claims
		decodeErr error
	)
	clientID := "ip:" + req.RemoteAddr
	if cred.kind == credentialBearer && cred.err == nil {
		claims, decodeErr = g.decoder.Decode(cred.value)
		if decodeErr == nil {
			clientID = "user:" + claims.Subject
		}
	}

	out := Outcome{ClientID: clientID}
	rl := g.limiter.Check(ctx, clientID, g.ActionFor(req.RouteKey))
	out.RateLimit = rl
	if !rl.Allowed {
		out.State = StateRejectedRateLimited
		out.RetryAfter = rl.RetryAfter
		out.Err = auth.ErrRateLimited
		return out
	}
	stage(StateRateChecked)

	if g.authz.IsPublic(req.RouteKey) {
		out.Decision = g.authz.Authorize(auth.Principal{}, req.RouteKey)
		stage(StateAuthorized)
		out.State = StateForwarded
		return out
	}

	if cred.err != nil {
		return g.unauthenticated(out, cred.err)
	}
	stage(StateCredentialExtracted)

	var (
		principal auth.Principal
		token     string
		err       error
	)
	switch cred.kind {
	case credentialBearer:
		if decodeErr != nil {
			return g.unauthenticated(out, decodeErr)
		}
		principal, err = g.creds.ResolveBearer(ctx, claims)
		token = cred.value
	case credentialAPIKey:
		principal, token, err = g.creds.ResolveAPIKey(ctx, cred.value)
	}
	if err != nil {
		if errors.Is(err, auth.ErrBackingStoreUnavailable) {
			g.log.Error("credential resolution failed closed", "route", req.RouteKey, "error", err)
		}
		return g.unauthenticated(out, err)
	}
	out.Principal = &principal
	out.Token = token
	stage(StateCredentialResolved)

	out.Decision = g.authz.Authorize(principal, req.RouteKey)
	if !out.Decision.Allowed {
		out.State = StateRejectedForbidden
		out.Err = auth.ErrInsufficientPermission
		return out
	}
	stage(StateAuthorized)
	out.State = StateForwarded
	return out
}

func (g *Gateway) unauthenticated(out Outcome, err error) Outcome {
	out.State = StateRejectedUnauthenticated
	out.Err = err
	out.Principal = nil
	out.Token = ""
	return out
}

var auditActions = map[State]string{
	StateForwarded:               audit.ActionAllowed,
	StateRejectedRateLimited:     audit.ActionDeniedRateLimited,
	StateRejectedUnauthenticated: audit.ActionDeniedUnauthenticated,
	StateRejectedForbidden:       audit.ActionDeniedForbidden,
}

func (g *Gateway) emit(ctx context.Context, req Request, out Outcome) {
	meta := map[string]any{
		"state":  string(out.State),
		"client": out.ClientID,
		"action": out.RateLimit.Action,
	}
	if out.Err != nil {
		meta["reason"] = auth.Reason(out.Err)
	}
	if out.Decision.Reason != "" {
		meta["decision"] = out.Decision.Reason
	}
	if out.RateLimit.FailOpen {
		meta["rate_limit_fail_open"] = true
	}
	e := audit.Event{
		Action:     auditActions[out.State],
		EntityType: "route",
		EntityID:   req.RouteKey,
		Metadata:   meta,
		IPAddress:  req.RemoteAddr,
		UserAgent:  req.UserAgent,
	}
	if out.Principal != nil {
		e.ActorID = out.Principal.ID
		meta["principal_kind"] = string(out.Principal.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("audit emit panicked", "route", req.RouteKey, "state", string(out.State), "panic", fmt.Sprint(r))
		}
	}()
	g.audit.Emit(context.WithoutCancel(ctx), e)
}
