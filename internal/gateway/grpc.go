package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
	"authgate.org/internal/ratelimit"
)

// RouteKeyFunc maps a full gRPC method name to a route key. An empty key
// has no policy and is denied.
type RouteKeyFunc func(fullMethod string) string

// MethodRoutes is a RouteKeyFunc backed by a fixed table.
func MethodRoutes(table map[string]string) RouteKeyFunc {
	cp := make(map[string]string, len(table))
	for k, v := range table {
		cp[k] = v
	}
	return func(fullMethod string) string { return cp[fullMethod] }
}

// UnaryServerInterceptor admits unary calls the way Middleware admits HTTP
// requests. Credentials are read from the authorization and x-api-key
// metadata keys.
func (g *Gateway) UnaryServerInterceptor(routeFor RouteKeyFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				obs.Logger().Error("panic serving rpc", "method", info.FullMethod, "panic", fmt.Sprint(rec))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		ctx, err = g.admit(ctx, routeFor(info.FullMethod))
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor admits a stream once, when it is opened.
func (g *Gateway) StreamServerInterceptor(routeFor RouteKeyFunc) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				obs.Logger().Error("panic serving stream", "method", info.FullMethod, "panic", fmt.Sprint(rec))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		ctx, err := g.admit(ss.Context(), routeFor(info.FullMethod))
		if err != nil {
			return err
		}
		return handler(srv, &admittedStream{ServerStream: ss, ctx: ctx})
	}
}

type admittedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *admittedStream) Context() context.Context { return s.ctx }

func (g *Gateway) admit(ctx context.Context, routeKey string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	header := http.Header{}
	if v := md.Get("authorization"); len(v) > 0 {
		header.Set(headerAuthorization, v[0])
	}
	if v := md.Get("x-api-key"); len(v) > 0 {
		header.Set(headerAPIKey, v[0])
	}
	var userAgent string
	if v := md.Get("user-agent"); len(v) > 0 {
		userAgent = v[0]
	}
	var remote string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = hostOnly(p.Addr.String())
	}

	out := g.Evaluate(ctx, Request{
		RouteKey:   routeKey,
		Header:     header,
		RemoteAddr: remote,
		UserAgent:  userAgent,
	})
	switch out.State {
	case StateForwarded:
		if out.Principal != nil {
			ctx = auth.ContextWithPrincipal(ctx, *out.Principal, out.Token)
		}
		return ctx, nil
	case StateRejectedRateLimited:
		_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", strconv.Itoa(ratelimit.RetryAfterSeconds(out.RetryAfter))))
		return ctx, status.Error(codes.ResourceExhausted, "too many requests")
	case StateRejectedUnauthenticated:
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	case StateRejectedForbidden:
		return ctx, status.Error(codes.PermissionDenied, "forbidden")
	}
	return ctx, status.Error(codes.Internal, "internal error")
}
