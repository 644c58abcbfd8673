package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authgate.org/internal/config"
	"authgate.org/internal/gateway"
	"authgate.org/internal/obs"
)

// Method table of the gRPC surface. Unlisted methods are denied by the gateway.
var grpcRoutes = map[string]string{
	healthpb.Health_Check_FullMethodName: config.RouteHealthCheck,
	healthpb.Health_Watch_FullMethodName: config.RouteHealthCheck,
}

// GRPCServer serves the standard health service behind the gateway interceptors.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness ReadyProbe
}

// NewGRPCServer creates the gRPC server. Extra options are appended after
// the interceptors.
func NewGRPCServer(gw *gateway.Gateway, ready ReadyProbe, opts ...grpc.ServerOption) *GRPCServer {
	routes := gateway.MethodRoutes(grpcRoutes)
	opts = append([]grpc.ServerOption{
		grpc.UnaryInterceptor(gw.UnaryServerInterceptor(routes)),
		grpc.StreamInterceptor(gw.StreamServerInterceptor(routes)),
	}, opts...)
	s := &GRPCServer{
		server:    grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: ready,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Refresh publishes the readiness of the backing stores through the health service.
func (s *GRPCServer) Refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		obs.Logger().Warn("grpc health not serving", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

// Watch refreshes health every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop drains in-flight calls and marks the service as shutting down.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
