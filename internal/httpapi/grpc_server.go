package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gatehouse.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer serves the standard gRPC health protocol, driven by the same
// readiness probe as /readyz.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	version   string
	interval  time.Duration
}

// NewGRPCServer creates the health service. interval <= 0 defaults to 10s.
func NewGRPCServer(r readinessChecker, version string, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		version:   version,
		interval:  interval,
	}
}

// Register attaches health and reflection to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
}

// Refresh runs the readiness probe once and publishes the result for both the
// overall server and serviceName.
func (s *GRPCServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.Logger().Warn("grpc_not_ready", "error", err, "version", s.version)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	return status
}

// Run refreshes readiness every interval until ctx ends, then marks the
// server as shutting down.
func (s *GRPCServer) Run(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
