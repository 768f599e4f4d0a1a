// Package grpc serves the standard gRPC health service so orchestrators can
// probe the process over gRPC as well as HTTP.
package grpc

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "merch-svc"

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// HealthServer reports SERVING while every registered check passes.
type HealthServer struct {
	health  *health.Server
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthServer(checks map[string]CheckFunc, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		health:  health.NewServer(),
		checks:  checks,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Refresh runs every check and publishes the combined status. It returns the
// names of the failing checks.
func (h *HealthServer) Refresh(ctx context.Context) []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failing []string
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](checkCtx)
		cancel()
		if err != nil {
			h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			failing = append(failing, name)
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if len(failing) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return failing
}

// Watch refreshes the status every interval until ctx is done.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown flips every service to NOT_SERVING ahead of GracefulStop.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
}

// NewServer builds the gRPC server with tracing and the health service registered.
func NewServer(h *HealthServer) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthpb.RegisterHealthServer(s, h.health)
	return s
}
