package api

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"genwatch/internal/logging"
)

// MonitorService is the service name reported alongside the overall status.
const MonitorService = "genwatch.Monitor"

// HealthServer exposes grpc.health.v1, SERVING while the camera is connected.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealthServer creates a server reporting NOT_SERVING until told otherwise.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logging.Component(logger, "grpc"),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing updates both the overall and the monitor service status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(MonitorService, status)
}

// Track polls connected every interval and mirrors it into the health status
// until ctx is done.
func (h *HealthServer) Track(ctx context.Context, connected func() bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := false
	for {
		if ok := connected(); ok != last {
			h.logger.Info("health status changed", "serving", ok)
			h.SetServing(ok)
			last = ok
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return h.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
