// Package grpcapi serves the standard gRPC health protocol for the station.
package grpcapi

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncService is the health service name that tracks remote reachability.
const SyncService = "emec.sync"

// Connectivity is implemented by the sync engine.
type Connectivity interface {
	Online() bool
	OnConnectivity(fn func(online bool))
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	addr   string
	logger *zap.Logger
}

// NewServer registers the health service and subscribes it to reachability
// changes reported by conn.
func NewServer(addr string, conn Connectivity, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		addr:   addr,
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	// The process itself is up as soon as it serves.
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetOnline(conn.Online())
	conn.OnConnectivity(s.SetOnline)
	return s
}

// SetOnline updates the sync service status.
func (s *Server) SetOnline(online bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SyncService, st)
	s.logger.Debug("health status", zap.String("service", SyncService), zap.String("status", st.String()))
}

// Serve blocks on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Shutdown stops the server gracefully, or forcibly once ctx is done.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
