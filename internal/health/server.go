// Package health exposes the standard gRPC health service so orchestrators
// can probe whether the live hub is accepting observers.
package health

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name reported for the live feed.
const Service = "scores.live"

type Server struct {
	log    *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

func New(log *slog.Logger) *Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{log: log, grpc: srv, health: hs}
}

// SetServing flips both the overall and the live feed status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Track reports SERVING once ready is closed and NOT_SERVING once done is
// closed or ctx ends.
func (s *Server) Track(ctx context.Context, ready, done <-chan struct{}) {
	select {
	case <-ready:
		s.SetServing(true)
	case <-done:
	case <-ctx.Done():
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.SetServing(false)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("grpc health server listening", slog.String("addr", ln.Addr().String()))
	return s.grpc.Serve(ln)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
