// Package ops serves the gRPC health endpoint on the operations port.
package ops

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name of the API.
const ServiceName = "lokaltreu.api"

// Check probes one dependency such as the database or Redis.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server is the gRPC health server.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New constructs the health server. Both the overall and the API service
// start NOT_SERVING until the first successful probe round.
func New(log *zap.Logger) *Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	srv := &Server{grpc: s, health: hs, log: log}
	srv.SetServing(false)
	return srv
}

// SetServing flips the status of the API service and the server as a whole.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Probe runs every check once and updates the status. It reports the first
// failing check.
func (s *Server) Probe(ctx context.Context, timeout time.Duration, checks ...Check) error {
	for _, c := range checks {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Probe(pctx)
		cancel()
		if err != nil {
			s.log.Warn("health probe failed", zap.String("check", c.Name), zap.Error(err))
			s.SetServing(false)
			return err
		}
	}
	s.SetServing(true)
	return nil
}

// Watch probes every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration, checks ...Check) {
	_ = s.Probe(ctx, interval, checks...)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Probe(ctx, interval, checks...)
		}
	}
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.grpc.Stop()
	}
	return nil
}
