// Package probe exposes the standard gRPC health service so orchestrators
// that speak grpc_health_v1 can watch the insight service.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "gpa-insight"

const (
	defaultCheckInterval = 15 * time.Second
	checkTimeout         = 2 * time.Second
)

// CheckFunc reports whether a dependency is usable. nil means healthy.
type CheckFunc func(ctx context.Context) error

// Server runs a gRPC health endpoint.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	lis        net.Listener
	check      CheckFunc
	interval   time.Duration
	logger     *slog.Logger
	done       chan struct{}
}

// Config controls the probe server.
type Config struct {
	Addr string
	// Check is polled every Interval; nil means always serving.
	Check    CheckFunc
	Interval time.Duration
}

// Start listens on cfg.Addr and serves health checks until Stop is called.
func Start(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCheckInterval
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle: 5 * time.Minute,
		Time:              2 * time.Minute,
		Timeout:           10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		grpcServer: gs,
		health:     hs,
		lis:        lis,
		check:      cfg.Check,
		interval:   cfg.Interval,
		logger:     logger,
		done:       make(chan struct{}),
	}
	s.refresh()

	go func() {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC health server failed", "error", err)
		}
	}()
	go s.watch()

	logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refresh()
		case <-s.done:
			return
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		err := s.check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("Health probe failing", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *Server) Stop() {
	close(s.done)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
