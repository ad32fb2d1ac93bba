// Package grpc serves the standard gRPC health service of the upload server.
// Status follows periodic probes of the database and object storage.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/crawlupload/internal/logging"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "crawlupload.Uploads"

const defaultProbeInterval = 10 * time.Second

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type GRPCServer struct {
	address  string
	logger   logging.Logger
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
}

func NewGRPCServer(a string, l logging.Logger, checks map[string]Check) *GRPCServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		health:   hs,
		checks:   checks,
		interval: defaultProbeInterval,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	// creates gRPC-server
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))

	// registers service
	healthpb.RegisterHealthServer(srv, s.health)

	go s.probeLoop(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func (s *GRPCServer) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe runs every check and publishes the combined status.
func (s *GRPCServer) probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, s.interval)
		err := check(cctx)
		cancel()
		if err != nil {
			s.logger.Warn(ctx, "health check failed", "check", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	if ctx.Err() != nil {
		return status
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}
