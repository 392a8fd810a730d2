package health

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name the edge server reports under
const ServiceName = "tierroute.EdgeServer"

// GRPCServer serves the standard gRPC health protocol
type GRPCServer struct {
	port   int
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewGRPCServer creates a gRPC server with only the health service registered
func NewGRPCServer(port int, logger *zap.Logger) *GRPCServer {
	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		port:   port,
		server: server,
		health: hs,
		logger: logger,
	}
}

// SetServing updates both the overall and the named service status
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve serves on lis until Stop
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC health server", zap.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// Start listens on the configured port and serves
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.Serve(lis)
}

// Stop reports NOT_SERVING to every watcher and stops gracefully
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC health server stopped")
}
