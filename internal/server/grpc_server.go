package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/logger"
)

// shutdownGrace bounds GracefulStop before in-flight RPCs are cut.
const shutdownGrace = 10 * time.Second

// NewGRPCServer builds a gRPC server with request logging, registers all
// provided services and marks them SERVING on the health service.
func NewGRPCServer(log *slog.Logger, registrars ...Registrar) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(log)))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	// register all services
	for _, r := range registrars {
		r.Register(grpcServer)
		if n, ok := r.(named); ok {
			hs.SetServingStatus(n.Name(), healthpb.HealthCheckResponse_SERVING)
		}
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return grpcServer, hs
}

// StartGRPCServer serves until ctx is cancelled, then flips health to
// NOT_SERVING and stops gracefully.
func StartGRPCServer(ctx context.Context, cfg *config.Config, log *slog.Logger, registrars ...Registrar) error {
	addr := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer, hs := NewGRPCServer(log, registrars...)

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()
	log.Info("gRPC server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("stopping gRPC server")
	hs.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		log.Warn("graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	return nil
}

// LoggingInterceptor logs method, status code and duration for each unary
// call. Failures log at warn, everything else at debug. Handlers find a
// logger tagged with the method through logger.FromContext.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		reqLog := log.With("method", info.FullMethod)
		resp, err := handler(logger.WithContext(ctx, reqLog), req)

		code := status.Code(err)
		attrs := []any{"code", code.String(), "duration", time.Since(start)}
		if err != nil {
			reqLog.Warn("rpc failed", append(attrs, "err", err)...)
		} else {
			reqLog.Debug("rpc", attrs...)
		}
		return resp, err
	}
}
