package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/reva/bridge/internal/metrics"
	"github.com/reva/bridge/pb"
)

// LoggingInterceptor logs every unary call once it has finished.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
		if err != nil {
			logger.Warn("rpc finished with error", append(attrs, "error", status.Convert(err).Message())...)
		} else {
			logger.Info("rpc finished", attrs...)
		}
		return resp, err
	}
}

// MetricsInterceptor counts unary calls by method and status code.
func MetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.RecordRPC(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}

// NewServer builds a gRPC server with svc registered behind the logging
// and metrics interceptors.
func NewServer(svc *Service, m *metrics.Metrics, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		LoggingInterceptor(logger),
		MetricsInterceptor(m),
	))
	srv := grpc.NewServer(opts...)
	pb.RegisterCommentServiceServer(srv, svc)
	return srv
}
