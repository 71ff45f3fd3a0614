// Package grpctransport provides gRPC interceptors.
package grpctransport

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

func grpcRequestLogInterceptor(logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if logger == nil {
			return resp, err
		}
		fields := map[string]any{
			"method":      info.FullMethod,
			"request_id":  uuid.NewString(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			fields["code"] = status.Code(err).String()
			fields["error"] = err.Error()
			logger.Error("grpc request error", fields)
			return resp, err
		}
		logger.Info("grpc request", fields)
		return resp, err
	}
}
