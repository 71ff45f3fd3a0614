// Package grpctransport provides a gRPC transport.
package grpctransport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

// ServiceName is the health service name reported next to the overall status.
const ServiceName = "apiquota"

// GRPCTransportConfig configures the gRPC transport.
type GRPCTransportConfig struct {
	KeepAlive time.Duration
	Logger    observability.Logger
}

// GRPCTransport serves the standard health service. Status follows the
// limiter's view of the store.
type GRPCTransport struct {
	addr   string
	lis    net.Listener
	srv    *grpc.Server
	health *health.Server
	cfg    GRPCTransportConfig
	closed bool
	mu     sync.Mutex
}

// NewGRPCTransport constructs a transport bound to an address.
func NewGRPCTransport(addr string, cfg GRPCTransportConfig) *GRPCTransport {
	if addr == "" {
		addr = ":9090"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCTransport{addr: addr, health: healthServer, cfg: cfg}
}

// SetServing updates the reported health status.
func (t *GRPCTransport) SetServing(serving bool) {
	if t == nil || t.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	t.health.SetServingStatus("", status)
	t.health.SetServingStatus(ServiceName, status)
}

// Start begins serving gRPC requests.
func (t *GRPCTransport) Start() error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	listener := t.lis
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", t.addr)
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.lis = listener
	}
	if t.srv == nil {
		opts := []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(grpcRequestLogInterceptor(t.cfg.Logger)),
			grpc.KeepaliveParams(keepalive.ServerParameters{Time: t.cfg.KeepAlive}),
		}
		t.srv = grpc.NewServer(opts...)
		healthpb.RegisterHealthServer(t.srv, t.health)
		reflection.Register(t.srv)
	}
	srv := t.srv
	t.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops the gRPC server.
func (t *GRPCTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.health.Shutdown()
	t.mu.Lock()
	t.closed = true
	srv := t.srv
	listener := t.lis
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		if listener != nil {
			_ = listener.Close()
		}
		return ctx.Err()
	}
	if listener != nil {
		_ = listener.Close()
	}
	return nil
}
