// Package grpcserver serves the standard gRPC health service for the chat server, reporting
// storage reachability to load balancers and orchestrators.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall "" status.
const ServiceName = "wschat.Delivery"

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health keeps the health status in step with the database.
type Health struct {
	hs       *health.Server
	db       Pinger
	active   func() int
	log      *zap.Logger
	interval time.Duration
}

// NewHealth constructs Health. active, if non-nil, reports the number of live channels for
// the periodic status log.
func NewHealth(db Pinger, active func() int, log *zap.Logger, interval time.Duration) *Health {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &Health{hs: health.NewServer(), db: db, active: active, log: log, interval: interval}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(ServiceName, st)
}

// Check pings the database once and publishes the result.
func (h *Health) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("database unreachable", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch re-checks on every interval until ctx is done, then marks everything NOT_SERVING.
func (h *Health) Watch(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.hs.Shutdown()
			return
		case <-t.C:
			ok := h.Check(ctx)
			if h.active != nil {
				h.log.Debug("status", zap.Bool("db", ok), zap.Int("live_channels", h.active()))
			}
		}
	}
}

// NewServer builds a gRPC server carrying the health service, with logging and panic
// recovery. Reflection is registered only in development.
func NewServer(h *Health, log *zap.Logger, dev bool, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
		grpc.ChainStreamInterceptor(
			RecoverStream(log),
			LoggingStream(log),
		),
	)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.hs)
	if dev {
		reflection.Register(s)
	}
	return s
}
