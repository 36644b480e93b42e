package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Probe checks one backing dependency.
type Probe func(ctx context.Context) error

// Health serves grpc.health.v1. The overall service ("") and every named
// probe flip between SERVING and NOT_SERVING as Check observes them.
type Health struct {
	log    *zap.Logger
	srv    *grpc.Server
	hs     *health.Server
	probes map[string]Probe

	mu   sync.Mutex
	last map[string]error
}

// NewHealth builds the server. dev enables reflection for grpcurl.
func NewHealth(log *zap.Logger, probes map[string]Probe, dev bool) *Health {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if dev {
		reflection.Register(srv)
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range probes {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &Health{log: log, srv: srv, hs: hs, probes: probes, last: make(map[string]error)}
}

// Check runs every probe once and publishes the result. It returns the first
// failure seen, if any.
func (h *Health) Check(ctx context.Context) error {
	var firstErr error
	for name, probe := range h.probes {
		err := probe(ctx)
		h.publish(name, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if firstErr != nil {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus("", overall)
	return firstErr
}

func (h *Health) publish(name string, err error) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = err
	h.mu.Unlock()

	if err != nil {
		h.hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
		if !seen || prev == nil {
			h.log.Warn("dependency down", zap.String("dep", name), zap.Error(err))
		}
		return
	}
	h.hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	if seen && prev != nil {
		h.log.Info("dependency recovered", zap.String("dep", name))
	}
}

// Run probes every interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		_ = h.Check(probeCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Serve blocks accepting connections on lis.
func (h *Health) Serve(lis net.Listener) error { return h.srv.Serve(lis) }

// Stop marks everything NOT_SERVING and drains connections.
func (h *Health) Stop() {
	h.hs.Shutdown()
	h.srv.GracefulStop()
}
