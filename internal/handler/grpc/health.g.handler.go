package hgrpc

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the settlement engine reports under.
const ServiceName = "settlement.v1.SettlementService"

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler publishes the standard grpc.health.v1 service. Each
// dependency is reported under its own name; the overall status and
// ServiceName are SERVING only while every dependency passes.
type HealthHandler struct {
	server  *health.Server
	checks  map[string]Check
	timeout time.Duration

	mu       sync.Mutex
	lastErrs map[string]error
	stop     chan struct{}
	once     sync.Once
}

func NewHealthHandler(checks map[string]Check, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if checks == nil {
		checks = map[string]Check{}
	}
	return &HealthHandler{
		server:   health.NewServer(),
		checks:   checks,
		timeout:  timeout,
		lastErrs: make(map[string]error),
		stop:     make(chan struct{}),
	}
}

func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs every check once and publishes the result.
func (h *HealthHandler) Refresh(ctx context.Context) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](cctx)
		cancel()

		h.server.SetServingStatus(name, servingStatus(err))
		h.record(name, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	overall := servingStatus(firstErr)
	h.server.SetServingStatus("", overall)
	h.server.SetServingStatus(ServiceName, overall)
	return firstErr
}

func (h *HealthHandler) record(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, seen := h.lastErrs[name]
	h.lastErrs[name] = err
	switch {
	case err != nil && (!seen || prev == nil):
		log.WithFields(log.Fields{"dependency": name, "error": err.Error()}).Warn("dependency unhealthy")
	case err == nil && seen && prev != nil:
		log.WithField("dependency", name).Info("dependency recovered")
	}
}

// Ready reports the last refresh result, for the HTTP readiness probe.
func (h *HealthHandler) Ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, err := range h.lastErrs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Watch refreshes on every interval until ctx ends or Shutdown is called.
func (h *HealthHandler) Watch(ctx context.Context, interval time.Duration) {
	_ = h.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-t.C:
			_ = h.Refresh(ctx)
		}
	}
}

// Shutdown flips every service to NOT_SERVING so load balancers drain the
// instance before the listener closes.
func (h *HealthHandler) Shutdown() {
	h.once.Do(func() {
		close(h.stop)
		h.server.Shutdown()
	})
}

func servingStatus(err error) healthpb.HealthCheckResponse_ServingStatus {
	if err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
