// Package health provides liveness and readiness probe endpoints backed by
// periodically evaluated checks. A check flips to unhealthy only after
// consecutive failures, so a single slow probe does not flap the service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// failureThreshold is how many consecutive failures mark a check unhealthy.
const failureThreshold = 3

// CheckFunc probes one component. It returns nil when healthy.
type CheckFunc func(ctx context.Context) error

// probeKind separates liveness probes from readiness probes.
type probeKind int

const (
	liveness probeKind = iota
	readiness
)

// probe is one registered check plus its runtime state. The fail counter is
// touched only by the single polling goroutine; healthy and lastErr are
// shared with HTTP handlers through atomics.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	check   CheckFunc

	fails   int
	healthy atomic.Bool
	lastErr atomic.Pointer[error]
}

func (p *probe) run(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(probeCtx)
	p.lastErr.Store(&err)

	if err != nil {
		p.fails++
		if p.fails >= failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.healthy.Store(true)
}

// Service runs registered probes in the background and serves their state
// on /livez- and /readyz-style endpoints.
type Service struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Service. It starts not-ready; call SetReady(true) once
// initialization completes.
func New() *Service {
	return &Service{}
}

// AddLiveness registers a liveness probe (process-level health: goroutine
// leaks, GC pauses).
func (s *Service) AddLiveness(name string, timeout time.Duration, check CheckFunc) {
	s.add(name, liveness, timeout, check)
}

// AddReadiness registers a readiness probe (traffic-level health: database
// connectivity, dependent services).
func (s *Service) AddReadiness(name string, timeout time.Duration, check CheckFunc) {
	s.add(name, readiness, timeout, check)
}

func (s *Service) add(name string, kind probeKind, timeout time.Duration, check CheckFunc) {
	p := &probe{name: name, kind: kind, timeout: timeout, check: check}
	p.healthy.Store(true)

	s.mu.Lock()
	s.probes = append(s.probes, p)
	s.mu.Unlock()
}

// Start launches one background goroutine per probe, each evaluating at the
// given interval until Stop or context cancellation.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, len(s.probes))
	copy(probes, s.probes)
	s.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the background probe goroutines. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown to drain traffic before the listener closes.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// probe currently passes.
func (s *Service) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	return len(s.failures(readiness)) == 0
}

// LiveEndpoint serves the liveness probe state.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeState(w, s.failures(liveness))
}

// ReadyEndpoint serves the readiness probe state, including the manual gate.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := s.failures(readiness)
	if !s.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeState(w, failures)
}

// failures collects name -> error message for unhealthy probes of one kind.
func (s *Service) failures(kind probeKind) map[string]string {
	s.mu.RLock()
	probes := make([]*probe, len(s.probes))
	copy(probes, s.probes)
	s.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range probes {
		if p.kind != kind || p.healthy.Load() {
			continue
		}
		msg := "check is unhealthy"
		if errp := p.lastErr.Load(); errp != nil && *errp != nil {
			msg = (*errp).Error()
		}
		out[p.name] = msg
	}
	return out
}

type stateResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeState(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := stateResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
