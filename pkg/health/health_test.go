package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var resp stateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestService_LiveEndpoint(t *testing.T) {
	s := New()
	s.AddLiveness("noop", time.Second, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	s.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeState(t, rec).Status)
}

func TestService_ReadyEndpointGate(t *testing.T) {
	s := New()

	rec := httptest.NewRecorder()
	s.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = httptest.NewRecorder()
	s.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.IsReady())

	// Draining flips the gate back without touching probes.
	s.SetReady(false)
	assert.False(t, s.IsReady())
}

func TestProbe_FailureThreshold(t *testing.T) {
	p := &probe{
		name:    "flaky",
		kind:    readiness,
		timeout: time.Second,
		check:   func(context.Context) error { return errors.New("down") },
	}
	p.healthy.Store(true)

	ctx := context.Background()
	for i := 0; i < failureThreshold-1; i++ {
		p.run(ctx)
		assert.True(t, p.healthy.Load(), "still healthy after %d failures", i+1)
	}

	p.run(ctx)
	assert.False(t, p.healthy.Load(), "unhealthy after %d consecutive failures", failureThreshold)
}

func TestProbe_RecoveryResetsCounter(t *testing.T) {
	healthy := false
	p := &probe{
		name:    "flaky",
		kind:    readiness,
		timeout: time.Second,
		check: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("down")
		},
	}
	p.healthy.Store(true)

	ctx := context.Background()
	for i := 0; i < failureThreshold; i++ {
		p.run(ctx)
	}
	require.False(t, p.healthy.Load())

	healthy = true
	p.run(ctx)
	assert.True(t, p.healthy.Load())
	assert.Zero(t, p.fails)
}

func TestService_UnhealthyReadinessProbe(t *testing.T) {
	s := New()
	s.SetReady(true)
	s.AddReadiness("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	// Drive the probe directly to the threshold instead of waiting on the
	// polling interval.
	ctx := context.Background()
	for i := 0; i < failureThreshold; i++ {
		s.probes[0].run(ctx)
	}

	assert.False(t, s.IsReady())

	rec := httptest.NewRecorder()
	s.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decodeState(t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["db"])
}

func TestService_ReadinessFailureDoesNotAffectLiveness(t *testing.T) {
	s := New()
	s.SetReady(true)
	s.AddReadiness("db", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	ctx := context.Background()
	for i := 0; i < failureThreshold; i++ {
		s.probes[0].run(ctx)
	}

	rec := httptest.NewRecorder()
	s.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_StartAndStop(t *testing.T) {
	s := New()
	calls := make(chan struct{}, 10)
	s.AddLiveness("tick", time.Second, func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	s.Start(context.Background(), 10*time.Millisecond)
	defer s.Stop()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never ran")
	}
}

func TestProbe_TimeoutIsApplied(t *testing.T) {
	p := &probe{
		name:    "slow",
		kind:    liveness,
		timeout: 10 * time.Millisecond,
		check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	p.healthy.Store(true)

	done := make(chan struct{})
	go func() {
		p.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not respect its timeout")
	}
}
