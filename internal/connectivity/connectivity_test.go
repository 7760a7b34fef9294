package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
)

func recv(t *testing.T, s *Subscription) domain.ConnectivityState {
	t.Helper()
	select {
	case st, ok := <-s.C():
		require.True(t, ok, "stream closed")
		return st
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state")
		return ""
	}
}

func assertClosed(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case _, ok := <-s.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

// ============================================================================
// Monitor
// ============================================================================

func TestMonitor_SubscribeDeliversCurrentStateFirst(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOffline, nil, nil)
	defer m.Close()

	sub := m.Subscribe()
	defer sub.Cancel()

	assert.Equal(t, domain.ConnectivityOffline, recv(t, sub))
	assert.Equal(t, domain.ConnectivityOffline, m.CurrentState())
	assert.False(t, m.IsConnected())
}

func TestMonitor_DropsDuplicates(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOnline, nil, nil)
	defer m.Close()
	sub := m.Subscribe()
	defer sub.Cancel()
	recv(t, sub)

	assert.False(t, m.Update(domain.ConnectivityOnline))
	assert.True(t, m.Update(domain.ConnectivityLimited))
	assert.False(t, m.Update(domain.ConnectivityLimited))
	assert.True(t, m.Update(domain.ConnectivityOffline))

	assert.Equal(t, domain.ConnectivityLimited, recv(t, sub))
	assert.Equal(t, domain.ConnectivityOffline, recv(t, sub))
}

func TestMonitor_FanOutSameOrder(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOffline, nil, nil)
	defer m.Close()

	subs := []*Subscription{m.Subscribe(), m.Subscribe(), m.Subscribe()}
	sequence := []domain.ConnectivityState{
		domain.ConnectivityOnline,
		domain.ConnectivityLimited,
		domain.ConnectivityOffline,
		domain.ConnectivityOnline,
	}
	// Nobody reads while updates happen; buffers must hold everything.
	for _, st := range sequence {
		m.Update(st)
	}

	want := append([]domain.ConnectivityState{domain.ConnectivityOffline}, sequence...)
	for _, s := range subs {
		var got []domain.ConnectivityState
		for range want {
			got = append(got, recv(t, s))
		}
		assert.Equal(t, want, got)
		s.Cancel()
	}
}

func TestMonitor_CancelIsIdempotent(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOnline, nil, nil)
	defer m.Close()

	sub := m.Subscribe()
	assert.Equal(t, 1, m.Subscribers())
	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, m.Subscribers())
	assertClosed(t, sub)

	// Updates after cancel do not reach the old subscriber or panic.
	m.Update(domain.ConnectivityOffline)
}

func TestMonitor_CloseEndsStreams(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOnline, nil, nil)
	a, b := m.Subscribe(), m.Subscribe()
	recv(t, a)
	recv(t, b)

	m.Close()
	m.Close()
	assertClosed(t, a)
	assertClosed(t, b)

	assert.False(t, m.Update(domain.ConnectivityOffline))
	assertClosed(t, m.Subscribe())
	a.Cancel()
}

func TestMonitor_LastChangeUsesClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	m := NewMonitor(domain.ConnectivityOffline, clk, nil)
	defer m.Close()

	assert.Equal(t, start, m.LastChange())
	clk.Advance(time.Minute)
	m.Update(domain.ConnectivityOnline)
	assert.Equal(t, start.Add(time.Minute), m.LastChange())
}

func TestMonitor_ConcurrentUpdates(t *testing.T) {
	m := NewMonitor(domain.ConnectivityOffline, nil, nil)
	defer m.Close()
	sub := m.Subscribe()
	defer sub.Cancel()

	var wg sync.WaitGroup
	states := []domain.ConnectivityState{domain.ConnectivityOnline, domain.ConnectivityLimited, domain.ConnectivityOffline}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Update(states[i%len(states)])
		}(i)
	}
	wg.Wait()

	// The stream never repeats a state back to back.
	prev := recv(t, sub)
	for {
		select {
		case st := <-sub.C():
			assert.NotEqual(t, prev, st)
			prev = st
		case <-time.After(50 * time.Millisecond):
			assert.Equal(t, m.CurrentState(), prev)
			return
		}
	}
}

// ============================================================================
// Prober
// ============================================================================

type scriptedProbe struct {
	results []error
	calls   int
}

func (p *scriptedProbe) Check(ctx context.Context) error {
	err := p.results[p.calls%len(p.results)]
	p.calls++
	return err
}

func TestProber_Classification(t *testing.T) {
	errNet := errors.New("dial tcp: connection refused")
	probe := &scriptedProbe{results: []error{nil, ErrDegraded, errNet, errNet, nil}}
	m := NewMonitor(domain.ConnectivityOffline, nil, nil)
	defer m.Close()

	p := NewProber(probe, m, ProberConfig{Interval: time.Second, Timeout: time.Second, FailureThreshold: 2}, nil, nil)
	ctx := context.Background()

	assert.Equal(t, domain.ConnectivityOnline, p.CheckOnce(ctx))
	assert.Equal(t, domain.ConnectivityLimited, p.CheckOnce(ctx))
	// One failure is damped.
	assert.Equal(t, domain.ConnectivityLimited, p.CheckOnce(ctx))
	assert.Equal(t, domain.ConnectivityOffline, p.CheckOnce(ctx))
	assert.Equal(t, domain.ConnectivityOffline, m.CurrentState())
	assert.Equal(t, domain.ConnectivityOnline, p.CheckOnce(ctx))
}

type slowProbe struct{ clk *clock.Fake }

func (p slowProbe) Check(context.Context) error {
	p.clk.Advance(3 * time.Second)
	return nil
}

func TestProber_SlowIsLimited(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := NewMonitor(domain.ConnectivityOnline, clk, nil)
	defer m.Close()

	p := NewProber(slowProbe{clk: clk}, m, ProberConfig{DegradedLatency: 2 * time.Second}, clk, nil)
	assert.Equal(t, domain.ConnectivityLimited, p.CheckOnce(context.Background()))
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL)
	ctx := context.Background()

	assert.NoError(t, probe.Check(ctx))

	status.Store(http.StatusNotFound)
	assert.NoError(t, probe.Check(ctx))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorIs(t, probe.Check(ctx), ErrDegraded)

	srv.Close()
	err := probe.Check(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDegraded)
}

func TestGRPCProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	probe, err := NewGRPCProbe(lis.Addr().String(), "")
	require.NoError(t, err)
	defer probe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, probe.Check(ctx))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.ErrorIs(t, probe.Check(ctx), ErrDegraded)
}

func TestGRPCProbe_ReachableWithoutHealthService(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()

	probe, err := NewGRPCProbe(lis.Addr().String(), "")
	require.NoError(t, err)
	defer probe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Unimplemented comes from the backend itself, so it is reachable.
	err = probe.Check(ctx)
	assert.ErrorIs(t, err, ErrDegraded)

	m := NewMonitor(domain.ConnectivityOffline, nil, nil)
	defer m.Close()
	p := NewProber(probe, m, ProberConfig{Timeout: 5 * time.Second, FailureThreshold: 1}, nil, nil)
	assert.Equal(t, domain.ConnectivityLimited, p.CheckOnce(ctx))

	srv.Stop()
	err = probe.Check(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDegraded)
	assert.Equal(t, domain.ConnectivityOffline, p.CheckOnce(ctx))
}
