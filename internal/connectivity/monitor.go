// Package connectivity tracks network reachability and broadcasts changes.
package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

// Monitor owns the current connectivity state and fans out transitions.
//
// Update is the only writer. Every subscriber receives the current state when
// it subscribes and then every transition, in the same order as all other
// subscribers. Slow subscribers never block Update: each one has its own
// unbounded buffer.
type Monitor struct {
	mu        sync.Mutex
	state     domain.ConnectivityState
	changedAt time.Time
	subs      map[uint64]*Subscription
	nextID    uint64
	closed    bool

	clock clock.Clock
	sink  telemetry.Sink
	log   *slog.Logger
}

// NewMonitor creates a monitor starting in initial.
func NewMonitor(initial domain.ConnectivityState, clk clock.Clock, sink telemetry.Sink) *Monitor {
	clk = clock.OrReal(clk)
	m := &Monitor{
		state:     initial,
		changedAt: clk.Now(),
		subs:      make(map[uint64]*Subscription),
		clock:     clk,
		sink:      telemetry.OrNop(sink),
		log:       slog.Default().With("component", "connectivity"),
	}
	m.sink.RecordConnectivity(initial)
	return m
}

// CurrentState returns the latest known state.
func (m *Monitor) CurrentState() domain.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the current state allows remote calls.
func (m *Monitor) IsConnected() bool {
	return m.CurrentState().IsConnected()
}

// LastChange returns when the state last changed.
func (m *Monitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// Update records a new state. It returns false when the state is unchanged or
// the monitor is closed.
func (m *Monitor) Update(state domain.ConnectivityState) bool {
	m.mu.Lock()
	if m.closed || state == m.state {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.state = state
	m.changedAt = m.clock.Now()
	for _, s := range m.subs {
		s.push(state)
	}
	m.mu.Unlock()

	m.log.Info("Connectivity changed", "from", prev, "to", state)
	m.sink.RecordConnectivity(state)
	return true
}

// Subscribe registers a new listener. The current state is its first value.
// Subscribing to a closed monitor yields a closed stream.
func (m *Monitor) Subscribe() *Subscription {
	s := &Subscription{
		m:      m,
		out:    make(chan domain.ConnectivityState),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		close(s.out)
		return s
	}
	m.nextID++
	s.id = m.nextID
	m.subs[s.id] = s
	s.push(m.state)
	m.mu.Unlock()

	go s.pump()
	return s
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close ends every subscription. Later updates are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[uint64]*Subscription)
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (m *Monitor) remove(id uint64) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// Subscription is one listener's view of the state stream.
type Subscription struct {
	id  uint64
	m   *Monitor
	out chan domain.ConnectivityState

	mu      sync.Mutex
	pending []domain.ConnectivityState
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// C returns the state stream. It is closed after Cancel or Monitor.Close.
func (s *Subscription) C() <-chan domain.ConnectivityState { return s.out }

// Cancel deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.m.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// push buffers a state without blocking the caller.
func (s *Subscription) push(state domain.ConnectivityState) {
	s.mu.Lock()
	s.pending = append(s.pending, state)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// pump moves buffered states to the output channel in FIFO order.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
