package connectivity

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/vietddude/offlinesync/internal/core/clock"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

// ErrDegraded is returned by a probe that reached the backend but got an
// unhealthy answer.
var ErrDegraded = errors.New("backend degraded")

// Probe checks backend reachability once.
type Probe interface {
	Check(ctx context.Context) error
}

// HTTPProbe issues GET requests against a health endpoint.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates an HTTP probe.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, Client: &http.Client{}}
}

// Check implements Probe. 5xx answers are degraded, anything below is healthy.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrDegraded, resp.StatusCode)
	}
	return nil
}

// GRPCProbe calls the standard grpc.health.v1 service.
type GRPCProbe struct {
	Service string

	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewGRPCProbe creates a lazily connecting gRPC health probe. Targets with an
// https:// scheme or port 443 use TLS.
func NewGRPCProbe(endpoint, service string) (*GRPCProbe, error) {
	target := endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &GRPCProbe{
		Service: service,
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
	}, nil
}

// Check implements Probe. A status that did not come from the transport,
// such as Unimplemented from a server without the health service, means the
// backend answered and is reported as degraded.
func (p *GRPCProbe) Check(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		if s, ok := status.FromError(err); ok && !isTransportCode(s.Code()) {
			return fmt.Errorf("%w: %s", ErrDegraded, s.Code())
		}
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrDegraded, resp.GetStatus())
	}
	return nil
}

func isTransportCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}

// Close releases the connection.
func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

// ProberConfig controls probing cadence and classification.
type ProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration

	// DegradedLatency: successful probes slower than this report limited.
	DegradedLatency time.Duration

	// FailureThreshold consecutive transport failures are needed before
	// reporting offline.
	FailureThreshold int
}

// DefaultProberConfig returns the standard prober settings.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		DegradedLatency:  2 * time.Second,
		FailureThreshold: 2,
	}
}

// Prober feeds probe results into a Monitor.
type Prober struct {
	probe   Probe
	monitor *Monitor
	cfg     ProberConfig
	clock   clock.Clock
	sink    telemetry.Sink
	log     *slog.Logger

	failures int
}

// NewProber creates a prober.
func NewProber(probe Probe, monitor *Monitor, cfg ProberConfig, clk clock.Clock, sink telemetry.Sink) *Prober {
	def := DefaultProberConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Prober{
		probe:   probe,
		monitor: monitor,
		cfg:     cfg,
		clock:   clock.OrReal(clk),
		sink:    telemetry.OrNop(sink),
		log:     slog.Default().With("component", "prober"),
	}
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.log.Info("Starting reachability prober", "interval", p.cfg.Interval)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one probe, updates the monitor and returns the classified
// state. Run is the only concurrent caller expected.
func (p *Prober) CheckOnce(ctx context.Context) domain.ConnectivityState {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.clock.Now()
	err := p.probe.Check(probeCtx)
	latency := p.clock.Now().Sub(start)
	p.sink.RecordProbe(latency)

	state := p.classify(err, latency)
	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return p.monitor.CurrentState()
	}
	if err != nil {
		p.log.Debug("Probe failed", "error", err, "consecutive", p.failures, "state", state)
	}
	p.monitor.Update(state)
	return state
}

func (p *Prober) classify(err error, latency time.Duration) domain.ConnectivityState {
	switch {
	case err == nil:
		p.failures = 0
		if p.cfg.DegradedLatency > 0 && latency > p.cfg.DegradedLatency {
			return domain.ConnectivityLimited
		}
		return domain.ConnectivityOnline
	case errors.Is(err, ErrDegraded):
		p.failures = 0
		return domain.ConnectivityLimited
	default:
		p.failures++
		if p.failures >= p.cfg.FailureThreshold {
			return domain.ConnectivityOffline
		}
		return p.monitor.CurrentState()
	}
}
