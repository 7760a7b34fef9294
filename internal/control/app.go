package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/offlinesync/internal/connectivity"
	"github.com/vietddude/offlinesync/internal/coordinator"
	"github.com/vietddude/offlinesync/internal/core/config"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/core/worker"
	"github.com/vietddude/offlinesync/internal/executor"
	"github.com/vietddude/offlinesync/internal/health"
	"github.com/vietddude/offlinesync/internal/queue"
	"github.com/vietddude/offlinesync/internal/telemetry"
)

const metricsInterval = 10 * time.Second

// App is the main application struct that manages the sync engine lifecycle.
type App struct {
	cfg          *config.AppConfig
	store        *Store
	sink         telemetry.Sink
	monitor      *connectivity.Monitor
	prober       *connectivity.Prober
	probeCloser  io.Closer
	queue        *queue.Queue
	coordinator  *coordinator.Coordinator
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates a new App instance with all dependencies initialized and the
// persisted queue loaded.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	// 1. Storage
	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	app, err := newApp(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, cfg *config.AppConfig, store *Store) (*App, error) {
	sink := telemetry.NewPrometheus()

	// 2. Connectivity
	initial, err := domain.ParseConnectivityState(cfg.Connectivity.Initial)
	if err != nil {
		return nil, err
	}
	monitor := connectivity.NewMonitor(initial, nil, sink)

	probe, probeCloser, err := newProbe(cfg.Connectivity)
	if err != nil {
		return nil, err
	}
	var prober *connectivity.Prober
	if probe != nil {
		prober = connectivity.NewProber(probe, monitor, connectivity.ProberConfig{
			Interval:         cfg.Connectivity.Interval,
			Timeout:          cfg.Connectivity.Timeout,
			DegradedLatency:  cfg.Connectivity.DegradedLatency,
			FailureThreshold: cfg.Connectivity.FailureThreshold,
		}, nil, sink)
	}

	// 3. Queue
	backoff, err := cfg.Queue.Backoff.Strategy()
	if err != nil {
		return nil, fmt.Errorf("invalid queue backoff: %w", err)
	}
	q := queue.New(queue.Config{
		UrgentThreshold: cfg.Queue.UrgentThreshold,
		Backoff:         backoff,
	}, store, nil, sink)
	if err := q.Load(ctx); err != nil {
		return nil, err
	}

	// 4. Executor & coordinator
	var exec coordinator.Executor = executor.Unconfigured{}
	if cfg.Backend.URL != "" {
		exec = executor.NewHTTPExecutor(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.Headers)
	} else {
		slog.Warn("No backend configured, actions will stay queued")
	}

	policy, err := cfg.Retry.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	coord := coordinator.New(q, monitor, exec, coordinator.Config{
		Retry:     policy,
		RateLimit: cfg.Drain.RateLimit,
		Burst:     cfg.Drain.Burst,
		Interval:  cfg.Drain.Interval,
	}, nil, sink)

	// 5. Health & admin surface
	healthMon := health.NewMonitor(monitor, q, store.Checkers(), nil)
	healthServer := health.NewServer(healthMon, monitor, q, coord, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		store:        store,
		sink:         sink,
		monitor:      monitor,
		prober:       prober,
		probeCloser:  probeCloser,
		queue:        q,
		coordinator:  coord,
		pruner:       worker.NewPruner(cfg.Queue.FailedRetention, q),
		healthMon:    healthMon,
		healthServer: healthServer,
		log:          slog.Default().With("component", "app"),
	}, nil
}

func newProbe(cfg config.ConnectivityConfig) (connectivity.Probe, io.Closer, error) {
	switch cfg.Probe {
	case "http":
		return connectivity.NewHTTPProbe(cfg.ProbeURL), nil, nil
	case "grpc":
		p, err := connectivity.NewGRPCProbe(cfg.ProbeURL, cfg.GRPCService)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, nil
	}
}

// Queue returns the action queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Coordinator returns the sync coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coordinator }

// Connectivity returns the connectivity monitor.
func (a *App) Connectivity() *connectivity.Monitor { return a.monitor }

// Start starts the sync engine and all its components.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Start Health Server
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if a.store.db != nil {
		a.store.db.StartMetricsCollector(ctx)
	}

	if a.prober != nil {
		a.goRun(func() { a.prober.Run(ctx) })
	}

	a.goRun(func() {
		if err := a.coordinator.Run(ctx); err != nil {
			a.log.Error("Drain loop failed", "error", err)
		}
	})

	if a.cfg.Queue.FailedRetention > 0 {
		a.log.Info("Starting pruner", "retention", a.cfg.Queue.FailedRetention)
		a.goRun(func() { a.pruner.Start(ctx) })
	}

	a.goRun(func() { a.runMetricsUpdater(ctx) })

	a.log.Info("Sync engine started",
		"port", a.cfg.Server.Port,
		"storage", a.store.Driver,
		"connectivity", a.monitor.CurrentState(),
		"queued", a.queue.Len(),
	)
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop stops the sync engine. The queue is already persisted after every
// mutation, so stopping only releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping sync engine...")

	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timed out waiting for workers: %w", ctx.Err()))
	}

	// Stop Health Server
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
	}

	a.monitor.Close()

	if a.probeCloser != nil {
		if err := a.probeCloser.Close(); err != nil {
			a.log.Warn("Failed to close probe", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	a.updateMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.updateMetrics()
		}
	}
}

func (a *App) updateMetrics() {
	stats := a.queue.Stats()
	a.sink.RecordQueueStats(stats.Snapshot())
	a.log.Debug("Updating queue metrics", "total", stats.Total, "failed", stats.Failed)
}
