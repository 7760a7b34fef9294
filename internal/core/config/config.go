package config

import (
	"time"

	redisclient "github.com/vietddude/offlinesync/internal/infra/redis"
	"github.com/vietddude/offlinesync/internal/infra/storage/postgres"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Backend      BackendConfig      `yaml:"backend"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Queue        QueueConfig        `yaml:"queue"`
	Retry        RetryConfig        `yaml:"retry"`
	Drain        DrainConfig        `yaml:"drain"`
	Storage      StorageConfig      `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BackendConfig describes the remote service actions are delivered to.
// An empty URL leaves the executor unconfigured and every action queues.
type BackendConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ConnectivityConfig controls how reachability is determined.
type ConnectivityConfig struct {
	Initial string `yaml:"initial"` // online, limited, offline

	// Probe is "http", "grpc" or "none". With "none" state only changes
	// through the admin API.
	Probe            string        `yaml:"probe"`
	ProbeURL         string        `yaml:"probe_url"`
	GRPCService      string        `yaml:"grpc_service"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	DegradedLatency  time.Duration `yaml:"degraded_latency"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// BackoffConfig selects a delay strategy.
type BackoffConfig struct {
	Type       string        `yaml:"type"`    // exponential, linear, fixed
	Initial    time.Duration `yaml:"initial"` // base delay, step for linear, interval for fixed
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
}

// QueueConfig holds queue ordering and redelivery settings.
type QueueConfig struct {
	UrgentThreshold int           `yaml:"urgent_threshold"`
	Backoff         BackoffConfig `yaml:"backoff"`
	FailedRetention time.Duration `yaml:"failed_retention"` // 0 = keep forever
}

// RetryConfig is the per-drain retry policy. The attempt budget comes from
// each action kind.
type RetryConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Backoff    BackoffConfig `yaml:"backoff"`
	Categories []string      `yaml:"categories"`
}

// DrainConfig paces the drain loop.
type DrainConfig struct {
	Interval  time.Duration `yaml:"interval"`
	RateLimit float64       `yaml:"rate_limit"` // attempts per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
}

// StorageConfig selects where queue snapshots live.
type StorageConfig struct {
	Driver    string             `yaml:"driver"`
	Namespace string             `yaml:"namespace"`
	SQLite    SQLiteConfig       `yaml:"sqlite"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
}

// SQLiteConfig holds the on-device database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}
