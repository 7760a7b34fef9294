package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.Connectivity.Initial == "" {
		c.Connectivity.Initial = string(domain.ConnectivityOffline)
	}
	if c.Connectivity.Probe == "" {
		c.Connectivity.Probe = "none"
		if c.Connectivity.ProbeURL != "" {
			c.Connectivity.Probe = "http"
		}
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = 10 * time.Second
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 5 * time.Second
	}
	if c.Connectivity.DegradedLatency == 0 {
		c.Connectivity.DegradedLatency = 2 * time.Second
	}
	if c.Connectivity.FailureThreshold == 0 {
		c.Connectivity.FailureThreshold = 2
	}

	if c.Queue.UrgentThreshold == 0 {
		c.Queue.UrgentThreshold = 90
	}
	c.Queue.Backoff.applyDefaults()

	if c.Retry.Timeout == 0 {
		c.Retry.Timeout = 2 * time.Minute
	}
	c.Retry.Backoff.applyDefaults()

	if c.Drain.Interval == 0 {
		c.Drain.Interval = 5 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "default"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "offlinesync.db"
	}
}

func (b *BackoffConfig) applyDefaults() {
	if b.Type == "" {
		b.Type = "exponential"
	}
	if b.Initial == 0 {
		b.Initial = time.Second
	}
	if b.Multiplier == 0 {
		b.Multiplier = 2
	}
	if b.Max == 0 {
		b.Max = time.Minute
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	if _, err := domain.ParseConnectivityState(c.Connectivity.Initial); err != nil {
		return fmt.Errorf("connectivity.initial: %w", err)
	}
	switch c.Connectivity.Probe {
	case "none":
	case "http", "grpc":
		if c.Connectivity.ProbeURL == "" {
			return fmt.Errorf("connectivity.probe_url is required for %s probe", c.Connectivity.Probe)
		}
	default:
		return fmt.Errorf("connectivity.probe: unknown probe %q", c.Connectivity.Probe)
	}

	if _, err := c.Queue.Backoff.Strategy(); err != nil {
		return fmt.Errorf("queue.backoff: %w", err)
	}
	if _, err := c.Retry.Backoff.Strategy(); err != nil {
		return fmt.Errorf("retry.backoff: %w", err)
	}
	for _, name := range c.Retry.Categories {
		if retry.ParseCategory(name) == retry.CategoryUnknown {
			return fmt.Errorf("retry.categories: unknown category %q", name)
		}
	}
	if c.Drain.RateLimit < 0 {
		return fmt.Errorf("drain.rate_limit must not be negative")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.Database.URL == "" {
			return fmt.Errorf("storage.database.url is required for postgres")
		}
	case DriverRedis:
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("storage.redis.url is required for redis")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}

// Strategy builds the configured delay strategy.
func (b BackoffConfig) Strategy() (retry.Strategy, error) {
	switch b.Type {
	case "exponential":
		return retry.Exponential{Base: b.Initial, Multiplier: b.Multiplier, Cap: b.Max}, nil
	case "linear":
		return retry.Linear{Step: b.Initial}, nil
	case "fixed":
		return retry.Fixed{Interval: b.Initial}, nil
	default:
		return nil, fmt.Errorf("unknown backoff type %q", b.Type)
	}
}

// Policy builds the drain retry policy.
func (r RetryConfig) Policy() (retry.Policy, error) {
	strategy, err := r.Backoff.Strategy()
	if err != nil {
		return retry.Policy{}, err
	}
	p := retry.Policy{
		Strategy: strategy,
		Timeout:  r.Timeout,
	}
	for _, name := range r.Categories {
		p.RetryableCategories = append(p.RetryableCategories, retry.ParseCategory(name))
	}
	return p, nil
}
