package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigFileName = "hookrelay.yaml"

type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	LogFile     string `yaml:"log_file"`

	// AdminAPIKey, when set, guards the management endpoints (destination
	// CRUD, pause, replay). It never applies to event ingestion.
	AdminAPIKey string `yaml:"admin_api_key"`

	Delivery  DeliveryConfig  `yaml:"delivery"`
	Smoother  SmootherConfig  `yaml:"smoother"`
	Batcher   BatcherConfig   `yaml:"batcher"`
	Retention RetentionConfig `yaml:"retention"`
}

// DeliveryConfig tunes the dispatcher and its retry policy.
type DeliveryConfig struct {
	Workers         int           `yaml:"workers"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffFactor   float64       `yaml:"backoff_factor"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	PauseCacheTTL   time.Duration `yaml:"pause_cache_ttl"`
	SignatureWindow time.Duration `yaml:"signature_window"`
}

// SmootherConfig tunes per-destination traffic smoothing.
type SmootherConfig struct {
	Window time.Duration `yaml:"window"`
}

// BatcherConfig tunes the delivery log batcher's flush triggers.
type BatcherConfig struct {
	Size     int           `yaml:"size"`
	Interval time.Duration `yaml:"interval"`
}

// RetentionConfig tunes the archiver sweep.
type RetentionConfig struct {
	Window time.Duration `yaml:"window"`
	Every  time.Duration `yaml:"every"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  ":8080",
		DatabaseURL: "postgres://localhost:5432/hookrelay?sslmode=disable",
		NATSURL:     "nats://localhost:4222",
		Delivery: DeliveryConfig{
			Workers:         20,
			Timeout:         5 * time.Second,
			MaxAttempts:     18, // base 4s, doubling: final gap ~6 days, ~2 weeks total
			BackoffBase:     4 * time.Second,
			BackoffFactor:   2.0,
			BackoffMax:      7 * 24 * time.Hour,
			PauseCacheTTL:   60 * time.Second,
			SignatureWindow: 300 * time.Second,
		},
		Smoother: SmootherConfig{
			Window: time.Second,
		},
		Batcher: BatcherConfig{
			Size:     100,
			Interval: 5 * time.Second,
		},
		Retention: RetentionConfig{
			Window: 7 * 24 * time.Hour,
			Every:  time.Hour,
		},
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats_url is required")
	}
	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery.workers must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	if c.Delivery.BackoffFactor < 1 {
		return fmt.Errorf("delivery.backoff_factor must be >= 1")
	}
	if c.Smoother.Window <= 0 {
		return fmt.Errorf("smoother.window must be positive")
	}
	if c.Batcher.Size <= 0 {
		return fmt.Errorf("batcher.size must be positive")
	}
	return nil
}

// Load reads the config file at path (missing file means defaults), then
// applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if addr := os.Getenv("HOOKRELAY_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if dsn := os.Getenv("HOOKRELAY_DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}
	if url := os.Getenv("HOOKRELAY_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if key := os.Getenv("HOOKRELAY_ADMIN_API_KEY"); key != "" {
		cfg.AdminAPIKey = key
	}
	if workers := os.Getenv("HOOKRELAY_DELIVERY_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("parse HOOKRELAY_DELIVERY_WORKERS: %w", err)
		}
		cfg.Delivery.Workers = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
