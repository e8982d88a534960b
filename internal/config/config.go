package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	API      APIConfig
	Worker   WorkerConfig
	Backend  BackendConfig
	Wizard   WizardConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds the submission ledger's database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// QueueConfig holds Redis configuration for sessions, the cache and the event queue
type QueueConfig struct {
	RedisURL  string
	QueueName string
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// WorkerConfig holds ledger worker configuration
type WorkerConfig struct {
	Concurrency   int
	MaxRetryCount int
	MetricsPort   int
}

// BackendConfig holds the membership/communications API client configuration
type BackendConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// WizardConfig holds campaign wizard configuration
type WizardConfig struct {
	SessionTTL          time.Duration
	SubmitTimeout       time.Duration
	SubmitLockTTL       time.Duration
	CampaignCacheTTL    time.Duration
	RatePerMessage      float64
	PreviewSampleSize   int
	BallotPreviewLink   string
	RegisterPreviewLink string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     p.intVar("DB_PORT", 5432),
			User:     getEnv("DB_USER", "console"),
			Password: getEnv("DB_PASSWORD", "console"),
			DBName:   getEnv("DB_NAME", "congregation_console"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:    p.intVar("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    p.intVar("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: p.durationVar("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Queue: QueueConfig{
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QueueName: getEnv("QUEUE_NAME", "console:submission-events"),
		},
		API: APIConfig{
			Port:            p.intVar("API_PORT", 8080),
			ShutdownTimeout: p.durationVar("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:   p.intVar("WORKER_CONCURRENCY", 5),
			MaxRetryCount: p.intVar("MAX_RETRY_COUNT", 3),
			MetricsPort:   p.intVar("WORKER_METRICS_PORT", 9091),
		},
		Backend: BackendConfig{
			BaseURL:  getEnv("BACKEND_URL", "http://localhost:3000"),
			APIToken: os.Getenv("BACKEND_API_TOKEN"),
			Timeout:  p.durationVar("BACKEND_TIMEOUT", 10*time.Second),
		},
		Wizard: WizardConfig{
			SessionTTL:          p.durationVar("SESSION_TTL", 2*time.Hour),
			SubmitTimeout:       p.durationVar("SUBMIT_TIMEOUT", 30*time.Second),
			SubmitLockTTL:       p.durationVar("SUBMIT_LOCK_TTL", time.Minute),
			CampaignCacheTTL:    p.durationVar("CAMPAIGN_CACHE_TTL", 30*time.Second),
			RatePerMessage:      p.floatVar("RATE_PER_MESSAGE", 0.8),
			PreviewSampleSize:   p.intVar("PREVIEW_SAMPLE_SIZE", 3),
			BallotPreviewLink:   getEnv("BALLOT_PREVIEW_LINK", "https://example.org/ballot/preview"),
			RegisterPreviewLink: getEnv("REGISTER_PREVIEW_LINK", "https://example.org/register/preview"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  p.intVar("LOG_MAX_SIZE_MB", 100),
			MaxBackups: p.intVar("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: p.intVar("LOG_MAX_AGE_DAYS", 30),
			Compress:   p.boolVar("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: p.boolVar("METRICS_ENABLED", true),
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL: %q", c.Backend.BaseURL)
	}
	if c.Wizard.SubmitTimeout <= 0 {
		return fmt.Errorf("invalid SUBMIT_TIMEOUT: must be positive")
	}
	if c.Wizard.SubmitLockTTL < c.Wizard.SubmitTimeout {
		return fmt.Errorf("invalid SUBMIT_LOCK_TTL: must be at least SUBMIT_TIMEOUT (%s)", c.Wizard.SubmitTimeout)
	}
	if c.Wizard.RatePerMessage < 0 {
		return fmt.Errorf("invalid RATE_PER_MESSAGE: must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once
type parser struct {
	err error
}

func (p *parser) intVar(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" || p.err != nil {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return defaultValue
	}
	return parsed
}

func (p *parser) floatVar(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" || p.err != nil {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return defaultValue
	}
	return parsed
}

func (p *parser) boolVar(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" || p.err != nil {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return defaultValue
	}
	return parsed
}

func (p *parser) durationVar(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" || p.err != nil {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return defaultValue
	}
	return parsed
}
