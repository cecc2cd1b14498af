package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// configuration for the service

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP    HTTPConfig
	Storage StorageConfig
	DB      DBConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type HTTPConfig struct {
	Port int
}

type StorageConfig struct {
	// Driver selects the sink adapter: sqlite (default, standalone) or postgres.
	Driver     string
	SQLitePath string
}

type DBConfig struct {
	DatabaseURL string

	MinConns          int32
	MaxConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration

	ConnectTimeout time.Duration
}

type IngestConfig struct {
	// BatchSize caps how many events one flush commits.
	BatchSize int
	// FlushInterval is the wait between flush cycles.
	FlushInterval time.Duration
	// BackoffDelay is the extra wait after a failed flush.
	BackoffDelay time.Duration
	// CommitTimeout bounds one commit attempt against the store.
	CommitTimeout time.Duration
	// FaultInjectionDelay, when > 0, delays every commit attempt to simulate
	// an unavailable store. Test-only knob, off by default.
	FaultInjectionDelay time.Duration
	// BufferCapacity bounds the in-memory buffer; 0 keeps it unbounded.
	BufferCapacity int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (Config, error) {
	var cfg Config

	// HTTP
	cfg.HTTP.Port = envInt("PORT", 8080)

	// Storage
	cfg.Storage.Driver = envString("STORAGE_DRIVER", DriverSQLite)
	cfg.Storage.SQLitePath = envString("SQLITE_PATH", "firehose.db")

	cfg.DB.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DB.MaxConns = int32(envInt("DB_MAX_CONNS", 20))
	cfg.DB.MinConns = int32(envInt("DB_MIN_CONNS", 5))
	cfg.DB.MaxConnIdleTime = envDuration("DB_MAX_CONN_IDLE_TIME", 2*time.Minute)
	cfg.DB.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.DB.HealthCheckPeriod = envDuration("DB_HEALTHCHECK_PERIOD", 30*time.Second)
	cfg.DB.ConnectTimeout = envDuration("DB_CONNECT_TIMEOUT", 3*time.Second)

	// Ingest
	cfg.Ingest.BatchSize = envInt("BATCH_SIZE", 100)
	cfg.Ingest.FlushInterval = envDuration("FLUSH_INTERVAL", 2*time.Second)
	cfg.Ingest.BackoffDelay = envDuration("BACKOFF_DELAY", time.Second)
	cfg.Ingest.CommitTimeout = envDuration("COMMIT_TIMEOUT", 5*time.Second)
	cfg.Ingest.FaultInjectionDelay = envDuration("FAULT_INJECTION_DELAY", 0)
	cfg.Ingest.BufferCapacity = envInt("BUFFER_CAPACITY", 0)

	// Log
	cfg.Log.Level = envString("LOG_LEVEL", "info")
	cfg.Log.Format = envString("LOG_FORMAT", "json")

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	// HTTP
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535 (got %d)", cfg.HTTP.Port)
	}

	// Storage
	switch cfg.Storage.Driver {
	case DriverSQLite:
		if cfg.Storage.SQLitePath == "" {
			return errors.New("SQLITE_PATH must not be empty")
		}
	case DriverPostgres:
		if cfg.DB.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be sqlite or postgres (got %q)", cfg.Storage.Driver)
	}

	// DB (only checked when postgres is selected)
	if cfg.Storage.Driver == DriverPostgres {
		if cfg.DB.MaxConns <= 0 {
			return fmt.Errorf("DB_MAX_CONNS must be > 0 (got %d)", cfg.DB.MaxConns)
		}
		if cfg.DB.MinConns < 0 {
			return fmt.Errorf("DB_MIN_CONNS must be >= 0 (got %d)", cfg.DB.MinConns)
		}
		if cfg.DB.MinConns > cfg.DB.MaxConns {
			return fmt.Errorf("DB_MIN_CONNS must be <= DB_MAX_CONNS (min=%d max=%d)", cfg.DB.MinConns, cfg.DB.MaxConns)
		}
		if cfg.DB.MaxConnIdleTime < 0 {
			return fmt.Errorf("DB_MAX_CONN_IDLE_TIME must be >= 0 (got %s)", cfg.DB.MaxConnIdleTime)
		}
		if cfg.DB.MaxConnLifetime < 0 {
			return fmt.Errorf("DB_MAX_CONN_LIFETIME must be >= 0 (got %s)", cfg.DB.MaxConnLifetime)
		}
		if cfg.DB.HealthCheckPeriod <= 0 {
			return fmt.Errorf("DB_HEALTHCHECK_PERIOD must be > 0 (got %s)", cfg.DB.HealthCheckPeriod)
		}
		if cfg.DB.ConnectTimeout <= 0 {
			return fmt.Errorf("DB_CONNECT_TIMEOUT must be > 0 (got %s)", cfg.DB.ConnectTimeout)
		}
	}

	// Ingest
	if cfg.Ingest.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be > 0 (got %d)", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be > 0 (got %s)", cfg.Ingest.FlushInterval)
	}
	if cfg.Ingest.BackoffDelay <= 0 {
		return fmt.Errorf("BACKOFF_DELAY must be > 0 (got %s)", cfg.Ingest.BackoffDelay)
	}
	if cfg.Ingest.CommitTimeout <= 0 {
		return fmt.Errorf("COMMIT_TIMEOUT must be > 0 (got %s)", cfg.Ingest.CommitTimeout)
	}
	if cfg.Ingest.FaultInjectionDelay < 0 {
		return fmt.Errorf("FAULT_INJECTION_DELAY must be >= 0 (got %s)", cfg.Ingest.FaultInjectionDelay)
	}
	if cfg.Ingest.BufferCapacity < 0 {
		return fmt.Errorf("BUFFER_CAPACITY must be >= 0 (got %d)", cfg.Ingest.BufferCapacity)
	}

	// Log
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console (got %q)", cfg.Log.Format)
	}

	return nil
}

func envString(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// it panics if the value is set but invalid
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer (got %q)", key, val))
	}
	return n
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid duration (e.g. 200ms, 2s, 1m). got %q", key, val))
	}
	return d
}
