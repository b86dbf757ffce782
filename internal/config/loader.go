package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "anchord.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.World.ID, "ANCHORD_WORLD_ID")
	setString(&cfg.World.Kind, "ANCHORD_WORLD_KIND")
	setString(&cfg.Telemetry.OTLPEndpoint, "ANCHORD_OTLP_ENDPOINT")
	setString(&cfg.Server.Port, "ANCHORD_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ANCHORD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ANCHORD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ANCHORD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ANCHORD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ANCHORD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ANCHORD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ANCHORD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ANCHORD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ANCHORD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ANCHORD_BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.L1MaxSizeMB, "ANCHORD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "ANCHORD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ANCHORD_CACHE_L2_TTL")

	setDuration(&cfg.Coordinator.HeartbeatInterval, "ANCHORD_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Coordinator.HeartbeatTimeout, "ANCHORD_HEARTBEAT_TIMEOUT")
	setBool(&cfg.Coordinator.ValidityCheckOnStart, "ANCHORD_VALIDITY_CHECK_ON_START")
	setDuration(&cfg.Coordinator.AutoExecuteInterval, "ANCHORD_AUTO_EXECUTE_INTERVAL")
	setInt(&cfg.Coordinator.MaxConcurrentDispatch, "ANCHORD_MAX_CONCURRENT_DISPATCH")
	setDuration(&cfg.Coordinator.InvalidationRetryBackoff, "ANCHORD_INVALIDATION_RETRY_BACKOFF")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.World.Kind != "client" && cfg.World.Kind != "executor" {
		return errors.New("world.kind must be \"client\" or \"executor\"")
	}
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Coordinator.MaxConcurrentDispatch < 1 {
		return errors.New("coordinator.max_concurrent_dispatch must be >= 1")
	}
	if cfg.Coordinator.HeartbeatTimeout <= cfg.Coordinator.HeartbeatInterval {
		return errors.New("coordinator.heartbeat_timeout must exceed heartbeat_interval")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
