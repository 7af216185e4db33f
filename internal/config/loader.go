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
const DefaultConfigFile = "agentgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
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
	setString(&cfg.Server.Host, "AGENTGATE_HOST")
	setString(&cfg.Server.Port, "AGENTGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTGATE_CORS_ORIGIN")
	setString(&cfg.Upstream.Host, "AGENTGATE_UPSTREAM_HOST")
	setString(&cfg.Upstream.Port, "AGENTGATE_UPSTREAM_PORT")
	setString(&cfg.Upstream.Binary, "AGENTGATE_UPSTREAM_BIN")
	setDuration(&cfg.Upstream.StartupTimeout, "AGENTGATE_UPSTREAM_STARTUP_TIMEOUT")
	setDuration(&cfg.Watcher.Backoff, "AGENTGATE_WATCHER_BACKOFF")
	setDuration(&cfg.Watcher.MaxBackoff, "AGENTGATE_WATCHER_MAX_BACKOFF")
	setDuration(&cfg.Stream.PollInterval, "AGENTGATE_STREAM_POLL_INTERVAL")
	setDuration(&cfg.Stream.Heartbeat, "AGENTGATE_STREAM_HEARTBEAT")
	setInt(&cfg.History.DefaultLimit, "AGENTGATE_HISTORY_LIMIT")
	setInt(&cfg.History.MaxLimit, "AGENTGATE_HISTORY_MAX_LIMIT")
	setInt(&cfg.Breaker.MaxFailures, "AGENTGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTGATE_BREAKER_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTGATE_LOG_ASYNC")
	setString(&cfg.Otel.Endpoint, "AGENTGATE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Upstream.Host == "" || cfg.Upstream.Port == "" {
		return errors.New("upstream.host and upstream.port are required")
	}
	if cfg.Upstream.StartupTimeout <= 0 {
		return errors.New("upstream.startup_timeout must be positive")
	}
	if cfg.Watcher.Backoff <= 0 || cfg.Watcher.MaxBackoff < cfg.Watcher.Backoff {
		return errors.New("watcher.backoff must be positive and <= watcher.max_backoff")
	}
	if cfg.Stream.PollInterval <= 0 || cfg.Stream.Heartbeat <= 0 {
		return errors.New("stream.poll_interval and stream.heartbeat must be positive")
	}
	if cfg.History.DefaultLimit < 1 || cfg.History.MaxLimit < cfg.History.DefaultLimit {
		return errors.New("history.default_limit must be >= 1 and <= history.max_limit")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
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
