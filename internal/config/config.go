// Package config provides hierarchical configuration loading for AgentGate.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the gateway process.
type Config struct {
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Watcher  Watcher  `yaml:"watcher"`
	Stream   Stream   `yaml:"stream"`
	History  History  `yaml:"history"`
	Breaker  Breaker  `yaml:"breaker"`
	Logging  Logging  `yaml:"logging"`
	Otel     Otel     `yaml:"otel"`
}

// Server holds the gateway's own HTTP bind configuration.
type Server struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Upstream holds the agent runtime subprocess configuration.
type Upstream struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	Binary         string        `yaml:"binary"` // explicit executable path, tried first when set
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// Watcher holds per-project subscription loop configuration.
type Watcher struct {
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Stream holds client event-stream delivery configuration.
type Stream struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
}

// History holds event-log read configuration.
type History struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Breaker holds circuit breaker configuration for upstream RPC calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Otel holds OpenTelemetry export configuration. Tracing and metrics are
// disabled when Endpoint is empty.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:       "127.0.0.1",
			Port:       "8642",
			CORSOrigin: "*",
		},
		Upstream: Upstream{
			Host:           "127.0.0.1",
			Port:           "8643",
			StartupTimeout: 30 * time.Second,
		},
		Watcher: Watcher{
			Backoff:    time.Second,
			MaxBackoff: 15 * time.Second,
		},
		Stream: Stream{
			PollInterval: 250 * time.Millisecond,
			Heartbeat:    15 * time.Second,
		},
		History: History{
			DefaultLimit: 100,
			MaxLimit:     500,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "agentgate",
		},
	}
}
