package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	aghttp "github.com/codelens-dev/agentgate/internal/adapter/http"
	"github.com/codelens-dev/agentgate/internal/adapter/opencode"
	agotel "github.com/codelens-dev/agentgate/internal/adapter/otel"
	"github.com/codelens-dev/agentgate/internal/adapter/ws"
	"github.com/codelens-dev/agentgate/internal/config"
	"github.com/codelens-dev/agentgate/internal/logger"
	"github.com/codelens-dev/agentgate/internal/middleware"
	"github.com/codelens-dev/agentgate/internal/resilience"
	"github.com/codelens-dev/agentgate/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"upstream_port", cfg.Upstream.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	otelShutdown, err := agotel.Init(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	// --- Upstream runtime ---
	// The gateway accepts no client traffic until the runtime is up; a
	// startup failure here is fatal to the whole process.
	supervisor := opencode.NewSupervisor(cfg.Upstream)
	handle, err := supervisor.Start(ctx)
	if err != nil {
		return fmt.Errorf("upstream runtime: %w", err)
	}
	defer handle.Close()

	client := opencode.NewClient(handle.URL)
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	metrics, err := agotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	registry := service.NewRegistry(client, cfg.Watcher, metrics)
	defer registry.Close()

	// --- HTTP ---
	handlers := &aghttp.Handlers{
		Registry:    registry,
		WS:          ws.NewStreamer(registry, cfg.Stream.PollInterval, cfg.Stream.Heartbeat),
		History:     cfg.History,
		Stream:      cfg.Stream,
		Metrics:     metrics,
		UpstreamURL: handle.URL,
		StartedAt:   time.Now(),
	}

	r := chi.NewRouter()

	r.Use(aghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(aghttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(agotel.HTTPMiddleware(cfg.Logging.Service))

	handlers.MountRoutes(r)

	addr := cfg.Server.Host + ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: event streams stay open for the client's lifetime.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "upstream", handle.URL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
