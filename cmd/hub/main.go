// Inferoxy Hub — chat and text-to-image front for the token proxy.
//
// Configuration comes from an optional YAML file (-config) plus
// environment variables; see pkg/config. The proxy API key is taken from
// PROXY_KEY only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdhe/inferoxy-hub/pkg/config"
	"github.com/abdhe/inferoxy-hub/pkg/executor"
	"github.com/abdhe/inferoxy-hub/pkg/hub"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
	"github.com/abdhe/inferoxy-hub/pkg/resilience"
	"github.com/abdhe/inferoxy-hub/pkg/session"
	"github.com/abdhe/inferoxy-hub/pkg/tokenproxy"
)

func main() {
	configPath := flag.String("config", "hub.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is a local-dev convenience; missing file is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("hub exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// Token proxy client with a breaker so a dead proxy fails fast.
	proxyClient := tokenproxy.NewClient(tokenproxy.ClientConfig{
		BaseURL: cfg.Proxy.BaseURL,
		APIKey:  cfg.Proxy.APIKey,
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		Logger:  logger,
	})
	reporter := tokenproxy.NewReporter(proxyClient, tokenproxy.ReporterConfig{Logger: logger})

	exec := executor.New(proxyClient, reporter, executor.Config{
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})

	inferenceClient := &http.Client{Timeout: cfg.RequestTimeout}
	chatAdapter := provider.NewRouterClient(inferenceClient, cfg.RouterURL)
	imageAdapter := provider.NewImageClient(inferenceClient, cfg.ImageURL)

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		store := session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB, cfg.Session.TTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer store.Close()
		sessions = store
		logger.Info("session store: redis", "addr", cfg.Session.RedisAddr, "ttl", cfg.Session.TTL)
	default:
		sessions = session.NewMemoryStore()
		logger.Info("session store: memory")
	}

	h := hub.New(exec, chatAdapter, imageAdapter, sessions, logger)
	srv := hub.NewServer(h, hub.ServerConfig{
		AllowedOrgs:       cfg.AllowedOrgs,
		DefaultChatModel:  cfg.DefaultChatModel,
		DefaultImageModel: cfg.DefaultImageModel,
		Logger:            logger,
	})

	hubServer := &http.Server{
		Addr:        cfg.Listen,
		Handler:     srv.Routes(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: chat responses stream for as long as the
		// model generates.
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	metricsServer := &http.Server{
		Addr:         cfg.MetricsListen,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("hub listening", "addr", cfg.Listen)
		if err := hubServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("hub server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := hubServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}

	// Flush pending outcome reports so the proxy's bookkeeping stays
	// accurate across restarts.
	if err := reporter.Close(shutdownCtx); err != nil {
		logger.Warn("report queue drain incomplete", "error", err)
	}

	logger.Info("hub stopped")
	return nil
}
