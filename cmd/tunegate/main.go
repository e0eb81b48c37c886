// Package main is the entry point for the tunegate proxy. It loads
// configuration, assembles the audio and metadata handlers with their
// middleware stack, starts the HTTP server, and handles graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tunegate/tunegate/internal/admin"
	"github.com/tunegate/tunegate/internal/audio"
	"github.com/tunegate/tunegate/internal/auth"
	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/gateway"
	"github.com/tunegate/tunegate/internal/health"
	"github.com/tunegate/tunegate/internal/logging"
	"github.com/tunegate/tunegate/internal/meta"
	"github.com/tunegate/tunegate/internal/metrics"
	"github.com/tunegate/tunegate/internal/middleware"
	"github.com/tunegate/tunegate/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "configs/tunegate.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No config file is fine; run on defaults.
		if errors.Is(err, os.ErrNotExist) {
			cfg, err = config.LoadFromBytes(nil)
		}
		if err != nil {
			slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	logOutput, closeLog, err := openLogOutput(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to open log output", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"api_base", cfg.Upstream.APIBase,
		"default_source", cfg.Upstream.DefaultSource,
		"audio_hosts", len(cfg.AudioHosts),
		"auth_enabled", cfg.Auth.Enabled,
		"rate_limit_enabled", cfg.RateLimit.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"trusted_proxies", len(cfg.Server.TrustedProxies),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Domain handlers: metadata translation and audio streaming behind
	// the mode-classifying router.
	metaProxy := meta.New(cfg.Upstream, nil, logger)
	audioProxy := audio.New(cfg.TargetPatterns(), cfg.Upstream.FallbackUserAgent, nil, logger)
	router := gateway.New(audioProxy, metaProxy)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → RateLimit → Auth → Router
	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Config reloader: allow-list and rate limiter settings apply live.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		audioProxy.UpdateHosts(newCfg.TargetPatterns())
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	// Probes, metrics, and admin bypass the middleware stack.
	mux := http.NewServeMux()
	health.New(cfg.Upstream.APIBase, logger).RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	if cfg.Admin.Enabled {
		admin.New(reloader, limiter, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/ready",
			cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath,
			cfg.Admin.Enabled && strings.HasPrefix(r.URL.Path, "/admin/"):
			mux.ServeHTTP(w, r)
		default:
			handler.ServeHTTP(w, r)
		}
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     combined,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays 0 unless configured; audio streams run for
		// the length of a track.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting tunegate", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("tunegate stopped gracefully")
}

// openLogOutput resolves the configured log destination. File outputs get
// size-based rotation.
func openLogOutput(cfg config.LoggingConfig) (io.Writer, func(), error) {
	switch cfg.Output {
	case "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		rw, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		return rw, func() { rw.Close() }, nil
	}
}
