// Command mailbox-worker answers mailbox requests until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	mailbox "github.com/goliatone/go-mailbox"
	mailboxprom "github.com/goliatone/go-mailbox/adapters/prometheus"
	"github.com/goliatone/go-mailbox/handlers"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "mailbox.config.json", "path to the JSON config file")
	metricsAddr := flag.String("metrics-addr", "", "address for the Prometheus /metrics listener; empty disables it")
	logFormat := flag.String("log-format", "console", "log output format: console, pretty or json")
	logLevel := flag.String("log-level", "info", "minimum log level: trace, debug, info, warn or error")
	flag.Parse()

	logger := newLogger(*logFormat, *logLevel, os.Stdout)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *metricsAddr); err != nil {
		logger.Error("mailbox worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *glog.BaseLogger, configPath string, metricsAddr string) error {
	cfg, err := mailbox.LoadConfig(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, err := openStores(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Warn("close store failed", "error", closeErr)
		}
	}()

	opts := []mailbox.Option{
		mailbox.WithConfig(cfg),
		mailbox.WithLoggerProvider(logger),
	}
	registry := prometheus.NewRegistry()
	if strings.TrimSpace(metricsAddr) != "" {
		opts = append(opts, mailbox.WithMetrics(mailboxprom.NewRecorder(registry)))
	}

	box, err := mailbox.New(backend.docs, backend.blobs, opts...)
	if err != nil {
		return fmt.Errorf("build mailbox: %w", err)
	}
	if err := box.Handle("/ping", handlers.Static("pong")); err != nil {
		return err
	}
	if snapshot := strings.TrimSpace(os.Getenv("MAILBOX_SNAPSHOT_PATH")); snapshot != "" {
		if err := box.Handle("/monitor/pic/shot", handlers.File(snapshot)); err != nil {
			return err
		}
	}

	if strings.TrimSpace(metricsAddr) != "" {
		server := serveMetrics(logger, metricsAddr, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("mailbox worker listening",
		"service", cfg.ServiceName,
		"store", cfg.Store.NormalizedKind(),
		"poll_interval", cfg.PollInterval.String(),
	)
	if err := box.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(logger glog.Logger, addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	return server
}
