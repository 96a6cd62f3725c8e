// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/transferarr/transferarr/internal/config"
	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/executor"
	"github.com/transferarr/transferarr/internal/history"
	"github.com/transferarr/transferarr/internal/manager"
	"github.com/transferarr/transferarr/internal/metrics"
	"github.com/transferarr/transferarr/internal/orchestrator"
	"github.com/transferarr/transferarr/internal/store"
)

func runServeCommand() *cobra.Command {
	var (
		configPath string
		stateDir   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation loop until signalled to stop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("TRANSFERARR_CONFIG")
			}
			if configPath == "" {
				return fmt.Errorf("--config or TRANSFERARR_CONFIG is required")
			}
			if stateDir == "" {
				stateDir = os.Getenv("TRANSFERARR_STATE_DIR")
			}
			if stateDir == "" {
				return fmt.Errorf("--state-dir or TRANSFERARR_STATE_DIR is required")
			}

			return serve(cmd.Context(), configPath, stateDir)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the JSON configuration file")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory for the state file and transfer history log")

	return cmd
}

func serve(ctx context.Context, configPath, stateDir string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	setupLogging(cfg)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("configuration error: create state dir: %w", err)
	}

	st := store.New(filepath.Join(stateDir, "state.json"))
	if err := st.Load(); err != nil {
		return err
	}

	registry, err := endpoint.NewRegistry(cfg.DownloadClients)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	registry.ApplyConnectionRoles(cfg.Connections)
	if err := registry.EnsureAllConnected(ctx); err != nil {
		if !errkind.Transient(err) {
			return fmt.Errorf("configuration error: %w", err)
		}
		log.Warn().Err(err).Msg("[MAIN] One or more endpoints failed initial connect; will retry on first tick")
	}

	adapters, err := manager.NewAdapters(cfg.MediaManagers)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	connections, err := executor.NewConnections(cfg.Connections, registry)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	sink, closeSink, err := buildHistorySink(stateDir)
	if err != nil {
		return err
	}
	defer closeSink()

	executors := make(map[string]*executor.Executor, len(connections))
	execCtx, execCancel := context.WithCancel(ctx)
	defer execCancel()
	for name, conn := range connections {
		exec := executor.NewExecutor(conn, cfg.Workers, st, sink, cfg.ProgressThrottle.Duration, cfg.ShutdownDeadline.Duration)
		exec.Start(execCtx, cfg.Workers)
		executors[name] = exec
	}

	driver := orchestrator.New(orchestrator.Config{
		TickInterval:    cfg.TickInterval.Duration,
		MaxUnclaimed:    cfg.MaxUnclaimed,
		MaxCopyRetry:    cfg.MaxCopyRetry,
		PostIngestTicks: cfg.PostIngestTicks,
		CallTimeout:     cfg.CallTimeout.Duration,
	}, st, registry, adapters, connections, executors, sink)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsServer = startMetricsServer(cfg.MetricsHost, cfg.MetricsPort, st)
	}

	driver.Start(ctx)
	log.Info().Str("config", configPath).Str("stateDir", stateDir).Msg("[MAIN] Transferarr started")

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
		log.Info().Msg("[MAIN] Shutdown signal received, stopping")
	case <-driver.Done():
		log.Error().Msg("[MAIN] Driver halted, shutting down")
	}
	driver.Stop()
	execCancel()
	for _, exec := range executors {
		exec.Stop()
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	// A driver halted by an unwritable state store surfaces that failure
	// here, where exitCodeFor maps it to exit code 2.
	return driver.Err()
}

// setupLogging configures the global zerolog logger from cfg: console
// output by default, a rotating file via lumberjack when LogPath is set.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPath == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// buildHistorySink opens a JSONL sink under stateDir/history.jsonl. A
// failure to open it is not fatal: the sink is best-effort and never
// affects the driver, so NopSink is used instead and the failure is
// logged once at startup.
func buildHistorySink(stateDir string) (history.Sink, func(), error) {
	sink, err := history.NewJSONLSink(filepath.Join(stateDir, "history.jsonl"))
	if err != nil {
		log.Warn().Err(err).Msg("[MAIN] Failed to open history sink, transfer events will not be recorded")
		return history.NopSink{}, func() {}, nil
	}
	return sink, func() { _ = sink.Close() }, nil
}

func startMetricsServer(host string, port int, st *store.Store) *http.Server {
	mgr := metrics.NewManager(st)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mgr.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[MAIN] Metrics server stopped unexpectedly")
		}
	}()
	return srv
}
