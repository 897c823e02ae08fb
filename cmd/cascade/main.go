package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/surgelabs/cascade/internal/config"
	"github.com/surgelabs/cascade/internal/generator"
	"github.com/surgelabs/cascade/internal/history"
	"github.com/surgelabs/cascade/internal/journey"
	"github.com/surgelabs/cascade/internal/model"
	"github.com/surgelabs/cascade/internal/server"
	"github.com/surgelabs/cascade/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CASCADE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("cascade starting", "version", version, "port", cfg.Port, "target", cfg.TargetBaseURL)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Run archive (optional; empty path disables it).
	var archive *history.Store
	if cfg.HistoryDBPath != "" {
		archive, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer func() { _ = archive.Close() }()
	}

	gen := generator.New(generator.Options{
		Journeys:      journey.Defaults(),
		Executor:      journey.NewExecutor(cfg.TargetBaseURL, cfg.StepTimeout, logger),
		Logger:        logger,
		MaxConcurrent: cfg.MaxConcurrent,
		StopGrace:     cfg.StopGrace,
		Archiver:      archiverOrNil(archive),
	})

	handlers := server.NewHandlers(server.HandlersDeps{
		Generator: gen,
		Defaults: model.ScenarioConfig{
			StartEpochSeconds:     cfg.StartEpochSeconds,
			DurationMinutes:       cfg.DurationMinutes,
			BaselineRatePerMinute: cfg.BaselineRatePerMinute,
			PeakRatePerMinute:     cfg.PeakRatePerMinute,
			PhaseBoundaries:       cfg.PhaseBoundaries,
		},
		History:   historyOrNil(archive),
		Logger:    logger,
		Version:   version,
		StopGrace: cfg.StopGrace,
	})

	srv := server.New(server.ServerConfig{
		Handlers:     handlers,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	// Stop any running scenario first so the final counters get archived,
	// then shut the HTTP server down.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopGrace+10*time.Second)
	defer stopCancel()
	if err := gen.Stop(stopCtx); err != nil {
		slog.Warn("generator stop during shutdown", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("cascade stopped")
	return nil
}

// archiverOrNil avoids handing the generator a typed-nil interface value.
func archiverOrNil(s *history.Store) generator.Archiver {
	if s == nil {
		return nil
	}
	return s
}

func historyOrNil(s *history.Store) server.HistoryReader {
	if s == nil {
		return nil
	}
	return s
}
