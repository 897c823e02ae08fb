package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/surgelabs/cascade/internal/config"
	"github.com/surgelabs/cascade/internal/downstream"
	"github.com/surgelabs/cascade/internal/faultinject"
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
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The shared epoch is the sole synchronization primitive: the storefront
	// never asks the generator what scenario minute it is. A zero epoch means
	// "no scenario yet"; the operator rebases via /admin/reset-faults.
	epoch := cfg.StartEpochSeconds
	if epoch == 0 {
		epoch = time.Now().Unix()
	}

	slog.Info("cascade-storefront starting",
		"version", version, "port", cfg.StorefrontPort, "start_epoch_seconds", epoch)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-storefront", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	policies := cfg.FaultPolicies
	if policies == nil {
		policies = faultinject.DefaultPolicies()
	}
	injector := faultinject.New(epoch, policies, cfg.PhaseBoundaries)
	svc := downstream.NewService(injector, logger)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.StorefrontPort),
		Handler:      svc.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("cascade-storefront stopped")
	return nil
}
