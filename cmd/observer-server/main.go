// Package main provides the HTTP server for the observer.
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

	"github.com/raphaelgruber/observer/internal/camera"
	"github.com/raphaelgruber/observer/internal/camera/v4l2"
	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/llm"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/server"
	"github.com/raphaelgruber/observer/internal/service"
)

// wiper is implemented by stores that can drop all records.
type wiper interface {
	WipeData(ctx context.Context) error
}

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	if err := run(*wipeDB || os.Getenv("OBSERVER_WIPE_DB") == "true"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until SIGINT/SIGTERM or a listener
// failure. Deferred cleanup runs on every return path.
func run(wipe bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting observer-server",
		"addr", cfg.Addr(),
		"db_type", cfg.DBType,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
		"camera", cfg.CameraDevice,
	)

	mc := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := db.NewStore(ctx, cfg, logger, mc)
	cancel()
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("failed to close record store", "error", err)
		}
	}()

	if wipe {
		w, ok := store.(wiper)
		if !ok {
			return fmt.Errorf("wipe is not supported for database type %s", cfg.DBType)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.WipeData(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to wipe database", "error", err)
			return fmt.Errorf("wipe database: %w", err)
		}
		slog.Warn("database wiped")
	}

	model, err := llm.NewModel(cfg, mc)
	if err != nil {
		slog.Error("failed to create model", "error", err)
		return fmt.Errorf("create model: %w", err)
	}

	format, err := camera.ParsePixelFormat(cfg.CameraFormat)
	if err != nil {
		return fmt.Errorf("invalid camera format: %w", err)
	}
	cam := camera.New(v4l2.Opener(v4l2.Config{
		Device:  cfg.CameraDevice,
		Width:   cfg.CameraWidth,
		Height:  cfg.CameraHeight,
		Format:  format,
		Timeout: cfg.CameraTimeout,
	}), mc)
	defer func() {
		if err := cam.Close(); err != nil {
			slog.Error("failed to release camera", "error", err)
		}
	}()

	e := server.New(server.Deps{
		Store:     store,
		Captures:  service.NewCaptureService(store, cam),
		Inference: service.NewInferenceService(store, model),
		Dashboard: service.NewDashboardService(store, cfg, mc),
		LogFile:   cfg.LogFile,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      e,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("web UI available", "url", fmt.Sprintf("http://%s/", cfg.Addr()))
		slog.Info("dashboard available", "url", fmt.Sprintf("http://%s/dashboard", cfg.Addr()))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		slog.Info("shutting down server...")
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		runErr = fmt.Errorf("server error: %w", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}

	slog.Info("server stopped")
	return runErr
}
