package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"

	"github.com/vipul43/invoice-worker/internal/api"
	"github.com/vipul43/invoice-worker/internal/app"
	"github.com/vipul43/invoice-worker/internal/config"
	"github.com/vipul43/invoice-worker/internal/logger"
	"github.com/vipul43/invoice-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logg := logger.New(cfg.LogLevel, cfg.LogFormat)

	// One worker per host: orphan recovery assumes no other process is
	// driving batches.
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another invoice-worker holds %s", cfg.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	shutdownTimeout := time.Duration(cfg.ShutdownTimeout) * time.Second

	a, err := app.New(cfg, logg)
	if err != nil {
		return err
	}
	defer a.Close(shutdownTimeout)

	logg.Info("database connected")

	logg.Info("running database migrations")
	if err := a.Migrate(); err != nil {
		return err
	}
	logg.Info("migrations completed")

	w := watcher.New(cfg, a.Store.Batches, a.Orchestrator, logg)

	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(a.Orchestrator, a.Progress, logg), logg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		logg.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-sigChan:
		logg.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.WithError(err).Warn("http server shutdown")
	}

	logg.Info("waiting for running batches")
	return runErr
}
