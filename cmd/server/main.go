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

	"github.com/dreamup/checkin-agent/internal/app"
	"github.com/dreamup/checkin-agent/internal/config"
	"github.com/dreamup/checkin-agent/internal/db"
	"github.com/dreamup/checkin-agent/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.New())
	if err != nil {
		return err
	}
	cleanup, err := logging.Init(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.ResolveSecret(context.Background()); err != nil {
		return err
	}
	accounts, err := cfg.Accounts()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer a.Close()

	server := NewServer(ctx, a, store, accounts)
	port := fmt.Sprintf("%d", cfg.Server.Port)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("check-in API server starting", "version", version, "addr", "http://localhost:"+port)
		slog.Info("endpoints",
			"submit", "POST /api/runs",
			"list", "GET /api/runs",
			"status", "GET /api/runs/{id}",
			"report", "GET /api/reports/{id}",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	server.Wait()

	slog.Info("server stopped")
	return nil
}
