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

	"github.com/spf13/cobra"

	"github.com/terra-clan/mission-bot/internal/api"
	"github.com/terra-clan/mission-bot/internal/config"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/syncer"
)

// httpWriteTimeout bounds a response; POST /sync answers only once the whole
// tick is done
const httpWriteTimeout = 5 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync loop and the admin API until interrupted",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	slog.Info("starting mission-bot",
		"backend", cfg.Backend,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"interval", cfg.Sync.Interval,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), initTimeout)
	defer initCancel()

	store, err := openServeStore(initCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open mission store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("store close error", "error", err)
		}
	}()

	// Without a working Discord session there is nothing to publish to
	publisher, err := connectDiscord(initCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("discord close error", "error", err)
		}
	}()

	registry, hub := buildNotifiers(cfg)
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("notifier close error", "error", err)
		}
	}()

	validator := newValidator(cfg)

	loop := syncer.NewSyncer(syncer.Deps{
		Source:    store,
		Sink:      store,
		Publisher: publisher,
		Validator: validator,
		Notifier:  registry,
	}, syncer.Config{
		Interval:  cfg.Sync.Interval,
		IOTimeout: cfg.Sync.IOTimeout,
	})

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)

	// New rows wake the loop early; the ticker still covers missed hints
	if cfg.Backend == config.BackendPostgres && cfg.Database.Listen {
		listener := storage.NewListener(cfg.Database.DSN, storage.DefaultNotifyChannel, func(missionID string) {
			slog.Debug("waking sync loop", "mission_id", missionID)
			loop.Trigger()
		})
		if err := listener.Start(ctx); err != nil {
			slog.Warn("mission listener disabled, relying on the ticker", "error", err)
		}
	}

	// Setup HTTP server
	server := api.NewServer(cfg.Server, api.Deps{
		Store:     store,
		Publisher: publisher,
		Syncer:    loop,
		Validator: validator,
		Hub:       hub,
		Health:    registry,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down gracefully...", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("HTTP server error", "error", err)
	}

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("mission-bot stopped")
	return nil
}
