// Signald is the alert evaluation service: it mirrors enabled alert configs,
// keeps warm kline caches fed by realtime updates, and persists the signals
// its strategies emit.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/database"
	"github.com/tickwire/tickwire/pkg/events"
	signalengine "github.com/tickwire/tickwire/pkg/signal"
	"github.com/tickwire/tickwire/pkg/signal/strategies"
	"github.com/tickwire/tickwire/pkg/store"
	"github.com/tickwire/tickwire/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $TICKWIRE_CONFIG, then ./config.yaml)")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.Log.Setup()
	slog.Info("Starting signald", "version", version.Full(), "http_port", cfg.Signal.HTTPPort)

	ctx := context.Background()

	// 2. Database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.ShouldMigrate() {
		if err := db.Migrate(ctx); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
	}
	st := store.New(db.Pool())

	// 3. Engine
	registry := strategies.Builtin()
	filler := signalengine.NewFiller(st.Tasks, st.Klines, cfg.Signal)
	engine := signalengine.NewEngine(registry, st.Alerts, st.Signals, st.Realtime, st.Metadata, filler, cfg.Signal)

	// 4. Notification fabric
	dispatcher := events.NewDispatcher(cfg.Events.QueueSize)
	engine.RegisterHandlers(dispatcher)
	filler.RegisterHandlers(dispatcher)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	listener := events.NewNotifyListener(db.DSN(), dispatcher, cfg.Events)
	listener.OnReconnect(func(ctx context.Context) {
		// Alert config changes delivered during the outage are lost.
		if err := engine.Resync(ctx); err != nil {
			slog.Error("Alert resync after reconnect failed", "error", err)
		}
	})
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start notification listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	for _, channel := range dispatcher.Channels() {
		if err := listener.Subscribe(ctx, channel); err != nil {
			slog.Error("Failed to LISTEN", "channel", channel, "error", err)
			os.Exit(1)
		}
	}

	// 5. Load alerts and warm caches
	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start signal engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	// 6. Ops HTTP server
	server := signalengine.NewServer(cfg.Signal.HTTPPort, db, engine)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Signald started")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
