// Gateway serves the client-facing WebSocket API: request routing, fan-out
// of realtime updates and signals, and task dispatch to the exchange worker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/database"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/gateway"
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
	slog.Info("Starting gateway", "version", version.Full(), "http_port", cfg.Gateway.HTTPPort)

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
	publisher := events.NewPublisher(db.Pool())

	// 3. Gateway components
	clients := gateway.NewClientManager(cfg.Gateway.WS)
	subs := gateway.NewSubscriptionManager(st.Realtime, publisher)
	router := gateway.NewTaskRouter(st.Tasks, st.Klines, st.Accounts, clients, cfg.Gateway)
	processor := gateway.NewProcessor(subs, clients, router, st.Realtime)
	handler := gateway.NewRequestHandler(st, subs, router, clients, cfg.Exchange.Name)

	clients.OnDisconnect(subs.DropClient)
	clients.OnDisconnect(func(_ context.Context, clientID uuid.UUID) {
		router.PurgeClient(clientID)
	})

	// 4. Notification fabric
	dispatcher := events.NewDispatcher(cfg.Events.QueueSize)
	processor.RegisterHandlers(dispatcher)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	listener := events.NewNotifyListener(db.DSN(), dispatcher, cfg.Events)
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

	// 5. Reconcile stale state from previous runs
	if err := subs.StartupScrub(ctx); err != nil {
		slog.Error("Failed to scrub stale subscriptions", "error", err)
		os.Exit(1)
	}

	// 6. Task router sweep loop
	router.Start(ctx)
	defer router.Stop()

	// 7. HTTP server
	server := gateway.NewServer(cfg.Gateway, db, clients, handler)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Gateway started")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
