// Marketd is the exchange-adapter worker: it keeps upstream market streams
// in lockstep with the subscription table, writes ticks into realtime_data,
// and executes queued REST tasks (klines, quotes, accounts, exchange info).
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
	"github.com/tickwire/tickwire/pkg/exchange/binance"
	"github.com/tickwire/tickwire/pkg/store"
	"github.com/tickwire/tickwire/pkg/version"
	"github.com/tickwire/tickwire/pkg/worker"
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
	slog.Info("Starting marketd", "version", version.Full(),
		"exchange", cfg.Exchange.Name, "http_port", cfg.Worker.HTTPPort)

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

	// 3. Exchange adapter
	adapter, err := binance.New(cfg.Exchange)
	if err != nil {
		slog.Error("Failed to build exchange adapter", "error", err)
		os.Exit(1)
	}
	slog.Info("Exchange adapter ready", "exchange", adapter.Name(), "signed", cfg.Exchange.Signed())

	// 4. Worker components
	executor := worker.NewExecutor(st.Tasks, st.Klines, st.Accounts, st.ExchangeInfo, adapter, cfg.Worker)
	streams := worker.NewStreamManager(adapter, st.Realtime, cfg.Worker)
	refresher := worker.NewRefresher(st.Tasks, cfg.Worker)
	retention := worker.NewRetention(st.Tasks, st.Signals, cfg.Worker)

	// 5. Notification fabric
	dispatcher := events.NewDispatcher(cfg.Events.QueueSize)
	executor.RegisterHandlers(dispatcher)
	streams.RegisterHandlers(dispatcher)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	listener := events.NewNotifyListener(db.DSN(), dispatcher, cfg.Events)
	listener.OnReconnect(func(ctx context.Context) {
		// Notifications lost during the outage: rebuild streams from the
		// table and pick up any tasks queued meanwhile.
		streams.Resync()
		if err := executor.DrainBacklog(ctx); err != nil {
			slog.Error("Backlog drain after reconnect failed", "error", err)
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

	// 6. Streams up, then the task backlog from before this process existed
	streams.Start(ctx)
	defer streams.Stop()
	if err := executor.DrainBacklog(ctx); err != nil {
		slog.Error("Startup backlog drain failed", "error", err)
	}

	// 7. Background loops
	refresher.Start(ctx)
	defer refresher.Stop()
	retention.Start(ctx)
	defer retention.Stop()

	// 8. Ops HTTP server
	server := worker.NewServer(cfg.Worker.HTTPPort, db)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Marketd started")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
