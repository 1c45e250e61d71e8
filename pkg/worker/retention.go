package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tickwire/tickwire/pkg/config"
)

// retentionStore is the slice of the stores the retention loop touches.
type retentionStore interface {
	PurgeFinished(ctx context.Context, maxAge time.Duration) (int64, error)
	FailStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

type signalPurger interface {
	PurgeOlder(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Retention periodically enforces table growth bounds: finished tasks and
// old signals are purged, stuck tasks are failed so their waiters unblock.
// All operations are idempotent and safe to run from multiple workers.
type Retention struct {
	cfg         config.RetentionConfig
	taskTimeout time.Duration
	tasks       retentionStore
	signals     signalPurger
	log         *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRetention(tasks retentionStore, signals signalPurger, cfg config.WorkerConfig) *Retention {
	return &Retention{
		cfg:         cfg.Retention,
		taskTimeout: cfg.TaskTimeout.Std(),
		tasks:       tasks,
		signals:     signals,
		log:         slog.With("component", "retention"),
	}
}

// Start launches the background retention loop.
func (r *Retention) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	r.log.Info("Retention started",
		"task_ttl", r.cfg.TaskTTL.Std(),
		"signal_ttl", r.cfg.SignalTTL.Std(),
		"interval", r.cfg.Interval.Std())
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Retention) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.log.Info("Retention stopped")
}

func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	interval := r.cfg.Interval.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAll(ctx)
		}
	}
}

func (r *Retention) runAll(ctx context.Context) {
	r.failStaleTasks(ctx)
	r.purgeTasks(ctx)
	r.purgeSignals(ctx)
}

// failStaleTasks sweeps tasks stuck past twice the execution budget. The
// status flip fires task.failed, unblocking any waiter still listening.
func (r *Retention) failStaleTasks(ctx context.Context) {
	if r.taskTimeout <= 0 {
		return
	}
	count, err := r.tasks.FailStale(ctx, 2*r.taskTimeout)
	if err != nil {
		r.log.Error("Retention: stale task sweep failed", "error", err)
		return
	}
	if count > 0 {
		r.log.Warn("Retention: failed stale tasks", "count", count)
	}
}

func (r *Retention) purgeTasks(ctx context.Context) {
	if r.cfg.TaskTTL.Std() <= 0 {
		return
	}
	count, err := r.tasks.PurgeFinished(ctx, r.cfg.TaskTTL.Std())
	if err != nil {
		r.log.Error("Retention: task purge failed", "error", err)
		return
	}
	if count > 0 {
		r.log.Info("Retention: purged finished tasks", "count", count)
	}
}

func (r *Retention) purgeSignals(ctx context.Context) {
	if r.cfg.SignalTTL.Std() <= 0 {
		return
	}
	count, err := r.signals.PurgeOlder(ctx, r.cfg.SignalTTL.Std())
	if err != nil {
		r.log.Error("Retention: signal purge failed", "error", err)
		return
	}
	if count > 0 {
		r.log.Info("Retention: purged old signals", "count", count)
	}
}
