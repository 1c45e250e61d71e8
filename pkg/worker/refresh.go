package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/models"
)

// taskCreator inserts task rows; implemented by store.TaskStore.
type taskCreator interface {
	Create(ctx context.Context, taskType models.TaskType, payload any) (*models.Task, error)
}

// Refresher keeps the symbol directory current by enqueueing
// system.fetch_exchange_info tasks at startup and on a fixed cadence. The
// refresh runs through the task mailbox like any other work, so it shows up
// in task metrics and survives worker restarts mid-refresh.
type Refresher struct {
	tasks    taskCreator
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefresher(tasks taskCreator, cfg config.WorkerConfig) *Refresher {
	return &Refresher{
		tasks:    tasks,
		interval: cfg.ExchangeInfoRefresh.Std(),
		log:      slog.With("component", "exchange_info_refresher"),
	}
}

// Start enqueues the initial refresh and launches the ticker loop.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	r.enqueue(ctx)
	go r.loop(ctx)
}

// Stop halts the ticker loop.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.enqueue(ctx)
		}
	}
}

func (r *Refresher) enqueue(ctx context.Context) {
	task, err := r.tasks.Create(ctx, models.TaskFetchExchangeInfo, models.ExchangeInfoTaskPayload{})
	if err != nil {
		r.log.Error("Failed to enqueue exchange info refresh", "error", err)
		return
	}
	r.log.Info("Exchange info refresh enqueued", "task_id", task.ID)
}
