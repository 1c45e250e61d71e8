package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// fillTaskCreator inserts get_klines tasks; implemented by store.TaskStore.
type fillTaskCreator interface {
	Create(ctx context.Context, taskType models.TaskType, payload any) (*models.Task, error)
}

// historyReader serves the post-fill cache reads; implemented by
// store.KlineStore.
type historyReader interface {
	RecentBars(ctx context.Context, symbol, interval string, n int) ([]models.Bar, error)
}

// monthApproxMillis stands in for the calendar-stepped monthly interval
// when sizing a backfill window.
const monthApproxMillis = 31 * 24 * time.Hour / time.Millisecond

// Filler acquires warm history for a series by issuing get_klines tasks to
// the exchange worker and waiting for their completions. It shares the
// task.completed / task.failed channels with the gateway; completions for
// tasks it did not create are ignored.
type Filler struct {
	tasks  fillTaskCreator
	klines historyReader
	cfg    config.SignalConfig
	log    *slog.Logger

	mu      sync.Mutex
	waiters map[int64]chan error
}

func NewFiller(tasks fillTaskCreator, klines historyReader, cfg config.SignalConfig) *Filler {
	return &Filler{
		tasks:   tasks,
		klines:  klines,
		cfg:     cfg,
		log:     slog.With("component", "history_filler"),
		waiters: make(map[int64]chan error),
	}
}

// RegisterHandlers binds the filler to the dispatcher.
func (f *Filler) RegisterHandlers(d *events.Dispatcher) {
	d.Handle(events.ChannelTaskCompleted, f.handleCompleted)
	d.Handle(events.ChannelTaskFailed, f.handleFailed)
}

func (f *Filler) handleCompleted(_ context.Context, env events.Envelope) error {
	var ev events.TaskEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	f.resolve(ev.ID, nil)
	return nil
}

func (f *Filler) handleFailed(_ context.Context, env events.Envelope) error {
	var ev events.TaskEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	cause := ev.Error
	if cause == "" {
		cause = "fill task failed"
	}
	f.resolve(ev.ID, errors.New(cause))
	return nil
}

// Fill returns a ready bar window for the series, issuing backfill tasks
// until the table holds enough contiguous history. It blocks between
// rounds and respects the configured attempt budget.
func (f *Filler) Fill(ctx context.Context, symbol, interval string) ([]models.Bar, error) {
	for attempt := 1; ; attempt++ {
		bars, err := f.klines.RecentBars(ctx, symbol, interval, f.cfg.CacheCapacity)
		if err != nil {
			return nil, err
		}
		if len(bars) >= f.cfg.RequiredKlines && contiguous(bars, interval) {
			return bars, nil
		}

		if f.cfg.FillMaxAttempts > 0 && attempt > f.cfg.FillMaxAttempts {
			return nil, fmt.Errorf("history for %s %s still short after %d fills (%d/%d bars)",
				symbol, interval, f.cfg.FillMaxAttempts, len(bars), f.cfg.RequiredKlines)
		}

		if err := f.requestFill(ctx, symbol, interval); err != nil {
			f.log.Warn("History fill round failed", "symbol", symbol, "interval", interval,
				"attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.cfg.FillRetryDelay.Std()):
		}
	}
}

// requestFill issues one get_klines task and waits for its terminal event,
// bounded by the fill wait. A timeout is not fatal: the bars may have
// landed anyway, and the caller re-probes the table.
func (f *Filler) requestFill(ctx context.Context, symbol, interval string) error {
	now := time.Now().UnixMilli()
	span, ok := subkey.IntervalMillis(interval)
	if !ok {
		span = int64(monthApproxMillis)
	}
	from := now - int64(f.cfg.FillBatchLimit)*span

	task, err := f.tasks.Create(ctx, models.TaskGetKlines, models.KlinesTaskPayload{
		Symbol:   symbol,
		Interval: interval,
		FromTime: from,
		ToTime:   now,
		Limit:    f.cfg.FillBatchLimit,
	})
	if err != nil {
		return fmt.Errorf("create fill task: %w", err)
	}
	metrics.SignalFillTasks.Inc()
	f.log.Info("History fill requested", "symbol", symbol, "interval", interval, "task_id", task.ID)

	ch := f.register(task.ID)
	defer f.forget(task.ID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	case <-time.After(f.cfg.FillWait.Std()):
		f.log.Warn("History fill wait elapsed", "task_id", task.ID)
		return nil
	}
}

func (f *Filler) register(taskID int64) chan error {
	ch := make(chan error, 1)
	f.mu.Lock()
	f.waiters[taskID] = ch
	f.mu.Unlock()
	return ch
}

func (f *Filler) forget(taskID int64) {
	f.mu.Lock()
	delete(f.waiters, taskID)
	f.mu.Unlock()
}

func (f *Filler) resolve(taskID int64, err error) {
	f.mu.Lock()
	ch, ok := f.waiters[taskID]
	if ok {
		delete(f.waiters, taskID)
	}
	f.mu.Unlock()
	if ok {
		ch <- err
	}
}
