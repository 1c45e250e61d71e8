package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/exchange"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// klinePageLimit is the upstream page size for historical backfills.
const klinePageLimit = 1000

// taskStore is the slice of store.TaskStore the executor needs.
type taskStore interface {
	Claim(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, result any) error
	Fail(ctx context.Context, id int64, cause string) error
	Get(ctx context.Context, id int64) (*models.Task, error)
	ListPending(ctx context.Context, limit int) ([]models.Task, error)
}

type klineWriter interface {
	BatchUpsert(ctx context.Context, symbol, interval string, bars []models.Bar) (int, error)
}

type accountWriter interface {
	Upsert(ctx context.Context, accountType string, data json.RawMessage) error
}

type symbolReplacer interface {
	ReplaceMarket(ctx context.Context, exchange, marketType string, symbols []models.SymbolInfo) error
}

// Executor claims and runs task rows. It is driven by task.new notifications
// plus a startup/reconnect backlog scan, so tasks created while the listener
// was down still run.
type Executor struct {
	tasks    taskStore
	klines   klineWriter
	accounts accountWriter
	symbols  symbolReplacer
	adapter  exchange.Adapter
	timeout  config.Duration
	quoteN   int
	log      *slog.Logger
}

func NewExecutor(tasks taskStore, klines klineWriter, accounts accountWriter, symbols symbolReplacer, adapter exchange.Adapter, cfg config.WorkerConfig) *Executor {
	quoteN := cfg.QuoteConcurrency
	if quoteN <= 0 {
		quoteN = 4
	}
	return &Executor{
		tasks:    tasks,
		klines:   klines,
		accounts: accounts,
		symbols:  symbols,
		adapter:  adapter,
		timeout:  cfg.TaskTimeout,
		quoteN:   quoteN,
		log:      slog.With("component", "task_executor"),
	}
}

// RegisterHandlers binds the executor to the dispatcher.
func (e *Executor) RegisterHandlers(d *events.Dispatcher) {
	d.Handle(events.ChannelTaskNew, e.handleNew)
}

func (e *Executor) handleNew(ctx context.Context, env events.Envelope) error {
	var ev events.TaskEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}

	payload := ev.Payload
	if env.Truncated || len(payload) == 0 {
		task, err := e.tasks.Get(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("read task %d: %w", ev.ID, err)
		}
		payload = task.Payload
	}

	e.Execute(ctx, ev.ID, ev.Type, payload)
	return nil
}

// DrainBacklog claims and runs every pending task, oldest first. Run at
// startup and after notification reconnects.
func (e *Executor) DrainBacklog(ctx context.Context) error {
	tasks, err := e.tasks.ListPending(ctx, 100)
	if err != nil {
		return fmt.Errorf("scan task backlog: %w", err)
	}
	if len(tasks) > 0 {
		e.log.Info("Draining task backlog", "count", len(tasks))
	}
	for _, t := range tasks {
		e.Execute(ctx, t.ID, t.Type, t.Payload)
	}
	return nil
}

// Execute claims the task, runs it under the per-task budget, and records
// the terminal state. Losing the claim race is silent: another worker owns
// the task.
func (e *Executor) Execute(ctx context.Context, id int64, taskType models.TaskType, payload json.RawMessage) {
	claimed, err := e.tasks.Claim(ctx, id)
	if err != nil {
		e.log.Error("Task claim failed", "task_id", id, "error", err)
		return
	}
	if !claimed {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout.Std())
	defer cancel()

	result, err := e.runSafely(runCtx, taskType, payload)
	if err != nil {
		e.log.Warn("Task failed", "task_id", id, "type", taskType, "error", err)
		metrics.TasksProcessed.WithLabelValues(string(taskType), "failed").Inc()
		if failErr := e.tasks.Fail(ctx, id, err.Error()); failErr != nil {
			e.log.Error("Recording task failure failed", "task_id", id, "error", failErr)
		}
		return
	}

	if err := e.tasks.Complete(ctx, id, result); err != nil {
		e.log.Error("Recording task result failed", "task_id", id, "error", err)
		return
	}
	metrics.TasksProcessed.WithLabelValues(string(taskType), "completed").Inc()
	e.log.Debug("Task completed", "task_id", id, "type", taskType)
}

// runSafely contains panics from task handlers; a panicking task fails
// instead of taking the worker down.
func (e *Executor) runSafely(ctx context.Context, taskType models.TaskType, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Task handler panicked", "type", taskType,
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return e.run(ctx, taskType, payload)
}

func (e *Executor) run(ctx context.Context, taskType models.TaskType, payload json.RawMessage) (any, error) {
	switch taskType {
	case models.TaskGetKlines:
		return e.runKlines(ctx, payload)
	case models.TaskGetQuotes:
		return e.runQuotes(ctx, payload)
	case models.TaskGetServerTime:
		ts, err := e.adapter.ServerTime(ctx)
		if err != nil {
			return nil, err
		}
		return models.ServerTimeResult{ServerTime: ts}, nil
	case models.TaskGetSpotAccount:
		return e.runAccount(ctx, subkey.MarketSpot)
	case models.TaskGetFuturesAccount:
		return e.runAccount(ctx, subkey.MarketFutures)
	case models.TaskFetchExchangeInfo:
		return e.runExchangeInfo(ctx, payload)
	default:
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
}

// runKlines backfills klines_history page by page. The bars are the real
// product; the result is only a summary for observability and the completion
// notification.
func (e *Executor) runKlines(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.KlinesTaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode klines payload: %w", err)
	}

	_, native, suffix, err := subkey.SplitCanonicalSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	market := subkey.MarketSpot
	if suffix == subkey.SuffixPerpetual {
		market = subkey.MarketFutures
	}
	nativeInterval, err := subkey.NativeInterval(p.Interval)
	if err != nil {
		return nil, err
	}

	result := models.KlinesTaskResult{Symbol: p.Symbol, Interval: p.Interval}
	from := subkey.AlignOpenTime(p.FromTime, p.Interval)
	remaining := p.Limit

	for {
		pageLimit := klinePageLimit
		if remaining > 0 && remaining < pageLimit {
			pageLimit = remaining
		}

		bars, err := e.adapter.Klines(ctx, exchange.KlinesQuery{
			Market:   market,
			Symbol:   native,
			Interval: nativeInterval,
			FromMs:   from,
			ToMs:     p.ToTime,
			Limit:    pageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s: %w", p.Symbol, p.Interval, err)
		}
		if len(bars) == 0 {
			break
		}

		if _, err := e.klines.BatchUpsert(ctx, p.Symbol, p.Interval, bars); err != nil {
			return nil, err
		}

		if result.Count == 0 {
			result.FirstOpenTime = bars[0].OpenTime
		}
		result.Count += len(bars)
		result.LastOpenTime = bars[len(bars)-1].OpenTime

		if remaining > 0 {
			remaining -= len(bars)
			if remaining <= 0 {
				break
			}
		}
		if len(bars) < pageLimit {
			break
		}
		next := subkey.NextOpenTime(result.LastOpenTime, p.Interval)
		if p.ToTime > 0 && next > p.ToTime {
			break
		}
		from = next
	}

	return result, nil
}

// runQuotes fetches the tickers, batched when the market supports it and a
// bounded fan-out otherwise. The result is the canonical quote array.
func (e *Executor) runQuotes(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.QuotesTaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode quotes payload: %w", err)
	}

	byMarket := make(map[string][]string) // market -> native symbols
	for _, sym := range p.Symbols {
		_, native, suffix, err := subkey.SplitCanonicalSymbol(sym)
		if err != nil {
			return nil, err
		}
		market := p.MarketType
		if market == "" {
			market = subkey.MarketSpot
			if suffix == subkey.SuffixPerpetual {
				market = subkey.MarketFutures
			}
		}
		byMarket[market] = append(byMarket[market], native)
	}

	var quotes []models.QuotePayload
	for market, symbols := range byMarket {
		if e.adapter.SupportsBatchQuotes(market) {
			batch, err := e.adapter.BatchQuotes(ctx, market, symbols)
			if err != nil {
				return nil, fmt.Errorf("batch quotes %s: %w", market, err)
			}
			quotes = append(quotes, batch...)
			continue
		}

		out := make([]models.QuotePayload, len(symbols))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.quoteN)
		var mu sync.Mutex
		for i, sym := range symbols {
			g.Go(func() error {
				q, err := e.adapter.Quote(gctx, market, sym)
				if err != nil {
					return fmt.Errorf("quote %s %s: %w", market, sym, err)
				}
				mu.Lock()
				out[i] = *q
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		quotes = append(quotes, out...)
	}

	return quotes, nil
}

// runAccount refreshes the snapshot row; the payload lives in account_info,
// the result is only a receipt.
func (e *Executor) runAccount(ctx context.Context, market string) (any, error) {
	data, err := e.adapter.Account(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("fetch %s account: %w", market, err)
	}
	if err := e.accounts.Upsert(ctx, market, data); err != nil {
		return nil, err
	}
	return models.AccountTaskResult{AccountType: market, Updated: true}, nil
}

func (e *Executor) runExchangeInfo(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.ExchangeInfoTaskPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode exchange info payload: %w", err)
		}
	}
	markets := p.Markets
	if len(markets) == 0 {
		markets = []string{subkey.MarketSpot, subkey.MarketFutures}
	}

	result := models.ExchangeInfoTaskResult{Markets: markets}
	for _, market := range markets {
		symbols, err := e.adapter.ExchangeInfo(ctx, market)
		if err != nil {
			return nil, fmt.Errorf("fetch %s exchange info: %w", market, err)
		}
		if err := e.symbols.ReplaceMarket(ctx, e.adapter.Name(), market, symbols); err != nil {
			return nil, err
		}
		result.Symbols += len(symbols)
		e.log.Info("Symbol directory refreshed", "market", market, "symbols", len(symbols))
	}
	return result, nil
}
