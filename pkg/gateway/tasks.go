package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// sender delivers messages to clients; implemented by ClientManager.
type sender interface {
	Send(ctx context.Context, clientID uuid.UUID, msg *protocol.Message) bool
}

// taskCreator is the slice of store.TaskStore the router needs.
type taskCreator interface {
	Create(ctx context.Context, taskType models.TaskType, payload any) (*models.Task, error)
	Get(ctx context.Context, id int64) (*models.Task, error)
}

// accountReader serves ACCOUNT_DATA responses from the snapshot table.
type accountReader interface {
	Get(ctx context.Context, accountType string) (*models.AccountSnapshot, error)
}

// klineRangeReader serves KLINES_DATA responses after a fill completes.
type klineRangeReader interface {
	Range(ctx context.Context, symbol, interval string, fromMs, toMs int64, limit int) ([]models.Bar, error)
}

var errMissingKlinesRequest = errors.New("klines task tracked without request parameters")

func errUnhandledTaskType(t models.TaskType) error {
	return fmt.Errorf("no response mapping for task type %s", t)
}

// pendingTask is one in-flight asynchronous request: who asked, what they
// asked, and when to give up on an answer.
type pendingTask struct {
	clientID  uuid.UUID
	requestID string
	wireType  string // original inbound type, e.g. GET_KLINES
	klines    *protocol.KlinesRequest
	createdAt time.Time
}

// TaskRouter owns the task_id -> requester map for the asynchronous request
// path. It turns task.completed / task.failed envelopes back into terminal
// wire messages; tasks nobody remembers (late answers, restarts) are
// logged and dropped.
type TaskRouter struct {
	tasks    taskCreator
	klines   klineRangeReader
	accounts accountReader
	sender   sender
	timeout  time.Duration
	sweep    time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[int64]pendingTask

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTaskRouter(tasks taskCreator, klines klineRangeReader, accounts accountReader, snd sender, cfg config.GatewayConfig) *TaskRouter {
	return &TaskRouter{
		tasks:    tasks,
		klines:   klines,
		accounts: accounts,
		sender:   snd,
		timeout:  cfg.TaskTimeout.Std(),
		sweep:    cfg.TaskSweepInterval.Std(),
		log:      slog.With("component", "task_router"),
		pending:  make(map[int64]pendingTask),
	}
}

// Start launches the timeout sweeper.
func (r *TaskRouter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.sweepLoop(ctx)
}

// Stop halts the sweeper.
func (r *TaskRouter) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Dispatch inserts a task row and remembers who to answer. The insert fires
// task.new; the worker picks it up from there.
func (r *TaskRouter) Dispatch(ctx context.Context, clientID uuid.UUID, req *protocol.Request, taskType models.TaskType, payload any, klines *protocol.KlinesRequest) *protocol.WireError {
	task, err := r.tasks.Create(ctx, taskType, payload)
	if err != nil {
		r.log.Error("Failed to create task", "type", taskType, "error", err)
		return protocol.NewWireError(req.RequestID, protocol.ErrCodeInternal, "failed to dispatch request")
	}

	r.mu.Lock()
	r.pending[task.ID] = pendingTask{
		clientID:  clientID,
		requestID: req.RequestID,
		wireType:  req.Type,
		klines:    klines,
		createdAt: time.Now(),
	}
	r.mu.Unlock()

	r.log.Debug("Task dispatched", "task_id", task.ID, "type", taskType, "client_id", clientID)
	return nil
}

// HandleCompleted resolves a task.completed envelope into the terminal
// typed response for the waiting client.
func (r *TaskRouter) HandleCompleted(ctx context.Context, env events.Envelope) error {
	var ev events.TaskEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}

	p, ok := r.take(ev.ID)
	if !ok {
		r.log.Debug("Ignoring completion for unknown task", "task_id", ev.ID)
		return nil
	}

	// A truncated envelope lost its result; the row still has it.
	result := ev.Result
	if env.Truncated {
		task, err := r.tasks.Get(ctx, ev.ID)
		if err != nil {
			r.sendError(ctx, p, protocol.ErrCodeInternal, "task result unavailable")
			return err
		}
		result = task.Result
	}

	msg, err := r.buildResponse(ctx, p, ev.Type, result)
	if err != nil {
		r.log.Error("Failed to build task response",
			"task_id", ev.ID, "type", ev.Type, "error", err)
		r.sendError(ctx, p, protocol.ErrCodeInternal, "failed to build response")
		return nil
	}
	r.sender.Send(ctx, p.clientID, msg)
	return nil
}

// HandleFailed resolves a task.failed envelope into an ERROR frame.
func (r *TaskRouter) HandleFailed(ctx context.Context, env events.Envelope) error {
	var ev events.TaskEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}

	p, ok := r.take(ev.ID)
	if !ok {
		r.log.Debug("Ignoring failure for unknown task", "task_id", ev.ID)
		return nil
	}

	cause := ev.Error
	if cause == "" {
		cause = "task failed"
	}
	r.sendError(ctx, p, protocol.ErrCodeTaskFailed, "%s", cause)
	return nil
}

// PurgeClient forgets a disconnected client's pending tasks. The task rows
// are left alone: the worker may still complete them, and the completions
// will be dropped here as unknown.
func (r *TaskRouter) PurgeClient(clientID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		if p.clientID == clientID {
			delete(r.pending, id)
		}
	}
}

// PendingCount returns the number of tracked tasks.
func (r *TaskRouter) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// buildResponse maps a completed task back to its typed wire message.
func (r *TaskRouter) buildResponse(ctx context.Context, p pendingTask, taskType models.TaskType, result json.RawMessage) (*protocol.Message, error) {
	switch taskType {
	case models.TaskGetKlines:
		// The worker persisted the bars; the answer comes from the table.
		req := p.klines
		if req == nil {
			return nil, errMissingKlinesRequest
		}
		fromMs := subkey.AlignOpenTime(req.FromTime, req.Interval)
		bars, err := r.klines.Range(ctx, req.Symbol, req.Interval, fromMs, req.ToTime, req.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.KlinesData(p.requestID, req.Symbol, req.Interval, bars)

	case models.TaskGetQuotes:
		return protocol.QuotesData(p.requestID, result)

	case models.TaskGetServerTime:
		var st models.ServerTimeResult
		if err := json.Unmarshal(result, &st); err != nil {
			return nil, err
		}
		return protocol.ServerTimeData(p.requestID, st.ServerTime)

	case models.TaskGetSpotAccount, models.TaskGetFuturesAccount:
		accountType := subkey.MarketSpot
		if taskType == models.TaskGetFuturesAccount {
			accountType = subkey.MarketFutures
		}
		snap, err := r.accounts.Get(ctx, accountType)
		if err != nil {
			return nil, err
		}
		return protocol.AccountData(p.requestID, snap)

	default:
		return nil, errUnhandledTaskType(taskType)
	}
}

func (r *TaskRouter) take(taskID int64) (pendingTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[taskID]
	if ok {
		delete(r.pending, taskID)
	}
	return p, ok
}

func (r *TaskRouter) sendError(ctx context.Context, p pendingTask, code protocol.ErrorCode, format string, args ...any) {
	r.sender.Send(ctx, p.clientID, protocol.ErrorWith(p.requestID, code, format, args...))
}

// sweepLoop times out pending entries whose worker never answered.
func (r *TaskRouter) sweepLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepExpired(ctx)
		}
	}
}

func (r *TaskRouter) sweepExpired(ctx context.Context) {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.Lock()
	var expired []pendingTask
	for id, p := range r.pending {
		if p.createdAt.Before(cutoff) {
			expired = append(expired, p)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, p := range expired {
		r.log.Warn("Task timed out", "request_id", p.requestID, "type", p.wireType)
		r.sendError(ctx, p, protocol.ErrCodeTimeout, "%s timed out", p.wireType)
	}
}
