package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/models"
)

type fakeFillTasks struct {
	mu      sync.Mutex
	nextID  int64
	created []models.KlinesTaskPayload
}

func (f *fakeFillTasks) Create(_ context.Context, taskType models.TaskType, payload any) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, payload.(models.KlinesTaskPayload))
	raw, _ := json.Marshal(payload)
	return &models.Task{ID: f.nextID, Type: taskType, Payload: raw}, nil
}

func (f *fakeFillTasks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeHistory struct {
	mu        sync.Mutex
	responses [][]models.Bar
}

func (f *fakeHistory) RecentBars(_ context.Context, _, _ string, _ int) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil, nil
	}
	bars := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return bars, nil
}

func fillConfig() config.SignalConfig {
	return config.SignalConfig{
		RequiredKlines: 3,
		CacheCapacity:  5,
		FillBatchLimit: 100,
		FillWait:       config.Duration(50 * time.Millisecond),
		FillRetryDelay: config.Duration(time.Millisecond),
	}
}

func taskEnvelope(t *testing.T, eventType string, ev events.TaskEvent) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.Envelope{EventType: eventType, Data: raw}
}

func TestFillReturnsWhenHistoryAlreadyWarm(t *testing.T) {
	tasks := &fakeFillTasks{}
	history := &fakeHistory{responses: [][]models.Bar{minuteBars(0, 4)}}
	f := NewFiller(tasks, history, fillConfig())

	bars, err := f.Fill(context.Background(), "BINANCE:BTCUSDT", "1")
	require.NoError(t, err)
	assert.Len(t, bars, 4)
	assert.Zero(t, tasks.count(), "no fill task when the table is warm")
}

func TestFillIssuesTaskAndWaitsForCompletion(t *testing.T) {
	tasks := &fakeFillTasks{}
	history := &fakeHistory{responses: [][]models.Bar{
		minuteBars(0, 1), // first probe is short
		minuteBars(0, 3), // post-fill probe passes
	}}
	f := NewFiller(tasks, history, fillConfig())

	done := make(chan error, 1)
	go func() {
		_, err := f.Fill(context.Background(), "BINANCE:BTCUSDT", "1")
		done <- err
	}()

	// Wait for the fill task, then deliver its completion event.
	require.Eventually(t, func() bool { return tasks.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.handleCompleted(context.Background(),
		taskEnvelope(t, events.ChannelTaskCompleted, events.TaskEvent{ID: 1, Type: models.TaskGetKlines})))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fill did not finish")
	}

	payload := tasks.created[0]
	assert.Equal(t, "BINANCE:BTCUSDT", payload.Symbol)
	assert.Equal(t, "1", payload.Interval)
	assert.Equal(t, 100, payload.Limit)
	assert.Less(t, payload.FromTime, payload.ToTime)
}

func TestFillTaskFailureIsRetriedNotFatal(t *testing.T) {
	tasks := &fakeFillTasks{}
	history := &fakeHistory{responses: [][]models.Bar{
		minuteBars(0, 1),
		minuteBars(0, 3),
	}}
	f := NewFiller(tasks, history, fillConfig())

	done := make(chan error, 1)
	go func() {
		_, err := f.Fill(context.Background(), "BINANCE:BTCUSDT", "1")
		done <- err
	}()

	require.Eventually(t, func() bool { return tasks.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.handleFailed(context.Background(),
		taskEnvelope(t, events.ChannelTaskFailed, events.TaskEvent{ID: 1, Error: "upstream down"})))

	// The round failed but the next probe finds warm history.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fill did not finish")
	}
}

func TestFillAttemptBudgetExhausted(t *testing.T) {
	cfg := fillConfig()
	cfg.FillMaxAttempts = 2
	cfg.FillWait = config.Duration(time.Millisecond)
	tasks := &fakeFillTasks{}
	history := &fakeHistory{responses: [][]models.Bar{minuteBars(0, 1)}}
	f := NewFiller(tasks, history, cfg)

	_, err := f.Fill(context.Background(), "BINANCE:BTCUSDT", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still short")
	assert.Equal(t, 2, tasks.count())
}

func TestFillCancelledContext(t *testing.T) {
	cfg := fillConfig()
	cfg.FillWait = config.Duration(time.Minute)
	tasks := &fakeFillTasks{}
	history := &fakeHistory{responses: [][]models.Bar{minuteBars(0, 1)}}
	f := NewFiller(tasks, history, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fill(ctx, "BINANCE:BTCUSDT", "1")
		done <- err
	}()

	require.Eventually(t, func() bool { return tasks.count() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("fill did not observe cancellation")
	}
}

func TestFillIgnoresForeignTaskEvents(t *testing.T) {
	f := NewFiller(&fakeFillTasks{}, &fakeHistory{}, fillConfig())

	// No waiter registered for this ID; the handler must not block or panic.
	require.NoError(t, f.handleCompleted(context.Background(),
		taskEnvelope(t, events.ChannelTaskCompleted, events.TaskEvent{ID: 99})))
}
