package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/actuator"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
	"farm-automation/internal/store/memory"
)

type gatewayCall struct {
	DeviceID string
	Command  actuator.Command
	Address  string
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	err     error
	panics  bool
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Control(ctx context.Context, deviceID string, cmd actuator.Command, address string) (actuator.Result, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{DeviceID: deviceID, Command: cmd, Address: address})
	err := g.err
	g.mu.Unlock()
	if g.panics {
		panic("driver crashed")
	}
	if err != nil {
		return actuator.Result{}, err
	}
	return actuator.Result{DeviceID: deviceID, Command: cmd, Message: "ok", Timestamp: time.Now()}, nil
}

func (g *fakeGateway) Calls() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *memory.Store
	bus      *eventbus.Bus
	queue    *Queue
	worker   *Worker
	gateway  *fakeGateway
	registry *actuator.MemoryRegistry
	clock    *clock
}

func newFixture(t *testing.T, cfg WorkerConfig) *fixture {
	t.Helper()
	logger := logging.NewNop()
	f := &fixture{
		store:    memory.New(),
		bus:      eventbus.New(logger),
		gateway:  &fakeGateway{},
		registry: actuator.NewMemoryRegistry(),
		clock:    &clock{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.queue = NewQueue(f.store, f.bus, logger)
	f.queue.now = f.clock.Now
	f.worker = NewWorker(cfg, f.store, f.store, f.gateway, f.registry, f.bus, logger)
	f.worker.now = f.clock.Now
	return f
}

func (f *fixture) enqueue(t *testing.T, deviceID string, action models.DeviceAction, correlationID string) models.AutomationTask {
	t.Helper()
	task, err := f.queue.Enqueue(context.Background(), EnqueueRequest{
		ThresholdID:   "th-1",
		DeviceID:      deviceID,
		Action:        action,
		CorrelationID: correlationID,
		Metadata:      models.TaskMetadata{Address: "10.0.0.7", TriggeredBy: "threshold"},
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) linkedAlert(t *testing.T, correlationID string, status models.AlertStatus) models.Alert {
	t.Helper()
	ctx := context.Background()
	alert, err := f.store.CreateAlert(ctx, models.Alert{
		Type:       models.AlertThresholdExceeded,
		Severity:   models.SeverityHigh,
		Status:     status,
		Title:      "Temperature is too high",
		Automation: models.AlertAutomation{CorrelationID: correlationID},
		CreatedAt:  f.clock.Now(),
	})
	require.NoError(t, err)
	_, err = f.queue.AttachAlert(ctx, correlationID, alert.ID)
	require.NoError(t, err)
	return alert
}

func TestEnqueuePersistsPendingTaskAndPublishes(t *testing.T) {
	f := newFixture(t, WorkerConfig{})
	var created []eventbus.TaskCreated
	eventbus.On(f.bus, "test", func(ctx context.Context, evt eventbus.TaskCreated) error {
		created = append(created, evt)
		return nil
	})

	task := f.enqueue(t, "fan-1", models.DeviceOn, "corr-1")

	stored, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, stored.Status)
	assert.Zero(t, stored.Attempts)
	assert.Equal(t, f.clock.Now(), stored.ScheduledAt)
	require.Len(t, created, 1)
	assert.Equal(t, task.ID, created[0].Task.ID)
}

func TestEnqueueRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, WorkerConfig{})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, EnqueueRequest{Action: models.DeviceOn})
	assert.Error(t, err)

	_, err = f.queue.Enqueue(ctx, EnqueueRequest{DeviceID: "fan-1", Action: "blink"})
	assert.Error(t, err)
}

func TestTickExecutesTaskAndUpdatesLinkedAlert(t *testing.T) {
	f := newFixture(t, WorkerConfig{MaxAttempts: 3})
	ctx := context.Background()
	task := f.enqueue(t, "fan-1", models.DeviceOn, "corr-1")
	alert := f.linkedAlert(t, "corr-1", models.AlertNotified)

	var completed []eventbus.TaskCompleted
	eventbus.On(f.bus, "test", func(ctx context.Context, evt eventbus.TaskCompleted) error {
		completed = append(completed, evt)
		return nil
	})

	assert.Equal(t, 1, f.worker.Tick(ctx))

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Empty(t, stored.Error)
	require.NotNil(t, stored.Result)
	assert.Equal(t, models.DeviceOn, stored.Result.ExecutedAction)

	assert.Equal(t, []gatewayCall{{DeviceID: "fan-1", Command: actuator.CommandOn, Address: "10.0.0.7"}}, f.gateway.Calls())
	require.Len(t, completed, 1)

	updated, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertActionExecuted, updated.Status)
	assert.Equal(t, models.TaskSuccess, updated.Automation.LastTaskStatus)
	assert.Contains(t, updated.Automation.TaskIDs, task.ID)
	assert.True(t, updated.HasHistory(models.EventAutomationTaskSuccess))

	last, known, err := f.registry.LastStatus(ctx, "fan-1")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, actuator.CommandOn, last)
}

func TestSuccessAlreadyRecordedByLinkingIsNotDuplicated(t *testing.T) {
	f := newFixture(t, WorkerConfig{MaxAttempts: 3})
	ctx := context.Background()
	task := f.enqueue(t, "fan-1", models.DeviceOn, "corr-1")
	alert := f.linkedAlert(t, "corr-1", models.AlertNotified)

	linked := models.TransitionTo(models.AlertActionExecuted)
	linked.History = []models.HistoryEntry{{
		Event:     models.EventAutomationTaskSuccess,
		Status:    models.AlertActionExecuted,
		Detail:    "Automation task had already completed",
		TaskID:    task.ID,
		CreatedAt: f.clock.Now(),
	}}
	_, err := f.store.PatchAlert(ctx, alert.ID, linked, f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, f.worker.Tick(ctx))

	updated, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "Automation task had already completed", updated.History[0].Detail)
	assert.Equal(t, models.AlertActionExecuted, updated.Status)
}

func TestSuccessOnAcknowledgedAlertRecordsNoTransition(t *testing.T) {
	f := newFixture(t, WorkerConfig{MaxAttempts: 3})
	ctx := context.Background()
	task := f.enqueue(t, "fan-1", models.DeviceOn, "corr-1")
	alert := f.linkedAlert(t, "corr-1", models.AlertAcknowledged)

	assert.Equal(t, 1, f.worker.Tick(ctx))

	updated, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, updated.Status)
	require.Len(t, updated.History, 1)
	assert.Equal(t, models.EventAutomationTaskSuccess, updated.History[0].Event)
	assert.Equal(t, task.ID, updated.History[0].TaskID)
	assert.Empty(t, updated.History[0].Status)
}

func TestToggleInvertsLastKnownStatus(t *testing.T) {
	f := newFixture(t, WorkerConfig{})
	ctx := context.Background()
	require.NoError(t, f.registry.Record(ctx, "pump-2", actuator.CommandOn))
	f.enqueue(t, "pump-2", models.DeviceToggle, "")

	f.worker.Tick(ctx)

	calls := f.gateway.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, actuator.CommandOff, calls[0].Command)
	last, _, err := f.registry.LastStatus(ctx, "pump-2")
	require.NoError(t, err)
	assert.Equal(t, actuator.CommandOff, last)
}

func TestFailedTaskIsRetriedAfterDelayThenAbandoned(t *testing.T) {
	f := newFixture(t, WorkerConfig{MaxAttempts: 2, RetryDelay: time.Minute})
	f.gateway.err = errors.New("device offline")
	ctx := context.Background()
	task := f.enqueue(t, "heater-1", models.DeviceOff, "corr-2")
	alert := f.linkedAlert(t, "corr-2", models.AlertNotified)

	var failures []eventbus.TaskFailed
	eventbus.On(f.bus, "test", func(ctx context.Context, evt eventbus.TaskFailed) error {
		failures = append(failures, evt)
		return nil
	})

	assert.Equal(t, 1, f.worker.Tick(ctx))

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, stored.Error, "device offline")
	assert.Equal(t, f.clock.Now().Add(time.Minute), stored.ScheduledAt)

	updated, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNotified, updated.Status, "a retryable failure leaves the status alone")
	assert.Equal(t, models.TaskFailed, updated.Automation.LastTaskStatus)
	assert.True(t, updated.HasHistory(models.EventAutomationTaskFailed))

	// Not due yet.
	assert.Zero(t, f.worker.Tick(ctx))

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.worker.Tick(ctx))

	stored, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, models.TaskFailed, stored.Status)

	updated, err = f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertActionFailed, updated.Status)
	assert.NotEmpty(t, updated.Automation.LastError)

	require.Len(t, failures, 2)
	assert.False(t, failures[0].Final)
	assert.True(t, failures[1].Final)

	f.clock.Advance(time.Hour)
	assert.Zero(t, f.worker.Tick(ctx), "an abandoned task is never claimed again")
	assert.Len(t, f.gateway.Calls(), 2)
}

func TestPanickingGatewayFailsOnlyThatTask(t *testing.T) {
	f := newFixture(t, WorkerConfig{MaxAttempts: 3})
	f.gateway.panics = true
	ctx := context.Background()
	first := f.enqueue(t, "fan-1", models.DeviceOn, "")
	second := f.enqueue(t, "fan-2", models.DeviceOn, "")

	require.NotPanics(t, func() { f.worker.Tick(ctx) })

	for _, id := range []string{first.ID, second.ID} {
		stored, err := f.store.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskFailed, stored.Status)
		assert.Contains(t, stored.Error, "panic")
	}
}

func TestConcurrentWorkersExecuteEachTaskOnce(t *testing.T) {
	f := newFixture(t, WorkerConfig{BatchSize: 50})
	other := NewWorker(WorkerConfig{BatchSize: 50}, f.store, f.store, f.gateway, f.registry, f.bus, logging.NewNop())
	other.now = f.clock.Now
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f.enqueue(t, fmt.Sprintf("valve-%d", i), models.DeviceOn, "")
	}

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i, w := range []*Worker{f.worker, other} {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			results[i] = w.Tick(ctx)
		}(i, w)
	}
	wg.Wait()

	assert.Equal(t, 20, results[0]+results[1])
	seen := make(map[string]int)
	for _, call := range f.gateway.Calls() {
		seen[call.DeviceID]++
	}
	assert.Len(t, seen, 20)
	for device, n := range seen {
		assert.Equal(t, 1, n, device)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	f := newFixture(t, WorkerConfig{})
	f.gateway.entered = make(chan struct{})
	f.gateway.release = make(chan struct{})
	ctx := context.Background()
	f.enqueue(t, "fan-1", models.DeviceOn, "")

	done := make(chan int)
	go func() { done <- f.worker.Tick(ctx) }()
	<-f.gateway.entered

	assert.Zero(t, f.worker.Tick(ctx))

	close(f.gateway.release)
	assert.Equal(t, 1, <-done)
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t, WorkerConfig{Interval: 10 * time.Millisecond})
	f.enqueue(t, "fan-1", models.DeviceOn, "")

	f.worker.Start(context.Background())
	require.Eventually(t, func() bool { return len(f.gateway.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	f.worker.Stop()
}
