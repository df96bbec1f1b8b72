package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/actuator"
	"farm-automation/internal/alerts"
	"farm-automation/internal/automation"
	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/evaluator"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
	"farm-automation/internal/notification"
	"farm-automation/internal/store"
	"farm-automation/internal/store/memory"
)

type okGateway struct{ calls int }

func (g *okGateway) Control(ctx context.Context, deviceID string, cmd actuator.Command, address string) (actuator.Result, error) {
	g.calls++
	return actuator.Result{DeviceID: deviceID, Command: cmd, Timestamp: time.Now()}, nil
}

type okEmail struct{ sent int }

func (p *okEmail) Channel() models.Channel { return models.ChannelEmail }

func (p *okEmail) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	p.sent++
	return "msg-1", nil
}

type pipeline struct {
	store   *memory.Store
	bus     *eventbus.Bus
	engine  *Engine
	worker  *automation.Worker
	gateway *okGateway
	email   *okEmail
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := logging.NewNop()
	p := &pipeline{
		store:   memory.New(),
		bus:     eventbus.New(logger),
		gateway: &okGateway{},
		email:   &okEmail{},
	}
	queue := automation.NewQueue(p.store, p.bus, logger)
	p.engine = New(evaluator.New(p.store, logger), p.store, queue, p.bus, logger)
	p.engine.Subscribe()

	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{RatePerSecond: 100}, p.bus, logger, p.email)
	manager := alerts.NewManager(p.store, queue, notification.Settings{DefaultRecipients: []string{"admin@example.com"}}, dispatcher, p.bus, logger, 3)
	manager.Subscribe()

	p.worker = automation.NewWorker(automation.WorkerConfig{MaxAttempts: 3}, p.store, p.store, p.gateway, actuator.NewMemoryRegistry(), p.bus, logger)
	return p
}

func (p *pipeline) threshold(t *testing.T, kind models.ActionKind) models.Threshold {
	t.Helper()
	th := models.Threshold{
		Name:       "Greenhouse heat",
		SensorType: models.SensorTemperature,
		FarmID:     "farm-1",
		ZoneID:     "zone-a",
		MinValue:   15,
		MaxValue:   35,
		IsActive:   true,
		Action:     models.ThresholdAction{Kind: kind},
	}
	if kind != models.ActionAlert {
		th.Action.Device = &models.DeviceCommand{DeviceID: "fan-1", Action: models.DeviceOn}
	}
	created, err := p.store.CreateThreshold(context.Background(), th)
	require.NoError(t, err)
	return created
}

func reading(value float64) models.Reading {
	return models.Reading{
		SensorID:   "sensor-7",
		SensorType: models.SensorTemperature,
		FarmID:     "farm-1",
		FarmName:   "North Farm",
		ZoneID:     "zone-a",
		ZoneName:   "Greenhouse A",
		Value:      value,
		Unit:       "°C",
		Timestamp:  time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func historyEvents(a models.Alert) []string {
	var out []string
	for _, h := range a.History {
		out = append(out, h.Event)
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestReadingToAlertAndExecutedTask(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	th := p.threshold(t, models.ActionBoth)

	require.NoError(t, p.engine.Ingest(ctx, reading(42)))

	page, err := p.store.ListAlerts(ctx, store.AlertFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Alerts, 1)
	alert := page.Alerts[0]
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, "Temperature is too high", alert.Title)
	assert.Equal(t, models.EventAlertCreated, alert.History[0].Event)
	require.NotEmpty(t, alert.Automation.CorrelationID)

	tasks, err := p.store.ListTasksByCorrelation(ctx, alert.Automation.CorrelationID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskPending, tasks[0].Status)
	assert.Equal(t, alert.ID, tasks[0].AlertID)
	assert.Equal(t, th.ID, tasks[0].ThresholdID)

	assert.Equal(t, 1, p.worker.Tick(ctx))
	assert.Equal(t, 1, p.gateway.calls)

	alert, err = p.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, alert.Automation.LastTaskStatus)
	assert.Equal(t, models.AlertActionExecuted, alert.Status)

	events := historyEvents(alert)
	linked := indexOf(events, models.EventTasksLinked)
	success := indexOf(events, models.EventAutomationTaskSuccess)
	require.NotEqual(t, -1, linked)
	require.NotEqual(t, -1, success)
	assert.Less(t, linked, success)

	stored, err := p.store.GetThreshold(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ViolationCount)
	require.NotNil(t, stored.LastViolation)
	assert.Equal(t, models.AboveMax, stored.LastViolation.Kind)
}

func TestAlertOnlyThresholdEnqueuesNothing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.threshold(t, models.ActionAlert)

	_, err := p.engine.Process(ctx, reading(10))
	require.NoError(t, err)

	assert.Zero(t, p.worker.Tick(ctx))
	page, err := p.store.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, page.Alerts, 1)
	assert.Equal(t, "Temperature is too low", page.Alerts[0].Title)
	assert.Nil(t, page.Alerts[0].Device)
}

func TestDeviceOnlyThresholdRaisesNoAlert(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.threshold(t, models.ActionDevice)

	violations, err := p.engine.Process(ctx, reading(42))
	require.NoError(t, err)
	require.Len(t, violations, 1)

	page, err := p.store.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Alerts)
	assert.Equal(t, 1, p.worker.Tick(ctx))
}

func TestReadingInsideRangeDoesNothing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.threshold(t, models.ActionBoth)

	violations, err := p.engine.Process(ctx, reading(35))
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Zero(t, p.email.sent)
}

func TestIngestRejectsInvalidReadings(t *testing.T) {
	p := newPipeline(t)

	r := reading(math.NaN())
	assert.True(t, apperrors.IsValidation(p.engine.Ingest(context.Background(), r)))

	r = reading(20)
	r.SensorType = "co2"
	assert.True(t, apperrors.IsValidation(p.engine.Ingest(context.Background(), r)))
}

func TestMessageWording(t *testing.T) {
	th := models.Threshold{MinValue: 15, MaxValue: 35, Action: models.ThresholdAction{Kind: models.ActionBoth, Device: &models.DeviceCommand{DeviceID: "fan-1", Action: models.DeviceOn}}}
	v, ok := evaluator.Check(reading(42), th)
	require.True(t, ok)

	assert.Equal(t, "Temperature is too high", Title(v))
	assert.Equal(t,
		"Temperature reading is 42.00 °C, above the maximum of 35.00 °C in North Farm / Greenhouse A. Automatic action has been triggered.",
		Message(v))
}
