package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
)

type fakeProvider struct {
	channel models.Channel
	fail    map[string]error

	mu   sync.Mutex
	sent []string
}

func (p *fakeProvider) Channel() models.Channel { return p.channel }

func (p *fakeProvider) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, recipient)
	if err := p.fail[recipient]; err != nil {
		return "", err
	}
	return "msg-" + recipient, nil
}

func sampleAlert(severity models.Severity) models.Alert {
	return models.Alert{
		ID:       "alert-1",
		Severity: severity,
		Title:    "Temperature is too high",
		Message:  "Temperature reading 42.00 is above the maximum of 35.00",
		FarmID:   "farm-1",
		SensorData: models.SensorSnapshot{
			SensorID:   "s-1",
			SensorType: models.SensorTemperature,
			Value:      42,
			Unit:       "°C",
		},
	}
}

func TestResolveRoutesBySeverity(t *testing.T) {
	s := Settings{
		DefaultRecipients: []string{"admin@example.com"},
		SMSNumbers:        []string{"+15550001"},
		PushChats:         []string{"-1001"},
	}

	channels := func(routes []Route) []models.Channel {
		var out []models.Channel
		for _, r := range routes {
			out = append(out, r.Channel)
		}
		return out
	}

	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush},
		channels(s.Resolve(sampleAlert(models.SeverityCritical), nil)))
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelPush},
		channels(s.Resolve(sampleAlert(models.SeverityHigh), nil)))
	assert.Equal(t, []models.Channel{models.ChannelEmail},
		channels(s.Resolve(sampleAlert(models.SeverityMedium), nil)))

	low := s.Resolve(sampleAlert(models.SeverityLow), nil)
	assert.Equal(t, []Route{{Channel: models.ChannelWebsocket, Recipients: []string{"farm-1"}}}, low)
	assert.False(t, Reliable(low))
}

func TestResolvePrefersThresholdRecipients(t *testing.T) {
	s := Settings{DefaultRecipients: []string{"admin@example.com"}}

	routes := s.Resolve(sampleAlert(models.SeverityMedium), []string{"grower@farm.test"})
	require.Len(t, routes, 1)
	assert.Equal(t, []string{"grower@farm.test"}, routes[0].Recipients)

	routes = s.Resolve(sampleAlert(models.SeverityHigh), nil)
	require.Len(t, routes, 1, "push is left out when no chats are configured")
	assert.Equal(t, []string{"admin@example.com"}, routes[0].Recipients)

	assert.Empty(t, Settings{}.Resolve(sampleAlert(models.SeverityCritical), nil))
}

func TestDispatchRecordsPendingThenOutcomePerRecipient(t *testing.T) {
	logger := logging.NewNop()
	email := &fakeProvider{
		channel: models.ChannelEmail,
		fail:    map[string]error{"b@farm.test": errors.New("mailbox unavailable")},
	}
	d := NewDispatcher(DispatcherConfig{RatePerSecond: 100}, eventbus.New(logger), logger, email)

	out := d.Dispatch(context.Background(), []Route{
		{Channel: models.ChannelEmail, Recipients: []string{"a@farm.test", "b@farm.test", "c@farm.test"}},
	}, sampleAlert(models.SeverityMedium))

	assert.Equal(t, []string{"a@farm.test", "b@farm.test", "c@farm.test"}, email.sent, "a failure does not stop later recipients")
	require.Len(t, out.Records, 6)
	var statuses []models.NotificationStatus
	for _, r := range out.Records {
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []models.NotificationStatus{
		models.NotificationPending, models.NotificationSent,
		models.NotificationPending, models.NotificationFailed,
		models.NotificationPending, models.NotificationSent,
	}, statuses)
	assert.Equal(t, "msg-a@farm.test", out.Records[1].MessageID)
	assert.Equal(t, "mailbox unavailable", out.Records[3].Error)

	assert.True(t, out.Delivered())
	assert.Equal(t, 2, out.Sent())
	assert.Equal(t, 1, out.Failed())
}

func TestDispatchAllFailuresIsNotDelivered(t *testing.T) {
	logger := logging.NewNop()
	email := &fakeProvider{
		channel: models.ChannelEmail,
		fail:    map[string]error{"a@farm.test": errors.New("connection refused")},
	}
	d := NewDispatcher(DispatcherConfig{}, eventbus.New(logger), logger, email)

	out := d.Dispatch(context.Background(), []Route{
		{Channel: models.ChannelEmail, Recipients: []string{"a@farm.test"}},
		{Channel: models.ChannelSMS, Recipients: []string{"+15550001"}},
	}, sampleAlert(models.SeverityCritical))

	assert.False(t, out.Delivered())
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, models.NotificationSkipped, out.Attempts[1].Status, "unconfigured channels are skipped")
}

func TestDispatchWebsocketOnlyBroadcasts(t *testing.T) {
	logger := logging.NewNop()
	bus := eventbus.New(logger)
	var broadcasts []eventbus.AlertBroadcast
	eventbus.On(bus, "test", func(ctx context.Context, evt eventbus.AlertBroadcast) error {
		broadcasts = append(broadcasts, evt)
		return nil
	})
	d := NewDispatcher(DispatcherConfig{}, bus, logger)

	out := d.Dispatch(context.Background(), []Route{
		{Channel: models.ChannelWebsocket, Recipients: []string{"farm-1"}},
	}, sampleAlert(models.SeverityLow))

	require.Len(t, broadcasts, 1)
	assert.Equal(t, "alert-1", broadcasts[0].Alert.ID)
	assert.Empty(t, out.Records)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, models.NotificationSkipped, out.Attempts[0].Status)
	assert.Equal(t, models.ChannelWebsocket, out.Attempts[0].Channel)
	assert.False(t, out.Delivered())
	assert.Zero(t, out.Sent()+out.Failed())
}

func TestCompose(t *testing.T) {
	subject, body := Compose(sampleAlert(models.SeverityHigh))
	assert.Equal(t, "[HIGH] Temperature is too high", subject)
	assert.Contains(t, body, "Value: 42.00°C")
	assert.Contains(t, body, "Farm: farm-1")
	assert.Contains(t, body, "Alert ID: alert-1")
}
