package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
)

// Provider sends one message to one recipient over a single channel.
type Provider interface {
	Channel() models.Channel
	Send(ctx context.Context, recipient, subject, body string) (messageID string, err error)
}

// Attempt is the outcome of delivering to one recipient.
type Attempt struct {
	Channel   models.Channel            `json:"channel"`
	Recipient string                    `json:"recipient"`
	Status    models.NotificationStatus `json:"status"`
	MessageID string                    `json:"messageId,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// Outcome holds the audit records to append to the alert and one attempt per
// recipient.
type Outcome struct {
	Records  []models.NotificationRecord
	Attempts []Attempt
}

// Delivered reports whether at least one reliable send succeeded.
func (o Outcome) Delivered() bool {
	for _, a := range o.Attempts {
		if a.Status == models.NotificationSent {
			return true
		}
	}
	return false
}

// Sent and Failed count the attempts in each state.
func (o Outcome) Sent() int   { return o.count(models.NotificationSent) }
func (o Outcome) Failed() int { return o.count(models.NotificationFailed) }

func (o Outcome) count(status models.NotificationStatus) int {
	n := 0
	for _, a := range o.Attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

type DispatcherConfig struct {
	SendTimeout   time.Duration
	RatePerSecond int
}

// Dispatcher fans an alert out to the configured providers. It never fails
// as a whole; each attempt carries its own result.
type Dispatcher struct {
	providers map[models.Channel]Provider
	limiter   *rate.Limiter
	timeout   time.Duration
	bus       *eventbus.Bus
	log       *logrus.Entry
	now       func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, bus *eventbus.Bus, logger *logging.Logger, providers ...Provider) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RatePerSecond < 1 {
		cfg.RatePerSecond = 5
	}
	d := &Dispatcher{
		providers: make(map[models.Channel]Provider, len(providers)),
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RatePerSecond)), cfg.RatePerSecond),
		timeout:   cfg.SendTimeout,
		bus:       bus,
		log:       logger.WithComponent("notification-dispatcher"),
		now:       time.Now,
	}
	for _, p := range providers {
		d.providers[p.Channel()] = p
	}
	return d
}

// Dispatch sends alert along routes. Every reliable attempt produces a
// pending record before the send and a sent or failed record after it.
// Websocket routes are broadcast only and never produce a record.
func (d *Dispatcher) Dispatch(ctx context.Context, routes []Route, alert models.Alert) Outcome {
	var out Outcome
	subject, body := Compose(alert)

	for _, route := range routes {
		if route.Channel == models.ChannelWebsocket {
			d.bus.Publish(ctx, eventbus.AlertBroadcast{Alert: alert})
			for _, scope := range route.Recipients {
				out.Attempts = append(out.Attempts, Attempt{
					Channel:   models.ChannelWebsocket,
					Recipient: scope,
					Status:    models.NotificationSkipped,
					Error:     "handled via real-time broadcast",
				})
			}
			metrics.NotificationAttempts.WithLabelValues(string(route.Channel), string(models.NotificationSkipped)).Inc()
			continue
		}

		provider, ok := d.providers[route.Channel]
		for _, recipient := range route.Recipients {
			if !ok {
				d.log.WithField("channel", route.Channel).Warn("No provider configured, skipping")
				out.Records = append(out.Records, models.NotificationRecord{
					Channel:   route.Channel,
					Recipient: recipient,
					Status:    models.NotificationSkipped,
					SentAt:    d.now().UTC(),
					Error:     "channel not configured",
				})
				out.Attempts = append(out.Attempts, Attempt{
					Channel:   route.Channel,
					Recipient: recipient,
					Status:    models.NotificationSkipped,
					Error:     "channel not configured",
				})
				continue
			}
			out.Records = append(out.Records, models.NotificationRecord{
				Channel:   route.Channel,
				Recipient: recipient,
				Status:    models.NotificationPending,
				SentAt:    d.now().UTC(),
			})
			attempt := d.send(ctx, provider, recipient, subject, body)
			out.Attempts = append(out.Attempts, attempt)
			out.Records = append(out.Records, models.NotificationRecord{
				Channel:   attempt.Channel,
				Recipient: attempt.Recipient,
				Status:    attempt.Status,
				SentAt:    d.now().UTC(),
				MessageID: attempt.MessageID,
				Error:     attempt.Error,
			})
		}
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, p Provider, recipient, subject, body string) Attempt {
	attempt := Attempt{Channel: p.Channel(), Recipient: recipient}
	log := d.log.WithFields(logrus.Fields{"channel": attempt.Channel, "recipient": recipient})

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(sendCtx); err != nil {
		attempt.Status = models.NotificationFailed
		attempt.Error = fmt.Sprintf("rate limit wait aborted: %v", err)
	} else if id, err := safeSend(sendCtx, p, recipient, subject, body); err != nil {
		attempt.Status = models.NotificationFailed
		attempt.Error = err.Error()
	} else {
		attempt.Status = models.NotificationSent
		attempt.MessageID = id
	}

	metrics.NotificationAttempts.WithLabelValues(string(attempt.Channel), string(attempt.Status)).Inc()
	if attempt.Status == models.NotificationFailed {
		log.Errorf("Dispatch error: %s", attempt.Error)
	} else {
		log.WithField("message_id", attempt.MessageID).Info("Notification sent")
	}
	return attempt
}

func safeSend(ctx context.Context, p Provider, recipient, subject, body string) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return p.Send(ctx, recipient, subject, body)
}

// Compose renders the subject and plain-text body sent for an alert.
func Compose(alert models.Alert) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)

	var b strings.Builder
	b.WriteString(alert.Message)
	b.WriteString("\n")
	if alert.SensorData.SensorID != "" {
		name := alert.SensorData.SensorName
		if name == "" {
			name = alert.SensorData.SensorID
		}
		fmt.Fprintf(&b, "\nSensor: %s (%s)", name, alert.SensorData.SensorType)
		fmt.Fprintf(&b, "\nValue: %.2f%s", alert.SensorData.Value, alert.SensorData.Unit)
	}
	if alert.Threshold.Name != "" || alert.Threshold.MaxValue != 0 || alert.Threshold.MinValue != 0 {
		fmt.Fprintf(&b, "\nThreshold: %s [%.2f, %.2f]", alert.Threshold.Name, alert.Threshold.MinValue, alert.Threshold.MaxValue)
	}
	if alert.FarmName != "" || alert.FarmID != "" {
		fmt.Fprintf(&b, "\nFarm: %s", firstNonEmpty(alert.FarmName, alert.FarmID))
	}
	if alert.ZoneName != "" || alert.ZoneID != "" {
		fmt.Fprintf(&b, "\nZone: %s", firstNonEmpty(alert.ZoneName, alert.ZoneID))
	}
	fmt.Fprintf(&b, "\nAlert ID: %s", alert.ID)
	return subject, b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
