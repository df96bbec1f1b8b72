package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/utils"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the record written to the outbound events topic.
type Envelope struct {
	Topic      eventbus.Topic `json:"topic"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    any            `json:"payload"`
}

// RelayedTopics are the bus topics forwarded to downstream consumers.
var RelayedTopics = []eventbus.Topic{
	eventbus.TopicTaskCreated,
	eventbus.TopicTaskCompleted,
	eventbus.TopicTaskFailed,
	eventbus.TopicAlertCreated,
	eventbus.TopicAlertNotified,
	eventbus.TopicAlertUpdated,
	eventbus.TopicAlertAcknowledged,
	eventbus.TopicAlertResolved,
	eventbus.TopicAlertDismissed,
}

type RelayConfig struct {
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// EventRelay copies bus events onto a Kafka topic. Publishing only queues
// the event; a background goroutine does the writes.
type EventRelay struct {
	writer messageWriter
	cfg    RelayConfig
	queue  chan kafka.Message
	log    *logrus.Entry
	now    func() time.Time
}

func NewEventRelay(brokers []string, topic string, cfg RelayConfig, logger *logging.Logger) (*EventRelay, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return newEventRelay(writer, cfg, logger), nil
}

func newEventRelay(writer messageWriter, cfg RelayConfig, logger *logging.Logger) *EventRelay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &EventRelay{
		writer: writer,
		cfg:    cfg,
		queue:  make(chan kafka.Message, cfg.QueueSize),
		log:    logger.WithComponent("event-relay"),
		now:    time.Now,
	}
}

// Subscribe registers the relay on every relayed topic.
func (r *EventRelay) Subscribe(bus *eventbus.Bus) func() {
	unsubs := make([]func(), 0, len(RelayedTopics))
	for _, topic := range RelayedTopics {
		unsubs = append(unsubs, bus.Subscribe(topic, "event-relay", r.enqueue))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (r *EventRelay) enqueue(ctx context.Context, evt eventbus.Event) error {
	value, err := json.Marshal(Envelope{Topic: evt.Topic(), OccurredAt: r.now().UTC(), Payload: evt})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", evt.Topic(), err)
	}
	msg := kafka.Message{
		Key:   []byte(keyOf(evt)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(evt.Topic())},
		},
	}
	select {
	case r.queue <- msg:
		return nil
	default:
		return fmt.Errorf("relay queue full, dropping %s", evt.Topic())
	}
}

// Start drains the queue until ctx is cancelled, then flushes what is left.
func (r *EventRelay) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.flush()
				return
			case msg := <-r.queue:
				r.write(ctx, msg)
			}
		}
	}()
}

func (r *EventRelay) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-r.queue:
			r.write(ctx, msg)
		default:
			return
		}
	}
}

func (r *EventRelay) write(ctx context.Context, msg kafka.Message) {
	err := utils.Retry(ctx, r.log, r.cfg.MaxAttempts, r.cfg.RetryDelay, func(ctx context.Context) error {
		return r.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		r.log.WithField("key", string(msg.Key)).Errorf("Dropping event: %v", err)
	}
}

func (r *EventRelay) Close() error {
	return r.writer.Close()
}

// keyOf keeps every event of one violation on one partition.
func keyOf(evt eventbus.Event) string {
	switch e := evt.(type) {
	case eventbus.TaskCreated:
		return firstNonEmpty(e.Task.CorrelationID, e.Task.ID)
	case eventbus.TaskCompleted:
		return firstNonEmpty(e.Task.CorrelationID, e.Task.ID)
	case eventbus.TaskFailed:
		return firstNonEmpty(e.Task.CorrelationID, e.Task.ID)
	case eventbus.AlertCreated:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	case eventbus.AlertNotified:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	case eventbus.AlertUpdated:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	case eventbus.AlertAcknowledged:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	case eventbus.AlertResolved:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	case eventbus.AlertDismissed:
		return firstNonEmpty(e.Alert.Automation.CorrelationID, e.Alert.ID)
	}
	return string(evt.Topic())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
