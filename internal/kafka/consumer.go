package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
	"farm-automation/internal/models"
)

// Ingester accepts a decoded reading for evaluation.
type Ingester interface {
	Ingest(ctx context.Context, r models.Reading) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ReadingConsumer feeds sensor readings from a Kafka topic into the pipeline.
// Every message is committed once handled, including malformed ones, so a
// reading is evaluated at most once.
type ReadingConsumer struct {
	reader   messageReader
	ingester Ingester
	log      *logrus.Entry
	backoff  time.Duration
}

func NewReadingConsumer(cfg ConsumerConfig, ingester Ingester, logger *logging.Logger) (*ReadingConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newReadingConsumer(reader, ingester, logger), nil
}

func newReadingConsumer(reader messageReader, ingester Ingester, logger *logging.Logger) *ReadingConsumer {
	return &ReadingConsumer{
		reader:   reader,
		ingester: ingester,
		log:      logger.WithComponent("kafka-consumer"),
		backoff:  time.Second,
	}
}

// Start consumes until ctx is cancelled.
func (c *ReadingConsumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.log.Info("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.log.Info("Kafka consumer stopped")
					return
				}
				c.log.Errorf("Read message failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.backoff):
				}
				continue
			}
			c.handle(ctx, msg)
		}
	}()
}

func (c *ReadingConsumer) handle(ctx context.Context, msg kafka.Message) {
	log := c.log.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})

	var reading models.Reading
	if err := json.Unmarshal(msg.Value, &reading); err != nil {
		log.Errorf("Unmarshal message failed: %v", err)
	} else if err := c.ingester.Ingest(ctx, reading); err != nil {
		log.WithField("sensor_id", reading.SensorID).Errorf("Reading rejected: %v", err)
	} else {
		log.WithField("sensor_id", reading.SensorID).Debug("Processed Kafka message")
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Errorf("Commit failed: %v", err)
	}
}

func (c *ReadingConsumer) Close() error {
	return c.reader.Close()
}
