package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the gateway uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// commandMessage is the payload device controllers consume.
type commandMessage struct {
	DeviceID string    `json:"deviceId"`
	Command  Command   `json:"command"`
	Address  string    `json:"address,omitempty"`
	Mode     string    `json:"mode"`
	IssuedAt time.Time `json:"issuedAt"`
}

// KafkaGateway publishes device commands to the actuator command topic and
// treats an acknowledged write as an accepted command.
type KafkaGateway struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaGateway(brokers []string, topic string) (*KafkaGateway, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // one partition per device keeps command order
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  1,
		Async:        false,
	}
	return &KafkaGateway{writer: writer, now: time.Now}, nil
}

func (g *KafkaGateway) Control(ctx context.Context, deviceID string, cmd Command, address string) (Result, error) {
	if deviceID == "" {
		return Result{}, errors.New("device id is required")
	}
	if cmd != CommandOn && cmd != CommandOff {
		return Result{}, fmt.Errorf("unsupported command %q", cmd)
	}

	issuedAt := g.now().UTC()
	data, err := json.Marshal(commandMessage{
		DeviceID: deviceID,
		Command:  cmd,
		Address:  address,
		Mode:     "auto",
		IssuedAt: issuedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode command: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(deviceID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "device_id", Value: []byte(deviceID)},
			{Key: "command", Value: []byte(cmd)},
		},
		Time: issuedAt,
	}
	if err := g.writer.WriteMessages(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("failed to send %s to %s: %w", cmd, deviceID, err)
	}

	return Result{
		DeviceID:  deviceID,
		Command:   cmd,
		Message:   fmt.Sprintf("command %s accepted for %s", cmd, deviceID),
		Timestamp: issuedAt,
	}, nil
}

func (g *KafkaGateway) Close() error {
	return g.writer.Close()
}
