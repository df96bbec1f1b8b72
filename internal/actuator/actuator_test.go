package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/logging"
	"farm-automation/internal/models"
)

func TestResolveCommandInvertsLastStatusForToggle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	cmd, err := ResolveCommand(ctx, reg, "fan-zone-A", models.DeviceToggle)
	require.NoError(t, err)
	assert.Equal(t, CommandOn, cmd, "unknown device is switched on")

	require.NoError(t, reg.Record(ctx, "fan-zone-A", CommandOn))
	cmd, err = ResolveCommand(ctx, reg, "fan-zone-A", models.DeviceToggle)
	require.NoError(t, err)
	assert.Equal(t, CommandOff, cmd)

	cmd, err = ResolveCommand(ctx, reg, "fan-zone-A", models.DeviceOn)
	require.NoError(t, err)
	assert.Equal(t, CommandOn, cmd)

	_, err = ResolveCommand(ctx, reg, "fan-zone-A", "blink")
	assert.Error(t, err)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaGatewayWritesKeyedCommand(t *testing.T) {
	w := &recordingWriter{}
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	g := &KafkaGateway{writer: w, now: func() time.Time { return fixed }}

	res, err := g.Control(context.Background(), "pump-main-zone-123", CommandOff, "10.0.0.4:50051")
	require.NoError(t, err)
	assert.Equal(t, CommandOff, res.Command)
	assert.Equal(t, fixed, res.Timestamp)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pump-main-zone-123", string(w.msgs[0].Key))
	var payload commandMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	assert.Equal(t, CommandOff, payload.Command)
	assert.Equal(t, "10.0.0.4:50051", payload.Address)
}

func TestKafkaGatewaySurfacesWriteFailure(t *testing.T) {
	g := &KafkaGateway{writer: &recordingWriter{err: fmt.Errorf("leader not available")}, now: time.Now}
	_, err := g.Control(context.Background(), "pump-1", CommandOn, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")

	_, err = g.Control(context.Background(), "", CommandOn, "")
	assert.Error(t, err)
}

func TestDryRunGatewayAcceptsEveryCommand(t *testing.T) {
	g := NewDryRunGateway(logging.NewNop())
	res, err := g.Control(context.Background(), "valve-3", CommandOff, "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "valve-3", res.DeviceID)
	assert.Equal(t, CommandOff, res.Command)
}
