package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
	"farm-automation/internal/models"
)

// Command is an explicit device command. Toggle never reaches a gateway.
type Command string

const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// Action maps the command back to the device action vocabulary.
func (c Command) Action() models.DeviceAction {
	if c == CommandOn {
		return models.DeviceOn
	}
	return models.DeviceOff
}

func (c Command) Invert() Command {
	if c == CommandOn {
		return CommandOff
	}
	return CommandOn
}

// Result is what the gateway reports for an accepted command.
type Result struct {
	DeviceID  string    `json:"deviceId"`
	Command   Command   `json:"command"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Gateway performs the transport-level device command. It may fail
// synchronously and gives no partial-completion signal.
type Gateway interface {
	Control(ctx context.Context, deviceID string, cmd Command, address string) (Result, error)
}

// StatusRegistry remembers the last command each device accepted.
type StatusRegistry interface {
	LastStatus(ctx context.Context, deviceID string) (cmd Command, known bool, err error)
	Record(ctx context.Context, deviceID string, cmd Command) error
}

// ResolveCommand turns a requested device action into an explicit command.
// Toggle inverts the last known status; an unknown device is switched on.
func ResolveCommand(ctx context.Context, registry StatusRegistry, deviceID string, action models.DeviceAction) (Command, error) {
	switch action {
	case models.DeviceOn:
		return CommandOn, nil
	case models.DeviceOff:
		return CommandOff, nil
	case models.DeviceToggle:
		last, known, err := registry.LastStatus(ctx, deviceID)
		if err != nil {
			return "", fmt.Errorf("failed to read last status of %s: %w", deviceID, err)
		}
		if !known {
			return CommandOn, nil
		}
		return last.Invert(), nil
	}
	return "", fmt.Errorf("unsupported device action %q", action)
}

// DryRunGateway accepts every command without contacting a device. It is
// used when no actuator transport is configured.
type DryRunGateway struct {
	log *logrus.Entry
}

func NewDryRunGateway(logger *logging.Logger) *DryRunGateway {
	return &DryRunGateway{log: logger.WithComponent("actuator-dry-run")}
}

func (g *DryRunGateway) Control(ctx context.Context, deviceID string, cmd Command, address string) (Result, error) {
	g.log.WithFields(logrus.Fields{"device_id": deviceID, "address": address}).Infof("Dry run: would send %s", cmd)
	return Result{DeviceID: deviceID, Command: cmd, Message: "dry run", Timestamp: time.Now().UTC()}, nil
}
