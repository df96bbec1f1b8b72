package models

import (
	"fmt"
	"math"
	"time"
)

type SensorType string

const (
	SensorTemperature  SensorType = "temperature"
	SensorHumidity     SensorType = "humidity"
	SensorLight        SensorType = "light"
	SensorSoilMoisture SensorType = "soilMoisture"
	SensorSoilPH       SensorType = "soilPH"
)

func (s SensorType) Valid() bool {
	switch s {
	case SensorTemperature, SensorHumidity, SensorLight, SensorSoilMoisture, SensorSoilPH:
		return true
	}
	return false
}

// Label is the human readable sensor name used in alert titles.
func (s SensorType) Label() string {
	switch s {
	case SensorTemperature:
		return "Temperature"
	case SensorHumidity:
		return "Humidity"
	case SensorLight:
		return "Light"
	case SensorSoilMoisture:
		return "Soil moisture"
	case SensorSoilPH:
		return "Soil pH"
	}
	return string(s)
}

type ViolationKind string

const (
	BelowMin ViolationKind = "below_min"
	AboveMax ViolationKind = "above_max"
)

type DeviceAction string

const (
	DeviceOn     DeviceAction = "on"
	DeviceOff    DeviceAction = "off"
	DeviceToggle DeviceAction = "toggle"
)

func (a DeviceAction) Valid() bool {
	return a == DeviceOn || a == DeviceOff || a == DeviceToggle
}

// ActionKind tags which sub-payloads of ThresholdAction are meaningful.
type ActionKind string

const (
	ActionAlert  ActionKind = "alert"
	ActionDevice ActionKind = "device"
	ActionBoth   ActionKind = "both"
)

// DeviceCommand is the actuator half of a threshold action.
type DeviceCommand struct {
	ActuatorID string       `json:"actuatorId,omitempty" bson:"actuatorId,omitempty"`
	DeviceID   string       `json:"deviceId" bson:"deviceId"`
	Action     DeviceAction `json:"action" bson:"action"`
	Address    string       `json:"address,omitempty" bson:"address,omitempty"`
}

// AlertPolicy is the notification half of a threshold action.
type AlertPolicy struct {
	Recipients []string `json:"recipients,omitempty" bson:"recipients,omitempty"`
	Priority   string   `json:"priority,omitempty" bson:"priority,omitempty"`
}

type ThresholdAction struct {
	Kind   ActionKind     `json:"type" bson:"type"`
	Device *DeviceCommand `json:"device,omitempty" bson:"device,omitempty"`
	Alert  *AlertPolicy   `json:"alert,omitempty" bson:"alert,omitempty"`
}

// WantsDevice reports whether a violation should enqueue an actuator command.
func (a ThresholdAction) WantsDevice() bool {
	return (a.Kind == ActionDevice || a.Kind == ActionBoth) && a.Device != nil
}

// WantsAlert reports whether a violation should raise an alert.
func (a ThresholdAction) WantsAlert() bool {
	return a.Kind == ActionAlert || a.Kind == ActionBoth
}

// Recipients returns the configured notification recipients, if any.
func (a ThresholdAction) Recipients() []string {
	if a.Alert == nil {
		return nil
	}
	return a.Alert.Recipients
}

func (a ThresholdAction) Validate() error {
	switch a.Kind {
	case ActionAlert:
		if a.Device != nil {
			return fmt.Errorf("action type %q must not carry a device command", a.Kind)
		}
	case ActionDevice, ActionBoth:
		if a.Device == nil {
			return fmt.Errorf("action type %q requires a device command", a.Kind)
		}
		if a.Device.DeviceID == "" && a.Device.ActuatorID == "" {
			return fmt.Errorf("device command requires deviceId or actuatorId")
		}
		if !a.Device.Action.Valid() {
			return fmt.Errorf("invalid device action %q", a.Device.Action)
		}
		if a.Kind == ActionDevice && a.Alert != nil {
			return fmt.Errorf("action type %q must not carry alert settings", a.Kind)
		}
	default:
		return fmt.Errorf("invalid action type %q", a.Kind)
	}
	return nil
}

// ViolationRecord is the last violation observed for a threshold.
type ViolationRecord struct {
	Value      float64       `json:"value" bson:"value"`
	Kind       ViolationKind `json:"kind" bson:"kind"`
	Severity   Severity      `json:"severity" bson:"severity"`
	SensorID   string        `json:"sensorId,omitempty" bson:"sensorId,omitempty"`
	OccurredAt time.Time     `json:"occurredAt" bson:"occurredAt"`
}

// Threshold is an acceptable value range for a sensor type, optionally scoped
// to a farm and zone, plus the action to take when a reading leaves it.
type Threshold struct {
	ID             string           `json:"id" bson:"_id"`
	Name           string           `json:"name" bson:"name"`
	SensorType     SensorType       `json:"sensorType" bson:"sensorType"`
	FarmID         string           `json:"farmId,omitempty" bson:"farmId,omitempty"`
	ZoneID         string           `json:"zoneId,omitempty" bson:"zoneId,omitempty"`
	MinValue       float64          `json:"minValue" bson:"minValue"`
	MaxValue       float64          `json:"maxValue" bson:"maxValue"`
	Action         ThresholdAction  `json:"action" bson:"action"`
	IsActive       bool             `json:"isActive" bson:"isActive"`
	ViolationCount int64            `json:"violationCount" bson:"violationCount"`
	LastViolation  *ViolationRecord `json:"lastViolation,omitempty" bson:"lastViolation,omitempty"`
	Description    string           `json:"description,omitempty" bson:"description,omitempty"`
	CreatedBy      string           `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt" bson:"updatedAt"`
}

func (t Threshold) IsViolated(value float64) bool {
	return value < t.MinValue || value > t.MaxValue
}

// ViolationKind returns the violated bound, or "" when value is in range.
func (t Threshold) ViolationKind(value float64) ViolationKind {
	if value < t.MinValue {
		return BelowMin
	}
	if value > t.MaxValue {
		return AboveMax
	}
	return ""
}

// Bound returns the limit a violation of the given kind is measured against.
func (t Threshold) Bound(kind ViolationKind) float64 {
	if kind == BelowMin {
		return t.MinValue
	}
	return t.MaxValue
}

// Matches reports whether the threshold applies to the given scope. Empty
// farm or zone on the threshold matches any value.
func (t Threshold) Matches(sensorType SensorType, farmID, zoneID string) bool {
	if !t.IsActive || t.SensorType != sensorType {
		return false
	}
	if t.FarmID != "" && t.FarmID != farmID {
		return false
	}
	if t.ZoneID != "" && t.ZoneID != zoneID {
		return false
	}
	return true
}

func (t Threshold) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !t.SensorType.Valid() {
		return fmt.Errorf("invalid sensor type %q", t.SensorType)
	}
	if math.IsNaN(t.MinValue) || math.IsNaN(t.MaxValue) || math.IsInf(t.MinValue, 0) || math.IsInf(t.MaxValue, 0) {
		return fmt.Errorf("min and max values must be finite")
	}
	if t.MinValue >= t.MaxValue {
		return fmt.Errorf("min value must be less than max value")
	}
	return t.Action.Validate()
}
