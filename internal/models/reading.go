package models

import (
	"fmt"
	"math"
	"time"
)

// Reading is a normalized sensor measurement. It is immutable once ingested.
type Reading struct {
	SensorID   string     `json:"sensorId" bson:"sensorId"`
	SensorName string     `json:"sensorName,omitempty" bson:"sensorName,omitempty"`
	SensorType SensorType `json:"sensorType" bson:"sensorType"`
	FarmID     string     `json:"farmId,omitempty" bson:"farmId,omitempty"`
	FarmName   string     `json:"farmName,omitempty" bson:"farmName,omitempty"`
	ZoneID     string     `json:"zoneId,omitempty" bson:"zoneId,omitempty"`
	ZoneName   string     `json:"zoneName,omitempty" bson:"zoneName,omitempty"`
	Value      float64    `json:"value" bson:"value"`
	Unit       string     `json:"unit,omitempty" bson:"unit,omitempty"`
	Timestamp  time.Time  `json:"timestamp" bson:"timestamp"`
	Quality    string     `json:"quality,omitempty" bson:"quality,omitempty"`
}

// Validate rejects readings that cannot be evaluated.
func (r Reading) Validate() error {
	if r.SensorID == "" {
		return fmt.Errorf("sensorId is required")
	}
	if !r.SensorType.Valid() {
		return fmt.Errorf("unknown sensor type %q", r.SensorType)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("reading value must be a finite number")
	}
	return nil
}
