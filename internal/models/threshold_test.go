package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validThreshold() Threshold {
	return Threshold{
		Name:       "Greenhouse temperature",
		SensorType: SensorTemperature,
		MinValue:   15,
		MaxValue:   35,
		IsActive:   true,
		Action: ThresholdAction{
			Kind:   ActionBoth,
			Device: &DeviceCommand{DeviceID: "fan-zone-A", Action: DeviceOn},
		},
	}
}

func TestIsViolatedMatchesBounds(t *testing.T) {
	th := validThreshold()
	for _, v := range []float64{-100, 0, 14.999, 15, 20, 35, 35.001, 42, 1e9} {
		want := v < th.MinValue || v > th.MaxValue
		assert.Equal(t, want, th.IsViolated(v), "value %v", v)
	}
	assert.Equal(t, BelowMin, th.ViolationKind(10))
	assert.Equal(t, AboveMax, th.ViolationKind(42))
	assert.Equal(t, ViolationKind(""), th.ViolationKind(15))
	assert.Equal(t, ViolationKind(""), th.ViolationKind(35))
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	th := validThreshold()
	th.MinValue, th.MaxValue = 35, 35
	require.Error(t, th.Validate())

	th.MinValue, th.MaxValue = 40, 35
	require.Error(t, th.Validate())

	th.MinValue, th.MaxValue = math.NaN(), 35
	require.Error(t, th.Validate())

	require.NoError(t, validThreshold().Validate())
}

func TestActionVariantPayloads(t *testing.T) {
	cases := []struct {
		name   string
		action ThresholdAction
		ok     bool
	}{
		{"alert only", ThresholdAction{Kind: ActionAlert, Alert: &AlertPolicy{Recipients: []string{"ops@farm.io"}}}, true},
		{"alert with device", ThresholdAction{Kind: ActionAlert, Device: &DeviceCommand{DeviceID: "p1", Action: DeviceOn}}, false},
		{"device missing command", ThresholdAction{Kind: ActionDevice}, false},
		{"device bad action", ThresholdAction{Kind: ActionDevice, Device: &DeviceCommand{DeviceID: "p1", Action: "blink"}}, false},
		{"device ok", ThresholdAction{Kind: ActionDevice, Device: &DeviceCommand{ActuatorID: "a1", Action: DeviceToggle}}, true},
		{"both ok", ThresholdAction{Kind: ActionBoth, Device: &DeviceCommand{DeviceID: "p1", Action: DeviceOff}}, true},
		{"unknown kind", ThresholdAction{Kind: "sms"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	both := validThreshold().Action
	assert.True(t, both.WantsAlert())
	assert.True(t, both.WantsDevice())
	alertOnly := ThresholdAction{Kind: ActionAlert}
	assert.False(t, alertOnly.WantsDevice())
	assert.Nil(t, alertOnly.Recipients())
}

func TestMatchesScope(t *testing.T) {
	th := validThreshold()
	assert.True(t, th.Matches(SensorTemperature, "farm-1", "zone-1"))
	assert.False(t, th.Matches(SensorHumidity, "farm-1", "zone-1"))

	th.FarmID = "farm-1"
	th.ZoneID = "zone-1"
	assert.True(t, th.Matches(SensorTemperature, "farm-1", "zone-1"))
	assert.False(t, th.Matches(SensorTemperature, "farm-1", "zone-2"))
	assert.False(t, th.Matches(SensorTemperature, "farm-2", "zone-1"))

	th.IsActive = false
	assert.False(t, th.Matches(SensorTemperature, "farm-1", "zone-1"))
}
