package evaluator

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

// Severity bands, as a percentage of the threshold range. A deviation equal to
// a band's lower edge belongs to that band.
const (
	criticalPercent = 50.0
	highPercent     = 30.0
	mediumPercent   = 10.0
)

// Violation is one threshold a reading fell outside of.
type Violation struct {
	Threshold        models.Threshold
	Reading          models.Reading
	Kind             models.ViolationKind
	Bound            float64
	Deviation        float64
	DeviationPercent float64
	Severity         models.Severity
}

// SeverityForPercent maps a deviation percentage onto a severity band.
func SeverityForPercent(percent float64) models.Severity {
	switch {
	case percent >= criticalPercent:
		return models.SeverityCritical
	case percent >= highPercent:
		return models.SeverityHigh
	case percent >= mediumPercent:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// DeviationPercent is |value - violated bound| as a percentage of max - min.
func DeviationPercent(value float64, t models.Threshold, kind models.ViolationKind) float64 {
	span := t.MaxValue - t.MinValue
	if span <= 0 {
		return 0
	}
	return math.Abs(value-t.Bound(kind)) * 100 / span
}

// Check evaluates one reading against one threshold.
func Check(r models.Reading, t models.Threshold) (Violation, bool) {
	kind := t.ViolationKind(r.Value)
	if kind == "" {
		return Violation{}, false
	}
	bound := t.Bound(kind)
	percent := DeviationPercent(r.Value, t, kind)
	return Violation{
		Threshold:        t,
		Reading:          r,
		Kind:             kind,
		Bound:            bound,
		Deviation:        math.Abs(r.Value - bound),
		DeviationPercent: percent,
		Severity:         SeverityForPercent(percent),
	}, true
}

// Evaluate returns the violations of r against thresholds, in threshold order.
func Evaluate(r models.Reading, thresholds []models.Threshold) []Violation {
	var out []Violation
	for _, t := range thresholds {
		if v, ok := Check(r, t); ok {
			out = append(out, v)
		}
	}
	return out
}

// ValidateThreshold rejects thresholds that must never be persisted.
func ValidateThreshold(t models.Threshold) error {
	if err := t.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	return nil
}

// Evaluator loads the applicable thresholds for a reading and evaluates it.
type Evaluator struct {
	thresholds store.ThresholdStore
	log        *logrus.Entry
}

func New(thresholds store.ThresholdStore, logger *logging.Logger) *Evaluator {
	return &Evaluator{thresholds: thresholds, log: logger.WithComponent("threshold-evaluator")}
}

// Evaluate finds active thresholds for sensorType in the farm/zone scope and
// returns those the reading violates. Lookup failures yield no violations.
func (e *Evaluator) Evaluate(ctx context.Context, r models.Reading, sensorType models.SensorType, farmID, zoneID string) []Violation {
	metrics.ReadingsEvaluated.WithLabelValues(string(sensorType)).Inc()

	thresholds, err := e.thresholds.FindActiveThresholds(ctx, sensorType, farmID, zoneID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"sensor_type": sensorType, "farm_id": farmID, "zone_id": zoneID}).
			Warnf("No applicable thresholds: %v", err)
		return nil
	}
	if len(thresholds) == 0 {
		e.log.Debugf("No active thresholds for %s in farm=%q zone=%q", sensorType, farmID, zoneID)
		return nil
	}

	violations := Evaluate(r, thresholds)
	for _, v := range violations {
		metrics.ThresholdViolations.WithLabelValues(string(sensorType), string(v.Kind), string(v.Severity)).Inc()
		e.log.Infof("Threshold %s violated by sensor %s: value=%.2f kind=%s severity=%s (%.1f%%)",
			v.Threshold.ID, r.SensorID, r.Value, v.Kind, v.Severity, v.DeviationPercent)
	}
	return violations
}
