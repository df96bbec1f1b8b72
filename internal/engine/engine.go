package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/automation"
	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/evaluator"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, req automation.EnqueueRequest) (models.AutomationTask, error)
}

// Engine turns processed readings into automation tasks and alert requests.
type Engine struct {
	evaluator  *evaluator.Evaluator
	thresholds store.ThresholdStore
	queue      Enqueuer
	bus        *eventbus.Bus
	log        *logrus.Entry
	newID      func() string
	now        func() time.Time
}

func New(ev *evaluator.Evaluator, thresholds store.ThresholdStore, queue Enqueuer, bus *eventbus.Bus, logger *logging.Logger) *Engine {
	return &Engine{
		evaluator:  ev,
		thresholds: thresholds,
		queue:      queue,
		bus:        bus,
		log:        logger.WithComponent("automation-engine"),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Subscribe starts evaluating sensor.reading.processed events.
func (e *Engine) Subscribe() func() {
	return eventbus.On(e.bus, "automation-engine", func(ctx context.Context, evt eventbus.ReadingProcessed) error {
		_, err := e.Process(ctx, evt.Reading)
		return err
	})
}

// Ingest validates a reading and publishes it for evaluation.
func (e *Engine) Ingest(ctx context.Context, r models.Reading) error {
	if err := r.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now().UTC()
	}
	e.bus.Publish(ctx, eventbus.ReadingProcessed{Reading: r})
	return nil
}

// Process evaluates one reading and acts on every violation. A failure on
// one violation does not stop the others; the errors are joined.
func (e *Engine) Process(ctx context.Context, r models.Reading) ([]evaluator.Violation, error) {
	violations := e.evaluator.Evaluate(ctx, r, r.SensorType, r.FarmID, r.ZoneID)

	var errs []error
	for _, v := range violations {
		if err := e.handle(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return violations, errors.Join(errs...)
}

func (e *Engine) handle(ctx context.Context, v evaluator.Violation) error {
	t := v.Threshold
	r := v.Reading
	correlationID := e.newID()
	log := e.log.WithFields(logrus.Fields{
		"threshold_id":   t.ID,
		"sensor_id":      r.SensorID,
		"correlation_id": correlationID,
	})

	err := e.thresholds.RecordViolation(ctx, t.ID, models.ViolationRecord{
		Value:      r.Value,
		Kind:       v.Kind,
		Severity:   v.Severity,
		SensorID:   r.SensorID,
		OccurredAt: timestampOf(r, e.now),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record threshold violation")
	}

	var errs []error
	if t.Action.WantsDevice() {
		dev := t.Action.Device
		_, err := e.queue.Enqueue(ctx, automation.EnqueueRequest{
			ThresholdID:   t.ID,
			ThresholdName: t.Name,
			ActuatorID:    dev.ActuatorID,
			DeviceID:      dev.DeviceID,
			Action:        dev.Action,
			CorrelationID: correlationID,
			Metadata: models.TaskMetadata{
				ViolationKind: v.Kind,
				Value:         r.Value,
				SensorID:      r.SensorID,
				SensorType:    r.SensorType,
				FarmID:        r.FarmID,
				ZoneID:        r.ZoneID,
				Address:       dev.Address,
				TriggeredBy:   "threshold",
			},
		})
		if err != nil {
			log.WithError(err).Error("Failed to enqueue automation task")
			errs = append(errs, err)
		}
	}

	if t.Action.WantsAlert() {
		e.bus.Publish(ctx, alertRequest(v, correlationID))
	}
	return errors.Join(errs...)
}

func alertRequest(v evaluator.Violation, correlationID string) eventbus.AlertCreateRequested {
	t, r := v.Threshold, v.Reading
	req := eventbus.AlertCreateRequested{
		CorrelationID: correlationID,
		Type:          models.AlertThresholdExceeded,
		Severity:      v.Severity,
		Title:         Title(v),
		Message:       Message(v),
		Threshold: models.ThresholdSnapshot{
			ThresholdID:   t.ID,
			Name:          t.Name,
			MinValue:      t.MinValue,
			MaxValue:      t.MaxValue,
			ViolationKind: v.Kind,
			Recipients:    t.Action.Recipients(),
		},
		Sensor: models.SensorSnapshot{
			SensorID:   r.SensorID,
			SensorName: r.SensorName,
			SensorType: r.SensorType,
			Value:      r.Value,
			Unit:       r.Unit,
			Timestamp:  r.Timestamp,
		},
		FarmID:   r.FarmID,
		FarmName: r.FarmName,
		ZoneID:   r.ZoneID,
		ZoneName: r.ZoneName,
	}
	if t.Action.WantsDevice() {
		req.Device = &models.DeviceSnapshot{
			ActuatorID:      t.Action.Device.ActuatorID,
			DeviceID:        t.Action.Device.DeviceID,
			RequestedAction: t.Action.Device.Action,
		}
	}
	return req
}

// Title reads like "Temperature is too high".
func Title(v evaluator.Violation) string {
	direction := "high"
	if v.Kind == models.BelowMin {
		direction = "low"
	}
	return fmt.Sprintf("%s is too %s", v.Reading.SensorType.Label(), direction)
}

// Message describes the reading, the violated bound and where it happened.
func Message(v evaluator.Violation) string {
	r := v.Reading
	var b strings.Builder
	fmt.Fprintf(&b, "%s reading is %s", r.SensorType.Label(), formatValue(r.Value, r.Unit))
	if v.Kind == models.BelowMin {
		fmt.Fprintf(&b, ", below the minimum of %s", formatValue(v.Threshold.MinValue, r.Unit))
	} else {
		fmt.Fprintf(&b, ", above the maximum of %s", formatValue(v.Threshold.MaxValue, r.Unit))
	}
	if scope := scopeOf(r); scope != "" {
		fmt.Fprintf(&b, " in %s", scope)
	}
	b.WriteString(".")
	if v.Threshold.Action.WantsDevice() {
		b.WriteString(" Automatic action has been triggered.")
	}
	return b.String()
}

func formatValue(v float64, unit string) string {
	s := fmt.Sprintf("%.2f", v)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func scopeOf(r models.Reading) string {
	farm := firstNonEmpty(r.FarmName, r.FarmID)
	zone := firstNonEmpty(r.ZoneName, r.ZoneID)
	switch {
	case farm != "" && zone != "":
		return fmt.Sprintf("%s / %s", farm, zone)
	case farm != "":
		return farm
	default:
		return zone
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func timestampOf(r models.Reading, now func() time.Time) time.Time {
	if r.Timestamp.IsZero() {
		return now().UTC()
	}
	return r.Timestamp
}
