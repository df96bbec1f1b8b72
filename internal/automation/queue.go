package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

// EnqueueRequest describes one actuator command to schedule.
type EnqueueRequest struct {
	ThresholdID   string
	ThresholdName string
	ActuatorID    string
	DeviceID      string
	Action        models.DeviceAction
	CorrelationID string
	Metadata      models.TaskMetadata
}

func (r EnqueueRequest) validate() error {
	if r.DeviceID == "" && r.ActuatorID == "" {
		return apperrors.NewValidationError("automation task needs a device or actuator id", nil)
	}
	if !r.Action.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported device action %q", r.Action), nil)
	}
	return nil
}

// Queue durably records automation tasks for the worker to pick up.
type Queue struct {
	tasks store.TaskStore
	bus   *eventbus.Bus
	log   *logrus.Entry
	now   func() time.Time
}

func NewQueue(tasks store.TaskStore, bus *eventbus.Bus, logger *logging.Logger) *Queue {
	return &Queue{
		tasks: tasks,
		bus:   bus,
		log:   logger.WithComponent("automation-queue"),
		now:   time.Now,
	}
}

// Enqueue persists a pending task due immediately and announces it. The task
// is durable before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (models.AutomationTask, error) {
	if err := req.validate(); err != nil {
		return models.AutomationTask{}, err
	}

	now := q.now().UTC()
	task, err := q.tasks.CreateTask(ctx, models.AutomationTask{
		ThresholdID:   req.ThresholdID,
		ActuatorID:    req.ActuatorID,
		DeviceID:      req.DeviceID,
		CorrelationID: req.CorrelationID,
		Action:        req.Action,
		Status:        models.TaskPending,
		ScheduledAt:   now,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return models.AutomationTask{}, fmt.Errorf("failed to enqueue automation task: %w", err)
	}

	metrics.TasksEnqueued.Inc()
	q.log.WithFields(logrus.Fields{
		"task_id":        task.ID,
		"device_id":      task.Target(),
		"action":         task.Action,
		"correlation_id": task.CorrelationID,
	}).Info("Automation task enqueued")

	q.bus.Publish(ctx, eventbus.TaskCreated{Task: task, ThresholdName: req.ThresholdName})
	return task, nil
}

// AttachAlert links every task of a correlation to alertID. Calling it twice
// is harmless.
func (q *Queue) AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error) {
	if correlationID == "" || alertID == "" {
		return nil, nil
	}
	tasks, err := q.tasks.AttachAlert(ctx, correlationID, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach alert %s to correlation %s: %w", alertID, correlationID, err)
	}
	if len(tasks) > 0 {
		q.log.WithFields(logrus.Fields{
			"alert_id":       alertID,
			"correlation_id": correlationID,
			"tasks":          len(tasks),
		}).Debug("Alert attached to automation tasks")
	}
	return tasks, nil
}

func (q *Queue) Get(ctx context.Context, id string) (models.AutomationTask, error) {
	return q.tasks.GetTask(ctx, id)
}

func (q *Queue) ListByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error) {
	if correlationID == "" {
		return nil, apperrors.NewValidationError("correlationId is required", nil)
	}
	return q.tasks.ListTasksByCorrelation(ctx, correlationID)
}
