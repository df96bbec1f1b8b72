package eventbus

import (
	"farm-automation/internal/models"
)

type Topic string

const (
	TopicReadingProcessed     Topic = "sensor.reading.processed"
	TopicAlertCreateRequested Topic = "alert.create.requested"
	TopicTaskCreated          Topic = "automation.task.created"
	TopicTaskCompleted        Topic = "automation.task.completed"
	TopicTaskFailed           Topic = "automation.task.failed"
	TopicAlertCreated         Topic = "alert.created"
	TopicAlertNotified        Topic = "alert.notified"
	TopicAlertUpdated         Topic = "alert.updated"
	TopicAlertAcknowledged    Topic = "alert.acknowledged"
	TopicAlertResolved        Topic = "alert.resolved"
	TopicAlertDismissed       Topic = "alert.dismissed"
	TopicAlertBroadcast       Topic = "alert.broadcast"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Topic() Topic
}

// ReadingProcessed carries a normalized reading ready for evaluation.
type ReadingProcessed struct {
	Reading models.Reading `json:"reading"`
}

// AlertCreateRequested asks the lifecycle manager to raise an alert for a violation.
type AlertCreateRequested struct {
	CorrelationID string                   `json:"correlationId,omitempty"`
	Type          models.AlertType         `json:"type"`
	Severity      models.Severity          `json:"severity"`
	Title         string                   `json:"title"`
	Message       string                   `json:"message"`
	Threshold     models.ThresholdSnapshot `json:"threshold"`
	Sensor        models.SensorSnapshot    `json:"sensor"`
	Device        *models.DeviceSnapshot   `json:"device,omitempty"`
	FarmID        string                   `json:"farmId,omitempty"`
	FarmName      string                   `json:"farmName,omitempty"`
	ZoneID        string                   `json:"zoneId,omitempty"`
	ZoneName      string                   `json:"zoneName,omitempty"`
}

type TaskCreated struct {
	Task          models.AutomationTask `json:"task"`
	ThresholdName string                `json:"thresholdName,omitempty"`
}

type TaskCompleted struct {
	Task   models.AutomationTask `json:"task"`
	Result models.TaskResult     `json:"result"`
}

// TaskFailed is published after every failed attempt. Final is set when the
// task will not be retried.
type TaskFailed struct {
	Task  models.AutomationTask `json:"task"`
	Error string                `json:"error"`
	Final bool                  `json:"final"`
}

type AlertCreated struct {
	Alert models.Alert `json:"alert"`
}

type AlertNotified struct {
	Alert         models.Alert                `json:"alert"`
	Notifications []models.NotificationRecord `json:"notifications"`
	Delivered     bool                        `json:"delivered"`
}

type AlertUpdated struct {
	Alert  models.Alert `json:"alert"`
	Reason string       `json:"reason"`
}

type AlertAcknowledged struct {
	Alert  models.Alert `json:"alert"`
	UserID string       `json:"userId"`
}

type AlertResolved struct {
	Alert  models.Alert `json:"alert"`
	UserID string       `json:"userId"`
}

type AlertDismissed struct {
	Alert  models.Alert `json:"alert"`
	UserID string       `json:"userId"`
}

// AlertBroadcast is the best-effort real-time delivery of an alert.
type AlertBroadcast struct {
	Alert models.Alert `json:"alert"`
}

func (ReadingProcessed) Topic() Topic     { return TopicReadingProcessed }
func (AlertCreateRequested) Topic() Topic { return TopicAlertCreateRequested }
func (TaskCreated) Topic() Topic          { return TopicTaskCreated }
func (TaskCompleted) Topic() Topic        { return TopicTaskCompleted }
func (TaskFailed) Topic() Topic           { return TopicTaskFailed }
func (AlertCreated) Topic() Topic         { return TopicAlertCreated }
func (AlertNotified) Topic() Topic        { return TopicAlertNotified }
func (AlertUpdated) Topic() Topic         { return TopicAlertUpdated }
func (AlertAcknowledged) Topic() Topic    { return TopicAlertAcknowledged }
func (AlertResolved) Topic() Topic        { return TopicAlertResolved }
func (AlertDismissed) Topic() Topic       { return TopicAlertDismissed }
func (AlertBroadcast) Topic() Topic       { return TopicAlertBroadcast }
