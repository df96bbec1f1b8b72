package models

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskSuccess    TaskStatus = "success"
	TaskFailed     TaskStatus = "failed"
)

// ClaimableStatuses are the task states a worker may pick up.
var ClaimableStatuses = []TaskStatus{TaskPending, TaskFailed}

// TaskMetadata carries the violation context a task was created for.
type TaskMetadata struct {
	ViolationKind ViolationKind `json:"violationKind,omitempty" bson:"violationKind,omitempty"`
	Value         float64       `json:"value,omitempty" bson:"value,omitempty"`
	SensorID      string        `json:"sensorId,omitempty" bson:"sensorId,omitempty"`
	SensorType    SensorType    `json:"sensorType,omitempty" bson:"sensorType,omitempty"`
	FarmID        string        `json:"farmId,omitempty" bson:"farmId,omitempty"`
	ZoneID        string        `json:"zoneId,omitempty" bson:"zoneId,omitempty"`
	Address       string        `json:"address,omitempty" bson:"address,omitempty"`
	TriggeredBy   string        `json:"triggeredBy,omitempty" bson:"triggeredBy,omitempty"`
}

// TaskResult is what the actuator gateway reported for a successful command.
type TaskResult struct {
	DeviceID       string       `json:"deviceId" bson:"deviceId"`
	ExecutedAction DeviceAction `json:"executedAction" bson:"executedAction"`
	Message        string       `json:"message,omitempty" bson:"message,omitempty"`
	CompletedAt    time.Time    `json:"completedAt" bson:"completedAt"`
}

// AutomationTask is one requested actuator command with its retry state.
// Tasks are never deleted.
type AutomationTask struct {
	ID            string       `json:"id" bson:"_id"`
	ThresholdID   string       `json:"thresholdId,omitempty" bson:"thresholdId,omitempty"`
	AlertID       string       `json:"alertId,omitempty" bson:"alertId,omitempty"`
	ActuatorID    string       `json:"actuatorId,omitempty" bson:"actuatorId,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty" bson:"correlationId,omitempty"`
	DeviceID      string       `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
	Action        DeviceAction `json:"action" bson:"action"`
	Status        TaskStatus   `json:"status" bson:"status"`
	Attempts      int          `json:"attempts" bson:"attempts"`
	ScheduledAt   time.Time    `json:"scheduledAt" bson:"scheduledAt"`
	LastAttemptAt *time.Time   `json:"lastAttemptAt,omitempty" bson:"lastAttemptAt,omitempty"`
	Error         string       `json:"error,omitempty" bson:"error,omitempty"`
	Result        *TaskResult  `json:"result,omitempty" bson:"result,omitempty"`
	Metadata      TaskMetadata `json:"metadata" bson:"metadata"`
	CreatedAt     time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// Target is the device identifier sent to the gateway.
func (t AutomationTask) Target() string {
	if t.DeviceID != "" {
		return t.DeviceID
	}
	return t.ActuatorID
}

// Claimable reports whether a worker may claim the task at now.
func (t AutomationTask) Claimable(now time.Time, maxAttempts int) bool {
	if t.Status != TaskPending && t.Status != TaskFailed {
		return false
	}
	return !t.ScheduledAt.After(now) && t.Attempts < maxAttempts
}
