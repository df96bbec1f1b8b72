package models

import "time"

type AlertType string

const (
	AlertThresholdExceeded AlertType = "threshold_exceeded"
	AlertDeviceMalfunction AlertType = "device_malfunction"
	AlertSystemError       AlertType = "system_error"
	AlertManual            AlertType = "manual"
)

type AlertStatus string

const (
	AlertNew                AlertStatus = "new"
	AlertNotified           AlertStatus = "notified"
	AlertNotificationFailed AlertStatus = "notification_failed"
	AlertActionExecuted     AlertStatus = "action_executed"
	AlertActionFailed       AlertStatus = "action_failed"
	AlertAcknowledged       AlertStatus = "acknowledged"
	AlertResolved           AlertStatus = "resolved"
	AlertDismissed          AlertStatus = "dismissed"
)

// IsTerminal reports whether no further transition is allowed.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

// allowedFrom lists, per target status, the statuses it may be entered from.
// Transitions only move forward; dismissed is the explicit override.
var allowedFrom = map[AlertStatus][]AlertStatus{
	AlertNotified:           {AlertNew},
	AlertNotificationFailed: {AlertNew},
	AlertActionExecuted:     {AlertNew, AlertNotified, AlertNotificationFailed, AlertActionFailed},
	AlertActionFailed:       {AlertNew, AlertNotified, AlertNotificationFailed},
	AlertAcknowledged:       {AlertNew, AlertNotified, AlertNotificationFailed, AlertActionExecuted, AlertActionFailed, AlertAcknowledged},
	AlertResolved:           {AlertNew, AlertNotified, AlertNotificationFailed, AlertActionExecuted, AlertActionFailed, AlertAcknowledged},
	AlertDismissed:          {AlertNew, AlertNotified, AlertNotificationFailed, AlertActionExecuted, AlertActionFailed, AlertAcknowledged},
}

// AllowedFrom returns the statuses from which to can be entered.
func AllowedFrom(to AlertStatus) []AlertStatus {
	return append([]AlertStatus(nil), allowedFrom[to]...)
}

func (s AlertStatus) CanTransition(to AlertStatus) bool {
	for _, from := range allowedFrom[to] {
		if from == s {
			return true
		}
	}
	return false
}

// Active statuses are shown on the operator dashboard.
var ActiveAlertStatuses = []AlertStatus{
	AlertNew, AlertNotified, AlertNotificationFailed, AlertActionExecuted, AlertActionFailed, AlertAcknowledged,
}

type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
	ChannelWebsocket Channel = "websocket"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// History events.
const (
	EventAlertCreated          = "alert_created"
	EventTasksLinked           = "automation_tasks_linked"
	EventNotificationSummary   = "notification_summary"
	EventAutomationTaskSuccess = "automation_task_success"
	EventAutomationTaskFailed  = "automation_task_failed"
	EventAcknowledged          = "acknowledged"
	EventResolved              = "resolved"
	EventDismissed             = "dismissed"
)

// ThresholdSnapshot is the threshold as it was when the alert was raised.
type ThresholdSnapshot struct {
	ThresholdID   string        `json:"thresholdId,omitempty" bson:"thresholdId,omitempty"`
	Name          string        `json:"name,omitempty" bson:"name,omitempty"`
	MinValue      float64       `json:"minValue" bson:"minValue"`
	MaxValue      float64       `json:"maxValue" bson:"maxValue"`
	ViolationKind ViolationKind `json:"violationType" bson:"violationType"`
	Recipients    []string      `json:"recipients,omitempty" bson:"recipients,omitempty"`
}

type SensorSnapshot struct {
	SensorID   string     `json:"sensorId" bson:"sensorId"`
	SensorName string     `json:"sensorName,omitempty" bson:"sensorName,omitempty"`
	SensorType SensorType `json:"sensorType" bson:"sensorType"`
	Value      float64    `json:"value" bson:"value"`
	Unit       string     `json:"unit,omitempty" bson:"unit,omitempty"`
	Timestamp  time.Time  `json:"timestamp" bson:"timestamp"`
}

type DeviceSnapshot struct {
	ActuatorID      string       `json:"actuatorId,omitempty" bson:"actuatorId,omitempty"`
	DeviceID        string       `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
	RequestedAction DeviceAction `json:"requestedAction,omitempty" bson:"requestedAction,omitempty"`
}

// AlertAutomation joins an alert to the automation tasks of the same violation.
type AlertAutomation struct {
	CorrelationID   string     `json:"correlationId,omitempty" bson:"correlationId,omitempty"`
	TaskIDs         []string   `json:"taskIds" bson:"taskIds"`
	RequestedAction string     `json:"requestedAction,omitempty" bson:"requestedAction,omitempty"`
	LastTaskStatus  TaskStatus `json:"lastTaskStatus,omitempty" bson:"lastTaskStatus,omitempty"`
	LastExecutedAt  *time.Time `json:"lastExecutedAt,omitempty" bson:"lastExecutedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
}

type NotificationRecord struct {
	Channel   Channel            `json:"channel" bson:"channel"`
	Recipient string             `json:"recipient" bson:"recipient"`
	Status    NotificationStatus `json:"status" bson:"status"`
	SentAt    time.Time          `json:"sentAt" bson:"sentAt"`
	MessageID string             `json:"messageId,omitempty" bson:"messageId,omitempty"`
	Error     string             `json:"error,omitempty" bson:"error,omitempty"`
}

type HistoryEntry struct {
	Event     string      `json:"event" bson:"event"`
	Status    AlertStatus `json:"status,omitempty" bson:"status,omitempty"`
	Detail    string      `json:"detail,omitempty" bson:"detail,omitempty"`
	TaskID    string      `json:"taskId,omitempty" bson:"taskId,omitempty"`
	CreatedAt time.Time   `json:"createdAt" bson:"createdAt"`
}

// Alert is the user-facing record of a violation. It is never hard-deleted
// except by retention of resolved alerts.
type Alert struct {
	ID              string               `json:"id" bson:"_id"`
	Type            AlertType            `json:"type" bson:"type"`
	Severity        Severity             `json:"severity" bson:"severity"`
	Status          AlertStatus          `json:"status" bson:"status"`
	Title           string               `json:"title" bson:"title"`
	Message         string               `json:"message" bson:"message"`
	Threshold       ThresholdSnapshot    `json:"threshold" bson:"threshold"`
	SensorData      SensorSnapshot       `json:"sensorData" bson:"sensorData"`
	Device          *DeviceSnapshot      `json:"device,omitempty" bson:"device,omitempty"`
	Automation      AlertAutomation      `json:"automation" bson:"automation"`
	Notifications   []NotificationRecord `json:"notifications" bson:"notifications"`
	History         []HistoryEntry       `json:"history" bson:"history"`
	FarmID          string               `json:"farmId,omitempty" bson:"farmId,omitempty"`
	FarmName        string               `json:"farmName,omitempty" bson:"farmName,omitempty"`
	ZoneID          string               `json:"zoneId,omitempty" bson:"zoneId,omitempty"`
	ZoneName        string               `json:"zoneName,omitempty" bson:"zoneName,omitempty"`
	AcknowledgedBy  string               `json:"acknowledgedBy,omitempty" bson:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time           `json:"acknowledgedAt,omitempty" bson:"acknowledgedAt,omitempty"`
	ResolvedBy      string               `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time           `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ResolutionNotes string               `json:"resolutionNotes,omitempty" bson:"resolutionNotes,omitempty"`
	CreatedAt       time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// HasHistory reports whether an entry with the given event was recorded.
func (a Alert) HasHistory(event string) bool {
	for _, h := range a.History {
		if h.Event == event {
			return true
		}
	}
	return false
}
