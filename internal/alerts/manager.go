package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
	"farm-automation/internal/notification"
	"farm-automation/internal/store"
)

// TaskLinker attaches a new alert to the automation tasks of its violation.
type TaskLinker interface {
	AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, routes []notification.Route, alert models.Alert) notification.Outcome
}

// Manager owns the alert lifecycle: creation, correlation with automation
// tasks, notification and the human acknowledge/resolve/dismiss actions.
type Manager struct {
	alerts      store.AlertStore
	linker      TaskLinker
	settings    notification.Settings
	dispatcher  Dispatcher
	bus         *eventbus.Bus
	log         *logrus.Entry
	maxAttempts int
	now         func() time.Time
}

func NewManager(
	alerts store.AlertStore,
	linker TaskLinker,
	settings notification.Settings,
	dispatcher Dispatcher,
	bus *eventbus.Bus,
	logger *logging.Logger,
	maxAttempts int,
) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Manager{
		alerts:      alerts,
		linker:      linker,
		settings:    settings,
		dispatcher:  dispatcher,
		bus:         bus,
		log:         logger.WithComponent("alert-manager"),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Subscribe starts handling alert.create.requested events.
func (m *Manager) Subscribe() func() {
	return eventbus.On(m.bus, "alert-manager", func(ctx context.Context, req eventbus.AlertCreateRequested) error {
		_, err := m.Create(ctx, req)
		return err
	})
}

// Create persists an alert for a violation, links it to the violation's
// automation tasks and notifies the resolved channels.
func (m *Manager) Create(ctx context.Context, req eventbus.AlertCreateRequested) (models.Alert, error) {
	if !req.Severity.Valid() {
		return models.Alert{}, apperrors.NewValidationError(fmt.Sprintf("invalid severity %q", req.Severity), nil)
	}
	if strings.TrimSpace(req.Title) == "" {
		return models.Alert{}, apperrors.NewValidationError("alert title is required", nil)
	}
	if req.Type == "" {
		req.Type = models.AlertThresholdExceeded
	}

	now := m.now().UTC()
	draft := models.Alert{
		Type:       req.Type,
		Severity:   req.Severity,
		Status:     models.AlertNew,
		Title:      req.Title,
		Message:    req.Message,
		Threshold:  req.Threshold,
		SensorData: req.Sensor,
		Device:     req.Device,
		Automation: models.AlertAutomation{
			CorrelationID: req.CorrelationID,
			TaskIDs:       []string{},
		},
		Notifications: []models.NotificationRecord{},
		History: []models.HistoryEntry{{
			Event:     models.EventAlertCreated,
			Status:    models.AlertNew,
			Detail:    fmt.Sprintf("Alert created: %s", req.Title),
			CreatedAt: now,
		}},
		FarmID:    req.FarmID,
		FarmName:  req.FarmName,
		ZoneID:    req.ZoneID,
		ZoneName:  req.ZoneName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Device != nil {
		draft.Automation.RequestedAction = string(req.Device.RequestedAction)
	}

	alert, err := m.alerts.CreateAlert(ctx, draft)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to create alert: %w", err)
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()

	log := m.log.WithFields(logrus.Fields{
		"alert_id":       alert.ID,
		"severity":       alert.Severity,
		"correlation_id": req.CorrelationID,
	})
	log.Infof("Alert created: %s", alert.Title)
	m.bus.Publish(ctx, eventbus.AlertCreated{Alert: alert})

	if req.CorrelationID != "" {
		alert = m.linkTasks(ctx, alert, req.CorrelationID, log)
	}

	routes := m.settings.Resolve(alert, req.Threshold.Recipients)
	if len(routes) == 0 {
		log.Info("No notification channels or recipients configured")
		return alert, nil
	}
	return m.notify(ctx, alert, routes, log), nil
}

// linkTasks attaches the alert to its correlation's tasks. Tasks that already
// finished before the alert existed are reflected in the alert right away.
func (m *Manager) linkTasks(ctx context.Context, alert models.Alert, correlationID string, log *logrus.Entry) models.Alert {
	tasks, err := m.linker.AttachAlert(ctx, correlationID, alert.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to link automation tasks")
		return alert
	}
	if len(tasks) == 0 {
		return alert
	}

	now := m.now().UTC()
	latest := mostRecent(tasks)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}

	status := latest.Status
	var patch models.AlertPatch
	switch {
	case latest.Status == models.TaskSuccess:
		patch = models.TransitionTo(models.AlertActionExecuted)
	case latest.Status == models.TaskFailed && latest.Attempts >= m.maxAttempts:
		patch = models.TransitionTo(models.AlertActionFailed)
	}
	patch.History = []models.HistoryEntry{{
		Event:     models.EventTasksLinked,
		Detail:    fmt.Sprintf("Linked %d automation task(s): %s", len(ids), strings.Join(ids, ", ")),
		CreatedAt: now,
	}}
	patch.Automation.LastTaskStatus = &status
	patch.AddTaskIDs = ids

	if patch.Status != nil {
		entry := models.HistoryEntry{Status: *patch.Status, TaskID: latest.ID, CreatedAt: now}
		if latest.Status == models.TaskSuccess {
			entry.Event = models.EventAutomationTaskSuccess
			entry.Detail = fmt.Sprintf("Automation task %s had already completed", latest.ID)
			if latest.Result != nil {
				at := latest.Result.CompletedAt
				patch.Automation.LastExecutedAt = &at
			}
		} else {
			entry.Event = models.EventAutomationTaskFailed
			entry.Detail = fmt.Sprintf("Automation task %s had already been abandoned: %s", latest.ID, latest.Error)
			lastErr := latest.Error
			patch.Automation.LastError = &lastErr
		}
		patch.History = append(patch.History, entry)
	}

	updated, err := m.alerts.PatchAlert(ctx, alert.ID, patch, now)
	if err != nil {
		log.WithError(err).Warn("Failed to record linked automation tasks")
		return alert
	}
	m.countTransition(alert.Status, updated.Status)
	log.WithField("tasks", len(ids)).Info("Alert linked to automation tasks")
	m.bus.Publish(ctx, eventbus.AlertUpdated{Alert: updated, Reason: models.EventTasksLinked})
	return updated
}

func (m *Manager) notify(ctx context.Context, alert models.Alert, routes []notification.Route, log *logrus.Entry) models.Alert {
	outcome := m.dispatcher.Dispatch(ctx, routes, alert)
	now := m.now().UTC()

	var patch models.AlertPatch
	entry := models.HistoryEntry{Event: models.EventNotificationSummary, CreatedAt: now}
	switch {
	case outcome.Sent()+outcome.Failed() == 0:
		entry.Detail = "No notification sent; alert broadcast to real-time subscribers only"
	case outcome.Delivered():
		patch = models.TransitionTo(models.AlertNotified)
		entry.Status = models.AlertNotified
		entry.Detail = fmt.Sprintf("Notifications sent: %d succeeded, %d failed", outcome.Sent(), outcome.Failed())
	default:
		patch = models.TransitionTo(models.AlertNotificationFailed)
		entry.Status = models.AlertNotificationFailed
		entry.Detail = fmt.Sprintf("All %d notification attempts failed", outcome.Failed())
	}
	patch.History = []models.HistoryEntry{entry}
	patch.Notifications = outcome.Records

	updated, err := m.alerts.PatchAlert(ctx, alert.ID, patch, now)
	if err != nil {
		log.WithError(err).Error("Failed to record notification outcome")
		return alert
	}
	m.countTransition(alert.Status, updated.Status)
	log.WithFields(logrus.Fields{
		"sent":   outcome.Sent(),
		"failed": outcome.Failed(),
		"status": updated.Status,
	}).Info("Alert notifications dispatched")

	m.bus.Publish(ctx, eventbus.AlertNotified{
		Alert:         updated,
		Notifications: outcome.Records,
		Delivered:     outcome.Delivered(),
	})
	return updated
}

// Acknowledge marks the alert as seen by userID. Resolved and dismissed
// alerts cannot be acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id, userID string) (models.Alert, error) {
	if userID == "" {
		return models.Alert{}, apperrors.NewValidationError("userId is required", nil)
	}
	now := m.now().UTC()
	patch := models.TransitionTo(models.AlertAcknowledged)
	patch.Strict = true
	patch.Acknowledge = &models.Actor{UserID: userID, At: now}
	patch.History = []models.HistoryEntry{{
		Event:     models.EventAcknowledged,
		Status:    models.AlertAcknowledged,
		Detail:    fmt.Sprintf("Acknowledged by %s", userID),
		CreatedAt: now,
	}}

	alert, err := m.humanAction(ctx, id, patch, now)
	if err != nil {
		return models.Alert{}, err
	}
	m.bus.Publish(ctx, eventbus.AlertAcknowledged{Alert: alert, UserID: userID})
	return alert, nil
}

// Resolve closes the alert.
func (m *Manager) Resolve(ctx context.Context, id, userID, notes string) (models.Alert, error) {
	if userID == "" {
		return models.Alert{}, apperrors.NewValidationError("userId is required", nil)
	}
	now := m.now().UTC()
	patch := models.TransitionTo(models.AlertResolved)
	patch.Strict = true
	patch.Resolve = &models.Resolution{Actor: models.Actor{UserID: userID, At: now}, Notes: notes}
	detail := fmt.Sprintf("Resolved by %s", userID)
	if notes != "" {
		detail += ": " + notes
	}
	patch.History = []models.HistoryEntry{{
		Event:     models.EventResolved,
		Status:    models.AlertResolved,
		Detail:    detail,
		CreatedAt: now,
	}}

	alert, err := m.humanAction(ctx, id, patch, now)
	if err != nil {
		return models.Alert{}, err
	}
	m.bus.Publish(ctx, eventbus.AlertResolved{Alert: alert, UserID: userID})
	return alert, nil
}

// Dismiss closes the alert without resolving it, e.g. for a false positive.
func (m *Manager) Dismiss(ctx context.Context, id, userID, reason string) (models.Alert, error) {
	if userID == "" {
		return models.Alert{}, apperrors.NewValidationError("userId is required", nil)
	}
	now := m.now().UTC()
	patch := models.TransitionTo(models.AlertDismissed)
	patch.Strict = true
	detail := fmt.Sprintf("Dismissed by %s", userID)
	if reason != "" {
		detail += ": " + reason
	}
	patch.History = []models.HistoryEntry{{
		Event:     models.EventDismissed,
		Status:    models.AlertDismissed,
		Detail:    detail,
		CreatedAt: now,
	}}

	alert, err := m.humanAction(ctx, id, patch, now)
	if err != nil {
		return models.Alert{}, err
	}
	m.bus.Publish(ctx, eventbus.AlertDismissed{Alert: alert, UserID: userID})
	return alert, nil
}

func (m *Manager) humanAction(ctx context.Context, id string, patch models.AlertPatch, now time.Time) (models.Alert, error) {
	alert, err := m.alerts.PatchAlert(ctx, id, patch, now)
	if err != nil {
		return models.Alert{}, err
	}
	metrics.AlertTransitions.WithLabelValues(string(alert.Status)).Inc()
	m.log.WithFields(logrus.Fields{"alert_id": id, "status": alert.Status}).Info("Alert updated by user")
	m.bus.Publish(ctx, eventbus.AlertUpdated{Alert: alert, Reason: patch.History[0].Event})
	return alert, nil
}

func (m *Manager) countTransition(from, to models.AlertStatus) {
	if from != to {
		metrics.AlertTransitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Manager) Get(ctx context.Context, id string) (models.Alert, error) {
	return m.alerts.GetAlert(ctx, id)
}

func (m *Manager) List(ctx context.Context, f store.AlertFilter) (store.AlertPage, error) {
	if f.Severity != "" && !f.Severity.Valid() {
		return store.AlertPage{}, apperrors.NewValidationError(fmt.Sprintf("invalid severity %q", f.Severity), nil)
	}
	return m.alerts.ListAlerts(ctx, f.Normalize())
}

func (m *Manager) Active(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return m.alerts.ActiveAlerts(ctx, limit)
}

func (m *Manager) Statistics(ctx context.Context, from, to *time.Time) (store.AlertStatistics, error) {
	if from != nil && to != nil && from.After(*to) {
		return store.AlertStatistics{}, apperrors.NewValidationError("from must not be after to", nil)
	}
	return m.alerts.AlertStatistics(ctx, from, to)
}

func mostRecent(tasks []models.AutomationTask) models.AutomationTask {
	sorted := append([]models.AutomationTask(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	return sorted[0]
}
