// Package storetest holds the behaviour every store implementation must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

// Suite runs against a fresh store returned by NewStore for every test.
type Suite struct {
	suite.Suite
	NewStore func() store.Store

	ctx   context.Context
	store store.Store
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close(s.ctx))
	}
}

func (s *Suite) now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *Suite) newTask(correlationID string, scheduledAt time.Time) models.AutomationTask {
	task, err := s.store.CreateTask(s.ctx, models.AutomationTask{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		DeviceID:      "pump-main-zone-123",
		Action:        models.DeviceOn,
		Status:        models.TaskPending,
		ScheduledAt:   scheduledAt,
		CreatedAt:     scheduledAt,
		UpdatedAt:     scheduledAt,
	})
	s.Require().NoError(err)
	return task
}

func (s *Suite) newAlert(status models.AlertStatus) models.Alert {
	now := s.now()
	alert, err := s.store.CreateAlert(s.ctx, models.Alert{
		ID:        uuid.NewString(),
		Type:      models.AlertThresholdExceeded,
		Severity:  models.SeverityHigh,
		Status:    status,
		Title:     "Temperature is too high",
		Message:   "Temperature 42 exceeds max 35",
		CreatedAt: now,
		UpdatedAt: now,
	})
	s.Require().NoError(err)
	return alert
}

func (s *Suite) TestFindActiveThresholdsByScope() {
	global, err := s.store.CreateThreshold(s.ctx, models.Threshold{
		ID: uuid.NewString(), Name: "global temp", SensorType: models.SensorTemperature,
		MinValue: 15, MaxValue: 35, IsActive: true, Action: models.ThresholdAction{Kind: models.ActionAlert},
	})
	s.Require().NoError(err)
	zoned, err := s.store.CreateThreshold(s.ctx, models.Threshold{
		ID: uuid.NewString(), Name: "zone temp", SensorType: models.SensorTemperature, FarmID: "farm-1", ZoneID: "zone-1",
		MinValue: 18, MaxValue: 30, IsActive: true, Action: models.ThresholdAction{Kind: models.ActionAlert},
	})
	s.Require().NoError(err)
	_, err = s.store.CreateThreshold(s.ctx, models.Threshold{
		ID: uuid.NewString(), Name: "inactive", SensorType: models.SensorTemperature,
		MinValue: 0, MaxValue: 1, IsActive: false, Action: models.ThresholdAction{Kind: models.ActionAlert},
	})
	s.Require().NoError(err)
	_, err = s.store.CreateThreshold(s.ctx, models.Threshold{
		ID: uuid.NewString(), Name: "humidity", SensorType: models.SensorHumidity,
		MinValue: 40, MaxValue: 80, IsActive: true, Action: models.ThresholdAction{Kind: models.ActionAlert},
	})
	s.Require().NoError(err)

	found, err := s.store.FindActiveThresholds(s.ctx, models.SensorTemperature, "farm-1", "zone-1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{global.ID, zoned.ID}, thresholdIDs(found))

	found, err = s.store.FindActiveThresholds(s.ctx, models.SensorTemperature, "farm-1", "zone-2")
	s.Require().NoError(err)
	s.Equal([]string{global.ID}, thresholdIDs(found))

	found, err = s.store.FindActiveThresholds(s.ctx, models.SensorSoilPH, "farm-1", "zone-1")
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *Suite) TestRecordViolationIncrementsCounter() {
	th, err := s.store.CreateThreshold(s.ctx, models.Threshold{
		ID: uuid.NewString(), Name: "temp", SensorType: models.SensorTemperature,
		MinValue: 15, MaxValue: 35, IsActive: true, Action: models.ThresholdAction{Kind: models.ActionAlert},
	})
	s.Require().NoError(err)

	for i := 0; i < 2; i++ {
		s.Require().NoError(s.store.RecordViolation(s.ctx, th.ID, models.ViolationRecord{
			Value: 42, Kind: models.AboveMax, Severity: models.SeverityHigh, OccurredAt: s.now(),
		}))
	}
	got, err := s.store.GetThreshold(s.ctx, th.ID)
	s.Require().NoError(err)
	s.EqualValues(2, got.ViolationCount)
	s.Require().NotNil(got.LastViolation)
	s.Equal(models.AboveMax, got.LastViolation.Kind)

	err = s.store.RecordViolation(s.ctx, uuid.NewString(), models.ViolationRecord{})
	s.True(apperrors.IsNotFound(err))
}

func (s *Suite) TestFindDueTasksOrdersAndFilters() {
	now := s.now()
	later := s.newTask("c-later", now.Add(-time.Minute))
	earlier := s.newTask("c-earlier", now.Add(-2*time.Minute))
	s.newTask("c-future", now.Add(time.Hour))

	due, err := s.store.FindDueTasks(s.ctx, now, 3, 10)
	s.Require().NoError(err)
	s.Equal([]string{earlier.ID, later.ID}, taskIDs(due))

	due, err = s.store.FindDueTasks(s.ctx, now, 3, 1)
	s.Require().NoError(err)
	s.Equal([]string{earlier.ID}, taskIDs(due))
}

func (s *Suite) TestConcurrentClaimExecutesOnce() {
	now := s.now()
	task := s.newTask("c-race", now.Add(-time.Second))

	var wins atomic.Int32
	var misses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := s.store.ClaimTask(s.ctx, task.ID, now, 3)
			s.NoError(err)
			if claimed {
				wins.Add(1)
			} else {
				misses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, wins.Load())
	s.EqualValues(7, misses.Load())

	got, err := s.store.GetTask(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskProcessing, got.Status)
	s.Equal(1, got.Attempts)
	s.Require().NotNil(got.LastAttemptAt)
}

func (s *Suite) TestExhaustedTaskIsNeverReclaimed() {
	now := s.now()
	task := s.newTask("c-exhaust", now.Add(-time.Second))

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, ok, err := s.store.ClaimTask(s.ctx, task.ID, now, 2)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(attempt, claimed.Attempts)

		var retryAt *time.Time
		if attempt < 2 {
			retryAt = &now
		}
		_, err = s.store.MarkTaskFailed(s.ctx, task.ID, "gateway timeout", retryAt, now)
		s.Require().NoError(err)
	}

	_, ok, err := s.store.ClaimTask(s.ctx, task.ID, now.Add(time.Hour), 2)
	s.Require().NoError(err)
	s.False(ok)

	due, err := s.store.FindDueTasks(s.ctx, now.Add(time.Hour), 2, 10)
	s.Require().NoError(err)
	s.Empty(due)

	got, err := s.store.GetTask(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskFailed, got.Status)
	s.Equal(2, got.Attempts)
	s.Equal("gateway timeout", got.Error)
}

func (s *Suite) TestMarkSuccessClearsError() {
	now := s.now()
	task := s.newTask("c-ok", now.Add(-time.Second))
	_, ok, err := s.store.ClaimTask(s.ctx, task.ID, now, 3)
	s.Require().NoError(err)
	s.Require().True(ok)
	_, err = s.store.MarkTaskFailed(s.ctx, task.ID, "first failure", &now, now)
	s.Require().NoError(err)
	_, ok, err = s.store.ClaimTask(s.ctx, task.ID, now, 3)
	s.Require().NoError(err)
	s.Require().True(ok)

	done, err := s.store.MarkTaskSuccess(s.ctx, task.ID, models.TaskResult{
		DeviceID: task.DeviceID, ExecutedAction: models.DeviceOn, CompletedAt: now,
	}, now)
	s.Require().NoError(err)
	s.Equal(models.TaskSuccess, done.Status)
	s.Empty(done.Error)
	s.Require().NotNil(done.Result)
	s.Equal(models.DeviceOn, done.Result.ExecutedAction)
	s.Equal(2, done.Attempts)
}

func (s *Suite) TestAttachAlertIsIdempotent() {
	now := s.now()
	a := s.newTask("c-join", now)
	b := s.newTask("c-join", now.Add(time.Millisecond))
	other := s.newTask("c-other", now)

	first, err := s.store.AttachAlert(s.ctx, "c-join", "alert-1")
	s.Require().NoError(err)
	second, err := s.store.AttachAlert(s.ctx, "c-join", "alert-1")
	s.Require().NoError(err)

	s.ElementsMatch([]string{a.ID, b.ID}, taskIDs(first))
	s.ElementsMatch(taskIDs(first), taskIDs(second))
	for _, t := range second {
		s.Equal("alert-1", t.AlertID)
	}

	untouched, err := s.store.GetTask(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Empty(untouched.AlertID)

	none, err := s.store.AttachAlert(s.ctx, "c-unknown", "alert-1")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestAttachAlertAfterCompletionKeepsStatus() {
	now := s.now()
	task := s.newTask("c-late", now.Add(-time.Second))
	_, ok, err := s.store.ClaimTask(s.ctx, task.ID, now, 3)
	s.Require().NoError(err)
	s.Require().True(ok)
	_, err = s.store.MarkTaskSuccess(s.ctx, task.ID, models.TaskResult{DeviceID: task.DeviceID, ExecutedAction: models.DeviceOn, CompletedAt: now}, now)
	s.Require().NoError(err)

	linked, err := s.store.AttachAlert(s.ctx, "c-late", "alert-9")
	s.Require().NoError(err)
	s.Require().Len(linked, 1)
	s.Equal(models.TaskSuccess, linked[0].Status)
	s.Equal("alert-9", linked[0].AlertID)
}

func (s *Suite) TestPatchAlertAppendsAndSetsFields() {
	alert := s.newAlert(models.AlertNew)
	now := s.now()

	success := models.TaskSuccess
	patch := models.TransitionTo(models.AlertActionExecuted)
	patch.History = []models.HistoryEntry{{Event: models.EventAutomationTaskSuccess, Status: models.AlertActionExecuted, CreatedAt: now}}
	patch.Automation.LastTaskStatus = &success
	patch.Automation.LastExecutedAt = &now
	patch.AddTaskIDs = []string{"t1"}

	updated, err := s.store.PatchAlert(s.ctx, alert.ID, patch, now)
	s.Require().NoError(err)
	s.Equal(models.AlertActionExecuted, updated.Status)
	s.Equal(models.TaskSuccess, updated.Automation.LastTaskStatus)
	s.Equal([]string{"t1"}, updated.Automation.TaskIDs)
	s.Require().Len(updated.History, 1)

	again := models.AlertPatch{
		AddTaskIDs: []string{"t1", "t2"},
		Notifications: []models.NotificationRecord{
			{Channel: models.ChannelEmail, Recipient: "ops@farm.io", Status: models.NotificationSent, SentAt: now},
		},
	}
	updated, err = s.store.PatchAlert(s.ctx, alert.ID, again, now)
	s.Require().NoError(err)
	s.Equal([]string{"t1", "t2"}, updated.Automation.TaskIDs)
	s.Len(updated.Notifications, 1)
	s.Len(updated.History, 1)
}

func (s *Suite) TestPatchAlertSkipsBackwardStatus() {
	alert := s.newAlert(models.AlertActionExecuted)
	now := s.now()

	patch := models.TransitionTo(models.AlertNotified)
	patch.History = []models.HistoryEntry{{Event: models.EventNotificationSummary, Status: models.AlertNotified, CreatedAt: now}}

	updated, err := s.store.PatchAlert(s.ctx, alert.ID, patch, now)
	s.Require().NoError(err)
	s.Equal(models.AlertActionExecuted, updated.Status)
	s.True(updated.HasHistory(models.EventNotificationSummary))
	s.Empty(updated.History[len(updated.History)-1].Status)

	stored, err := s.store.GetAlert(s.ctx, alert.ID)
	s.Require().NoError(err)
	s.Empty(stored.History[len(stored.History)-1].Status)
}

func (s *Suite) TestTaskOutcomeRecordedOnceWhenCompletionRacesLinking() {
	now := s.now()
	alert := s.newAlert(models.AlertNew)
	task := s.newTask("c-race", now.Add(-time.Second))
	_, ok, err := s.store.ClaimTask(s.ctx, task.ID, now, 3)
	s.Require().NoError(err)
	s.Require().True(ok)

	linked, err := s.store.AttachAlert(s.ctx, "c-race", alert.ID)
	s.Require().NoError(err)
	s.Require().Len(linked, 1)
	_, err = s.store.MarkTaskSuccess(s.ctx, task.ID, models.TaskResult{DeviceID: task.DeviceID, ExecutedAction: models.DeviceOn, CompletedAt: now}, now)
	s.Require().NoError(err)
	listed, err := s.store.ListTasksByCorrelation(s.ctx, "c-race")
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(models.TaskSuccess, listed[0].Status)

	outcome := func(detail string) models.AlertPatch {
		p := models.TransitionTo(models.AlertActionExecuted)
		p.History = []models.HistoryEntry{{
			Event:     models.EventAutomationTaskSuccess,
			Status:    models.AlertActionExecuted,
			Detail:    detail,
			TaskID:    task.ID,
			CreatedAt: now,
		}}
		p.AddTaskIDs = []string{task.ID}
		return p
	}
	_, err = s.store.PatchAlert(s.ctx, alert.ID, outcome("executed by worker"), now)
	s.Require().NoError(err)
	updated, err := s.store.PatchAlert(s.ctx, alert.ID, outcome("had already completed"), now)
	s.Require().NoError(err)

	s.Equal(models.AlertActionExecuted, updated.Status)
	s.Require().Len(updated.History, 1)
	s.Equal("executed by worker", updated.History[0].Detail)
	s.Equal(task.ID, updated.History[0].TaskID)
	s.Equal([]string{task.ID}, updated.Automation.TaskIDs)
}

func (s *Suite) TestStrictPatchRejectedOnTerminalAlert() {
	alert := s.newAlert(models.AlertDismissed)
	now := s.now()

	patch := models.TransitionTo(models.AlertAcknowledged)
	patch.Strict = true
	patch.Acknowledge = &models.Actor{UserID: "u1", At: now}
	patch.History = []models.HistoryEntry{{Event: models.EventAcknowledged, Status: models.AlertAcknowledged, CreatedAt: now}}

	_, err := s.store.PatchAlert(s.ctx, alert.ID, patch, now)
	s.Require().Error(err)
	s.True(apperrors.IsConflict(err))

	got, err := s.store.GetAlert(s.ctx, alert.ID)
	s.Require().NoError(err)
	s.Equal(models.AlertDismissed, got.Status)
	s.Empty(got.History)
	s.Empty(got.AcknowledgedBy)

	_, err = s.store.PatchAlert(s.ctx, uuid.NewString(), patch, now)
	s.True(apperrors.IsNotFound(err))
}

func (s *Suite) TestListAndStatistics() {
	s.newAlert(models.AlertNew)
	s.newAlert(models.AlertNew)
	resolved := s.newAlert(models.AlertNew)

	now := s.now()
	patch := models.TransitionTo(models.AlertResolved)
	patch.Strict = true
	patch.Resolve = &models.Resolution{Actor: models.Actor{UserID: "u1", At: now.Add(-48 * time.Hour)}}
	_, err := s.store.PatchAlert(s.ctx, resolved.ID, patch, now)
	s.Require().NoError(err)

	page, err := s.store.ListAlerts(s.ctx, store.AlertFilter{Status: models.AlertNew, Limit: 1})
	s.Require().NoError(err)
	s.Len(page.Alerts, 1)
	s.EqualValues(2, page.Pagination.Total)
	s.EqualValues(2, page.Pagination.Pages)

	active, err := s.store.ActiveAlerts(s.ctx, 50)
	s.Require().NoError(err)
	s.Len(active, 2)

	stats, err := s.store.AlertStatistics(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.EqualValues(3, stats.Total)
	s.EqualValues(2, stats.ByStatus[string(models.AlertNew)])
	s.EqualValues(1, stats.ByStatus[string(models.AlertResolved)])
	s.EqualValues(3, stats.BySeverity[string(models.SeverityHigh)])

	removed, err := s.store.PruneResolvedAlerts(s.ctx, now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.EqualValues(1, removed)
	_, err = s.store.GetAlert(s.ctx, resolved.ID)
	s.True(apperrors.IsNotFound(err))
}

func thresholdIDs(list []models.Threshold) []string {
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	return ids
}

func taskIDs(list []models.AutomationTask) []string {
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	return ids
}
