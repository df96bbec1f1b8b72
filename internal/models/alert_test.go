package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatesAcceptNoTransition(t *testing.T) {
	all := []AlertStatus{
		AlertNew, AlertNotified, AlertNotificationFailed, AlertActionExecuted,
		AlertActionFailed, AlertAcknowledged, AlertResolved, AlertDismissed,
	}
	for _, from := range []AlertStatus{AlertResolved, AlertDismissed} {
		assert.True(t, from.IsTerminal())
		for _, to := range all {
			assert.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestForwardOnlyTransitions(t *testing.T) {
	assert.True(t, AlertNew.CanTransition(AlertNotified))
	assert.True(t, AlertNew.CanTransition(AlertNotificationFailed))
	assert.True(t, AlertNotified.CanTransition(AlertActionExecuted))
	assert.True(t, AlertActionFailed.CanTransition(AlertActionExecuted))
	assert.True(t, AlertActionExecuted.CanTransition(AlertAcknowledged))
	assert.True(t, AlertAcknowledged.CanTransition(AlertResolved))

	assert.False(t, AlertActionExecuted.CanTransition(AlertNotified))
	assert.False(t, AlertAcknowledged.CanTransition(AlertActionFailed))
	assert.False(t, AlertActionExecuted.CanTransition(AlertActionFailed))
	assert.False(t, AlertNotified.CanTransition(AlertNew))

	for _, from := range ActiveAlertStatuses {
		assert.True(t, from.CanTransition(AlertDismissed), from)
	}
}

func TestPatchAppliesAdditiveFieldsWithoutStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alert := Alert{ID: "a1", Status: AlertAcknowledged, Automation: AlertAutomation{TaskIDs: []string{"t1"}}}

	success := TaskSuccess
	patch := TransitionTo(AlertActionExecuted)
	patch.History = []HistoryEntry{{Event: EventAutomationTaskSuccess, Status: AlertActionExecuted, CreatedAt: now}}
	patch.Automation.LastTaskStatus = &success
	patch.AddTaskIDs = []string{"t1", "t2"}

	updated, ok := patch.Apply(alert, now)
	require.True(t, ok)
	assert.Equal(t, AlertAcknowledged, updated.Status)
	assert.Equal(t, TaskSuccess, updated.Automation.LastTaskStatus)
	assert.Equal(t, []string{"t1", "t2"}, updated.Automation.TaskIDs)
	require.Len(t, updated.History, 1)
	assert.Empty(t, alert.History)
}

func TestStrictPatchRejectedOnTerminalAlert(t *testing.T) {
	now := time.Now()
	alert := Alert{ID: "a1", Status: AlertResolved}

	patch := TransitionTo(AlertAcknowledged)
	patch.Strict = true
	patch.Acknowledge = &Actor{UserID: "u1", At: now}
	patch.History = []HistoryEntry{{Event: EventAcknowledged}}

	updated, ok := patch.Apply(alert, now)
	assert.False(t, ok)
	assert.Empty(t, updated.History)
	assert.Empty(t, updated.AcknowledgedBy)
}

func TestResolvePatchSetsResolutionFields(t *testing.T) {
	now := time.Now().UTC()
	patch := TransitionTo(AlertResolved)
	patch.Strict = true
	patch.Resolve = &Resolution{Actor: Actor{UserID: "u7", At: now}, Notes: "fan replaced"}

	updated, ok := patch.Apply(Alert{Status: AlertActionFailed}, now)
	require.True(t, ok)
	assert.Equal(t, AlertResolved, updated.Status)
	assert.Equal(t, "u7", updated.ResolvedBy)
	assert.Equal(t, "fan replaced", updated.ResolutionNotes)
	require.NotNil(t, updated.ResolvedAt)
}

func TestTransitionEntryLosesStatusWhenTransitionSkipped(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	patch := TransitionTo(AlertNotified)
	patch.History = []HistoryEntry{{Event: EventNotificationSummary, Status: AlertNotified, CreatedAt: now}}

	updated, ok := patch.Apply(Alert{Status: AlertActionExecuted}, now)
	require.True(t, ok)
	assert.Equal(t, AlertActionExecuted, updated.Status)
	require.Len(t, updated.History, 1)
	assert.Empty(t, updated.History[0].Status)

	updated, ok = patch.Apply(Alert{Status: AlertNew}, now)
	require.True(t, ok)
	assert.Equal(t, AlertNotified, updated.History[0].Status)
}

func TestTaskEntryIsRecordedOncePerTask(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	patch := TransitionTo(AlertActionExecuted)
	patch.History = []HistoryEntry{{Event: EventAutomationTaskSuccess, Status: AlertActionExecuted, TaskID: "t1", CreatedAt: now}}

	once, _ := patch.Apply(Alert{Status: AlertNotified}, now)
	twice, _ := patch.Apply(once, now)
	assert.Len(t, twice.History, 1)

	other := patch
	other.History = []HistoryEntry{{Event: EventAutomationTaskSuccess, Status: AlertActionExecuted, TaskID: "t2", CreatedAt: now}}
	both, _ := other.Apply(twice, now)
	assert.Len(t, both.History, 2)

	retry := AlertPatch{History: []HistoryEntry{{Event: EventAutomationTaskFailed, Detail: "attempt 1", CreatedAt: now}}}
	retried, _ := retry.Apply(both, now)
	retried, _ = retry.Apply(retried, now)
	assert.Len(t, retried.History, 4, "retry entries carry no task id and always append")
}
