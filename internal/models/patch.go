package models

import "time"

// AutomationFields are the automation.* fields an alert patch may set.
type AutomationFields struct {
	CorrelationID  *string     `json:"correlationId,omitempty"`
	LastTaskStatus *TaskStatus `json:"lastTaskStatus,omitempty"`
	LastExecutedAt *time.Time  `json:"lastExecutedAt,omitempty"`
	LastError      *string     `json:"lastError,omitempty"`
}

func (f AutomationFields) IsZero() bool {
	return f.CorrelationID == nil && f.LastTaskStatus == nil && f.LastExecutedAt == nil && f.LastError == nil
}

// Actor records who performed a human lifecycle action.
type Actor struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

type Resolution struct {
	Actor
	Notes string `json:"notes,omitempty"`
}

// AlertPatch is a partial alert update applied by one atomic store operation.
// Additive parts (history, notifications, automation fields, task ids) always
// apply. Status applies only when the stored status is in StatusFrom; with
// Strict set, a status mismatch rejects the whole patch instead.
//
// A history entry whose Status equals the patch's Status records that
// transition and loses its Status when the transition does not apply. An entry
// with a TaskID is appended at most once per event and task.
type AlertPatch struct {
	Status        *AlertStatus
	StatusFrom    []AlertStatus
	Strict        bool
	History       []HistoryEntry
	Notifications []NotificationRecord
	Automation    AutomationFields
	AddTaskIDs    []string
	Acknowledge   *Actor
	Resolve       *Resolution
}

// TransitionTo returns a patch that moves the alert to status when allowed.
func TransitionTo(status AlertStatus) AlertPatch {
	return AlertPatch{Status: &status, StatusFrom: AllowedFrom(status)}
}

// Sources returns the statuses the patch's status may be applied from.
func (p AlertPatch) Sources() []AlertStatus {
	if p.Status == nil {
		return nil
	}
	if len(p.StatusFrom) > 0 {
		return p.StatusFrom
	}
	return AllowedFrom(*p.Status)
}

// StatusApplies reports whether the patch's status change applies to current.
func (p AlertPatch) StatusApplies(current AlertStatus) bool {
	if p.Status == nil {
		return false
	}
	for _, s := range p.Sources() {
		if s == current {
			return true
		}
	}
	return false
}

// Apply returns a copy of a with the patch applied. ok is false when a strict
// patch was rejected, in which case a is returned unchanged.
func (p AlertPatch) Apply(a Alert, now time.Time) (updated Alert, ok bool) {
	statusApplies := p.StatusApplies(a.Status)
	if p.Strict && p.Status != nil && !statusApplies {
		return a, false
	}

	history := append([]HistoryEntry(nil), a.History...)
	for _, h := range p.History {
		if h.TaskID != "" && hasTaskEntry(history, h.Event, h.TaskID) {
			continue
		}
		if p.RecordsTransition(h) && !statusApplies {
			h.Status = ""
		}
		history = append(history, h)
	}
	a.History = history
	a.Notifications = append(append([]NotificationRecord(nil), a.Notifications...), p.Notifications...)

	if p.Automation.CorrelationID != nil {
		a.Automation.CorrelationID = *p.Automation.CorrelationID
	}
	if p.Automation.LastTaskStatus != nil {
		a.Automation.LastTaskStatus = *p.Automation.LastTaskStatus
	}
	if p.Automation.LastExecutedAt != nil {
		t := *p.Automation.LastExecutedAt
		a.Automation.LastExecutedAt = &t
	}
	if p.Automation.LastError != nil {
		a.Automation.LastError = *p.Automation.LastError
	}

	ids := append([]string(nil), a.Automation.TaskIDs...)
	for _, id := range p.AddTaskIDs {
		if !containsString(ids, id) {
			ids = append(ids, id)
		}
	}
	a.Automation.TaskIDs = ids

	if statusApplies {
		a.Status = *p.Status
		if p.Acknowledge != nil {
			at := p.Acknowledge.At
			a.AcknowledgedBy = p.Acknowledge.UserID
			a.AcknowledgedAt = &at
		}
		if p.Resolve != nil {
			at := p.Resolve.At
			a.ResolvedBy = p.Resolve.UserID
			a.ResolvedAt = &at
			a.ResolutionNotes = p.Resolve.Notes
		}
	}
	a.UpdatedAt = now
	return a, true
}

// RecordsTransition reports whether h is the history entry of the patch's
// status change.
func (p AlertPatch) RecordsTransition(h HistoryEntry) bool {
	return p.Status != nil && h.Status != "" && h.Status == *p.Status
}

func hasTaskEntry(history []HistoryEntry, event, taskID string) bool {
	for _, h := range history {
		if h.Event == event && h.TaskID == taskID {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
