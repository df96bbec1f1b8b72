package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

// Store keeps thresholds, tasks and alerts in process memory. Every method
// runs under one mutex, which gives the same single-document atomicity the
// document stores provide.
type Store struct {
	mu         sync.Mutex
	thresholds map[string]models.Threshold
	tasks      map[string]models.AutomationTask
	alerts     map[string]models.Alert
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		thresholds: make(map[string]models.Threshold),
		tasks:      make(map[string]models.AutomationTask),
		alerts:     make(map[string]models.Alert),
	}
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

// Thresholds

func (s *Store) CreateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.thresholds[t.ID] = t
	return t, nil
}

func (s *Store) UpdateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.thresholds[t.ID]
	if !ok {
		return models.Threshold{}, store.ThresholdNotFound(t.ID)
	}
	t.CreatedAt = existing.CreatedAt
	t.CreatedBy = existing.CreatedBy
	t.ViolationCount = existing.ViolationCount
	t.LastViolation = existing.LastViolation
	t.UpdatedAt = time.Now().UTC()
	s.thresholds[t.ID] = t
	return t, nil
}

func (s *Store) GetThreshold(ctx context.Context, id string) (models.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.thresholds[id]
	if !ok {
		return models.Threshold{}, store.ThresholdNotFound(id)
	}
	return t, nil
}

func (s *Store) ListThresholds(ctx context.Context, f store.ThresholdFilter) ([]models.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Threshold{}
	for _, t := range s.thresholds {
		if f.SensorType != "" && t.SensorType != f.SensorType {
			continue
		}
		if f.FarmID != "" && t.FarmID != f.FarmID {
			continue
		}
		if f.ZoneID != "" && t.ZoneID != f.ZoneID {
			continue
		}
		if f.ActiveOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindActiveThresholds(ctx context.Context, sensorType models.SensorType, farmID, zoneID string) ([]models.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Threshold{}
	for _, t := range s.thresholds {
		if t.Matches(sensorType, farmID, zoneID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RecordViolation(ctx context.Context, id string, v models.ViolationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.thresholds[id]
	if !ok {
		return store.ThresholdNotFound(id)
	}
	t.ViolationCount++
	t.LastViolation = &v
	s.thresholds[id] = t
	return nil
}

// Tasks

func (s *Store) CreateTask(ctx context.Context, t models.AutomationTask) (models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	return t, nil
}

func (s *Store) ListTasksByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksByCorrelation(correlationID), nil
}

func (s *Store) tasksByCorrelation(correlationID string) []models.AutomationTask {
	out := []models.AutomationTask{}
	for _, t := range s.tasks {
		if t.CorrelationID == correlationID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) FindDueTasks(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.AutomationTask{}
	for _, t := range s.tasks {
		if t.Claimable(now, maxAttempts) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimTask(ctx context.Context, id string, now time.Time, maxAttempts int) (models.AutomationTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !t.Claimable(now, maxAttempts) {
		return models.AutomationTask{}, false, nil
	}
	t.Status = models.TaskProcessing
	t.Attempts++
	at := now
	t.LastAttemptAt = &at
	t.UpdatedAt = now
	s.tasks[id] = t
	return t, true, nil
}

func (s *Store) MarkTaskSuccess(ctx context.Context, id string, result models.TaskResult, now time.Time) (models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	t.Status = models.TaskSuccess
	t.Result = &result
	t.Error = ""
	t.UpdatedAt = now
	s.tasks[id] = t
	return t, nil
}

func (s *Store) MarkTaskFailed(ctx context.Context, id string, errMsg string, retryAt *time.Time, now time.Time) (models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	t.Status = models.TaskFailed
	t.Error = errMsg
	if retryAt != nil {
		t.ScheduledAt = *retryAt
	}
	t.UpdatedAt = now
	s.tasks[id] = t
	return t, nil
}

func (s *Store) AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if correlationID == "" || alertID == "" {
		return []models.AutomationTask{}, nil
	}
	for id, t := range s.tasks {
		if t.CorrelationID == correlationID && t.AlertID != alertID {
			t.AlertID = alertID
			s.tasks[id] = t
		}
	}
	return s.tasksByCorrelation(correlationID), nil
}

// Alerts

func (s *Store) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Automation.TaskIDs == nil {
		a.Automation.TaskIDs = []string{}
	}
	if a.Notifications == nil {
		a.Notifications = []models.NotificationRecord{}
	}
	if a.History == nil {
		a.History = []models.HistoryEntry{}
	}
	s.alerts[a.ID] = a
	return a, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, store.AlertNotFound(id)
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) (store.AlertPage, error) {
	f = f.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []models.Alert{}
	for _, a := range s.alerts {
		if matchesAlert(a, f) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := f.Skip()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return store.AlertPage{
		Alerts:     matched[start:end],
		Pagination: store.NewPagination(f.Page, f.Limit, total),
	}, nil
}

func matchesAlert(a models.Alert, f store.AlertFilter) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.FarmID != "" && a.FarmID != f.FarmID {
		return false
	}
	if f.ZoneID != "" && a.ZoneID != f.ZoneID {
		return false
	}
	if f.From != nil && a.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && a.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func (s *Store) ActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Alert{}
	for _, a := range s.alerts {
		if !a.Status.IsTerminal() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PatchAlert(ctx context.Context, id string, p models.AlertPatch, now time.Time) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, store.AlertNotFound(id)
	}
	updated, applied := p.Apply(a, now)
	if !applied {
		return a, store.TransitionRejected(id, a.Status, p)
	}
	s.alerts[id] = updated
	return updated, nil
}

func (s *Store) AlertStatistics(ctx context.Context, from, to *time.Time) (store.AlertStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := store.AlertStatistics{
		ByStatus:   map[string]int64{},
		BySeverity: map[string]int64{},
		ByType:     map[string]int64{},
	}
	f := store.AlertFilter{From: from, To: to}
	for _, a := range s.alerts {
		if !matchesAlert(a, f) {
			continue
		}
		stats.Total++
		stats.ByStatus[string(a.Status)]++
		stats.BySeverity[string(a.Severity)]++
		stats.ByType[string(a.Type)]++
	}
	return stats, nil
}

func (s *Store) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, a := range s.alerts {
		if a.Status == models.AlertResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed, nil
}
