package store

import (
	"context"
	"time"

	"farm-automation/internal/models"
)

// ThresholdFilter narrows threshold listings. Zero values do not filter.
type ThresholdFilter struct {
	SensorType models.SensorType
	FarmID     string
	ZoneID     string
	ActiveOnly bool
}

type ThresholdStore interface {
	CreateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error)
	UpdateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error)
	GetThreshold(ctx context.Context, id string) (models.Threshold, error)
	ListThresholds(ctx context.Context, f ThresholdFilter) ([]models.Threshold, error)
	// FindActiveThresholds returns active thresholds for sensorType whose
	// farm/zone scope is either unset or equal to the given ids.
	FindActiveThresholds(ctx context.Context, sensorType models.SensorType, farmID, zoneID string) ([]models.Threshold, error)
	RecordViolation(ctx context.Context, id string, v models.ViolationRecord) error
}

type TaskStore interface {
	CreateTask(ctx context.Context, t models.AutomationTask) (models.AutomationTask, error)
	GetTask(ctx context.Context, id string) (models.AutomationTask, error)
	ListTasksByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error)
	// FindDueTasks returns up to limit claimable tasks ordered by scheduledAt.
	FindDueTasks(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.AutomationTask, error)
	// ClaimTask atomically moves a claimable task to processing and increments
	// its attempts. claimed is false when the filter matched nothing.
	ClaimTask(ctx context.Context, id string, now time.Time, maxAttempts int) (task models.AutomationTask, claimed bool, err error)
	MarkTaskSuccess(ctx context.Context, id string, result models.TaskResult, now time.Time) (models.AutomationTask, error)
	// MarkTaskFailed records a failed attempt. A nil retryAt leaves scheduledAt
	// untouched so the task is never picked up again once attempts are spent.
	MarkTaskFailed(ctx context.Context, id string, errMsg string, retryAt *time.Time, now time.Time) (models.AutomationTask, error)
	// AttachAlert sets the alert reference on every task sharing correlationID
	// and returns them. Calling it again with the same ids changes nothing.
	AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error)
}

// AlertFilter narrows alert listings. Zero values do not filter.
type AlertFilter struct {
	Type     models.AlertType
	Severity models.Severity
	Status   models.AlertStatus
	FarmID   string
	ZoneID   string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

// Normalize fills paging defaults.
func (f AlertFilter) Normalize() AlertFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return f
}

func (f AlertFilter) Skip() int {
	return (f.Page - 1) * f.Limit
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

func NewPagination(page, limit int, total int64) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

type AlertPage struct {
	Alerts     []models.Alert `json:"alerts"`
	Pagination Pagination     `json:"pagination"`
}

type AlertStatistics struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"byStatus"`
	BySeverity map[string]int64 `json:"bySeverity"`
	ByType     map[string]int64 `json:"byType"`
}

type AlertStore interface {
	CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) (AlertPage, error)
	// ActiveAlerts returns non-terminal alerts, most severe and newest first.
	ActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	// PatchAlert applies p in a single atomic operation and returns the
	// stored alert. A rejected strict patch yields a conflict error.
	PatchAlert(ctx context.Context, id string, p models.AlertPatch, now time.Time) (models.Alert, error)
	AlertStatistics(ctx context.Context, from, to *time.Time) (AlertStatistics, error)
	PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles the three collections of the pipeline.
type Store interface {
	ThresholdStore
	TaskStore
	AlertStore
	Close(ctx context.Context) error
}
