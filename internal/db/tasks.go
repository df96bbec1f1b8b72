package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

func saveTask(ctx context.Context, q querier, t models.AutomationTask) error {
	_, err := q.Exec(ctx, `
	INSERT INTO automation_tasks (id, correlation_id, alert_id, status, attempts, scheduled_at, created_at, doc)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		alert_id = EXCLUDED.alert_id,
		status = EXCLUDED.status,
		attempts = EXCLUDED.attempts,
		scheduled_at = EXCLUDED.scheduled_at,
		doc = EXCLUDED.doc`,
		t.ID, t.CorrelationID, t.AlertID, string(t.Status), t.Attempts, t.ScheduledAt, t.CreatedAt, t,
	)
	return err
}

func claimableStatuses() []string {
	out := make([]string, 0, len(models.ClaimableStatuses))
	for _, s := range models.ClaimableStatuses {
		out = append(out, string(s))
	}
	return out
}

func (d *DB) CreateTask(ctx context.Context, t models.AutomationTask) (models.AutomationTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := saveTask(ctx, d.Pool, t); err != nil {
		return models.AutomationTask{}, dbError("insert automation task", err)
	}
	return t, nil
}

func getTask(ctx context.Context, q querier, id string, lock bool) (models.AutomationTask, error) {
	query := `SELECT doc FROM automation_tasks WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t models.AutomationTask
	err := q.QueryRow(ctx, query, id).Scan(&t)
	if isNoRows(err) {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	if err != nil {
		return models.AutomationTask{}, dbError("get automation task", err)
	}
	return t, nil
}

func (d *DB) GetTask(ctx context.Context, id string) (models.AutomationTask, error) {
	return getTask(ctx, d.Pool, id, false)
}

func (d *DB) ListTasksByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error) {
	return queryDocs[models.AutomationTask](ctx, d.Pool,
		`SELECT doc FROM automation_tasks WHERE correlation_id = $1 ORDER BY created_at`, correlationID)
}

func (d *DB) FindDueTasks(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.AutomationTask, error) {
	query := `
	SELECT doc FROM automation_tasks
	WHERE status = ANY($1) AND scheduled_at <= $2 AND attempts < $3
	ORDER BY scheduled_at`
	args := []any{claimableStatuses(), now, maxAttempts}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	return queryDocs[models.AutomationTask](ctx, d.Pool, query, args...)
}

// ClaimTask locks the row only if it is still claimable. SKIP LOCKED makes
// a concurrent claimer miss instead of waiting.
func (d *DB) ClaimTask(ctx context.Context, id string, now time.Time, maxAttempts int) (models.AutomationTask, bool, error) {
	var (
		task    models.AutomationTask
		claimed bool
	)
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
		SELECT doc FROM automation_tasks
		WHERE id = $1 AND status = ANY($2) AND scheduled_at <= $3 AND attempts < $4
		FOR UPDATE SKIP LOCKED`, id, claimableStatuses(), now, maxAttempts).Scan(&task)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return dbError("claim automation task", err)
		}

		task.Status = models.TaskProcessing
		task.Attempts++
		at := now
		task.LastAttemptAt = &at
		task.UpdatedAt = now
		if err := saveTask(ctx, tx, task); err != nil {
			return dbError("claim automation task", err)
		}
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return models.AutomationTask{}, false, err
	}
	return task, true, nil
}

func (d *DB) updateTask(ctx context.Context, id string, mutate func(t *models.AutomationTask)) (models.AutomationTask, error) {
	var task models.AutomationTask
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		task, err = getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		mutate(&task)
		if err := saveTask(ctx, tx, task); err != nil {
			return dbError("update automation task", err)
		}
		return nil
	})
	if err != nil {
		return models.AutomationTask{}, err
	}
	return task, nil
}

func (d *DB) MarkTaskSuccess(ctx context.Context, id string, result models.TaskResult, now time.Time) (models.AutomationTask, error) {
	return d.updateTask(ctx, id, func(t *models.AutomationTask) {
		t.Status = models.TaskSuccess
		t.Result = &result
		t.Error = ""
		t.UpdatedAt = now
	})
}

func (d *DB) MarkTaskFailed(ctx context.Context, id string, errMsg string, retryAt *time.Time, now time.Time) (models.AutomationTask, error) {
	return d.updateTask(ctx, id, func(t *models.AutomationTask) {
		t.Status = models.TaskFailed
		t.Error = errMsg
		if retryAt != nil {
			t.ScheduledAt = *retryAt
		}
		t.UpdatedAt = now
	})
}

func (d *DB) AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error) {
	if correlationID == "" || alertID == "" {
		return []models.AutomationTask{}, nil
	}
	_, err := d.Pool.Exec(ctx, `
	UPDATE automation_tasks
	SET alert_id = $2, doc = jsonb_set(doc, '{alertId}', to_jsonb($2::text))
	WHERE correlation_id = $1 AND alert_id <> $2`, correlationID, alertID)
	if err != nil {
		return nil, dbError("attach alert to tasks", err)
	}
	return d.ListTasksByCorrelation(ctx, correlationID)
}
