package db

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

func saveAlert(ctx context.Context, q querier, a models.Alert) error {
	_, err := q.Exec(ctx, `
	INSERT INTO alerts (id, type, severity, status, farm_id, zone_id, created_at, resolved_at, doc)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		resolved_at = EXCLUDED.resolved_at,
		doc = EXCLUDED.doc`,
		a.ID, string(a.Type), string(a.Severity), string(a.Status), a.FarmID, a.ZoneID, a.CreatedAt, a.ResolvedAt, a,
	)
	return err
}

func (d *DB) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
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
	if err := saveAlert(ctx, d.Pool, a); err != nil {
		return models.Alert{}, dbError("insert alert", err)
	}
	return a, nil
}

func getAlert(ctx context.Context, q querier, id string, lock bool) (models.Alert, error) {
	query := `SELECT doc FROM alerts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var a models.Alert
	err := q.QueryRow(ctx, query, id).Scan(&a)
	if isNoRows(err) {
		return models.Alert{}, store.AlertNotFound(id)
	}
	if err != nil {
		return models.Alert{}, dbError("get alert", err)
	}
	return a, nil
}

func (d *DB) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	return getAlert(ctx, d.Pool, id, false)
}

func alertWhere(f store.AlertFilter) *where {
	w := &where{}
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.Severity != "" {
		w.add("severity = $%d", string(f.Severity))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.FarmID != "" {
		w.add("farm_id = $%d", f.FarmID)
	}
	if f.ZoneID != "" {
		w.add("zone_id = $%d", f.ZoneID)
	}
	if f.From != nil {
		w.add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= $%d", *f.To)
	}
	return w
}

func (d *DB) ListAlerts(ctx context.Context, f store.AlertFilter) (store.AlertPage, error) {
	f = f.Normalize()
	w := alertWhere(f)

	var total int64
	if err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+w.String(), w.args...).Scan(&total); err != nil {
		return store.AlertPage{}, dbError("count alerts", err)
	}

	query := `SELECT doc FROM alerts` + w.String() + ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(w.args)+1) + ` OFFSET $` + strconv.Itoa(len(w.args)+2)
	args := append(append([]any(nil), w.args...), f.Limit, f.Skip())
	alerts, err := queryDocs[models.Alert](ctx, d.Pool, query, args...)
	if err != nil {
		return store.AlertPage{}, err
	}
	return store.AlertPage{Alerts: alerts, Pagination: store.NewPagination(f.Page, f.Limit, total)}, nil
}

func activeStatuses() []string {
	out := make([]string, 0, len(models.ActiveAlertStatuses))
	for _, s := range models.ActiveAlertStatuses {
		out = append(out, string(s))
	}
	return out
}

func (d *DB) ActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := `
	SELECT doc FROM alerts
	WHERE status = ANY($1)
	ORDER BY CASE severity
		WHEN 'critical' THEN 3
		WHEN 'high' THEN 2
		WHEN 'medium' THEN 1
		ELSE 0
	END DESC, created_at DESC`
	args := []any{activeStatuses()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return queryDocs[models.Alert](ctx, d.Pool, query, args...)
}

// PatchAlert locks the row and applies the patch in Go, so the status check
// and the write happen under the same lock.
func (d *DB) PatchAlert(ctx context.Context, id string, p models.AlertPatch, now time.Time) (models.Alert, error) {
	var result models.Alert
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		current, err := getAlert(ctx, tx, id, true)
		if err != nil {
			return err
		}
		updated, ok := p.Apply(current, now)
		if !ok {
			result = current
			return store.TransitionRejected(id, current.Status, p)
		}
		if err := saveAlert(ctx, tx, updated); err != nil {
			return dbError("patch alert", err)
		}
		result = updated
		return nil
	})
	return result, err
}

func (d *DB) AlertStatistics(ctx context.Context, from, to *time.Time) (store.AlertStatistics, error) {
	w := alertWhere(store.AlertFilter{From: from, To: to})
	rows, err := d.Pool.Query(ctx, `
	SELECT status, severity, type, COUNT(*) FROM alerts`+w.String()+`
	GROUP BY GROUPING SETS ((status), (severity), (type))`, w.args...)
	if err != nil {
		return store.AlertStatistics{}, dbError("aggregate alert statistics", err)
	}
	defer rows.Close()

	stats := store.AlertStatistics{
		ByStatus:   map[string]int64{},
		BySeverity: map[string]int64{},
		ByType:     map[string]int64{},
	}
	for rows.Next() {
		var status, severity, typ *string
		var count int64
		if err := rows.Scan(&status, &severity, &typ, &count); err != nil {
			return store.AlertStatistics{}, dbError("scan alert statistics", err)
		}
		switch {
		case status != nil:
			stats.ByStatus[*status] = count
			stats.Total += count
		case severity != nil:
			stats.BySeverity[*severity] = count
		case typ != nil:
			stats.ByType[*typ] = count
		}
	}
	if err := rows.Err(); err != nil {
		return store.AlertStatistics{}, dbError("read alert statistics", err)
	}
	return stats, nil
}

func (d *DB) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < $1`, before)
	if err != nil {
		return 0, dbError("prune resolved alerts", err)
	}
	return tag.RowsAffected(), nil
}
