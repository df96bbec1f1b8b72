package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

func saveThreshold(ctx context.Context, q querier, t models.Threshold) error {
	_, err := q.Exec(ctx, `
	INSERT INTO thresholds (id, sensor_type, farm_id, zone_id, is_active, created_at, doc)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		sensor_type = EXCLUDED.sensor_type,
		farm_id = EXCLUDED.farm_id,
		zone_id = EXCLUDED.zone_id,
		is_active = EXCLUDED.is_active,
		doc = EXCLUDED.doc`,
		t.ID, string(t.SensorType), t.FarmID, t.ZoneID, t.IsActive, t.CreatedAt, t,
	)
	return err
}

func (d *DB) CreateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := saveThreshold(ctx, d.Pool, t); err != nil {
		return models.Threshold{}, dbError("insert threshold", err)
	}
	return t, nil
}

func (d *DB) UpdateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		existing, err := getThreshold(ctx, tx, t.ID, true)
		if err != nil {
			return err
		}
		t.CreatedAt = existing.CreatedAt
		t.CreatedBy = existing.CreatedBy
		t.ViolationCount = existing.ViolationCount
		t.LastViolation = existing.LastViolation
		t.UpdatedAt = time.Now().UTC()
		if err := saveThreshold(ctx, tx, t); err != nil {
			return dbError("update threshold", err)
		}
		return nil
	})
	if err != nil {
		return models.Threshold{}, err
	}
	return t, nil
}

func getThreshold(ctx context.Context, q querier, id string, lock bool) (models.Threshold, error) {
	query := `SELECT doc FROM thresholds WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t models.Threshold
	err := q.QueryRow(ctx, query, id).Scan(&t)
	if isNoRows(err) {
		return models.Threshold{}, store.ThresholdNotFound(id)
	}
	if err != nil {
		return models.Threshold{}, dbError("get threshold", err)
	}
	return t, nil
}

func (d *DB) GetThreshold(ctx context.Context, id string) (models.Threshold, error) {
	return getThreshold(ctx, d.Pool, id, false)
}

func (d *DB) ListThresholds(ctx context.Context, f store.ThresholdFilter) ([]models.Threshold, error) {
	w := &where{}
	if f.SensorType != "" {
		w.add("sensor_type = $%d", string(f.SensorType))
	}
	if f.FarmID != "" {
		w.add("farm_id = $%d", f.FarmID)
	}
	if f.ZoneID != "" {
		w.add("zone_id = $%d", f.ZoneID)
	}
	if f.ActiveOnly {
		w.add("is_active = $%d", true)
	}
	return queryDocs[models.Threshold](ctx, d.Pool, `SELECT doc FROM thresholds`+w.String()+` ORDER BY created_at`, w.args...)
}

func (d *DB) FindActiveThresholds(ctx context.Context, sensorType models.SensorType, farmID, zoneID string) ([]models.Threshold, error) {
	return queryDocs[models.Threshold](ctx, d.Pool, `
	SELECT doc FROM thresholds
	WHERE is_active AND sensor_type = $1
		AND (farm_id = '' OR farm_id = $2)
		AND (zone_id = '' OR zone_id = $3)
	ORDER BY created_at`, string(sensorType), farmID, zoneID)
}

// RecordViolation bumps the counter in place so concurrent violations of the
// same threshold are all counted.
func (d *DB) RecordViolation(ctx context.Context, id string, v models.ViolationRecord) error {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE thresholds SET doc = jsonb_set(
		jsonb_set(doc, '{violationCount}', to_jsonb(COALESCE((doc->>'violationCount')::bigint, 0) + 1)),
		'{lastViolation}', $2::jsonb)
	WHERE id = $1`, id, v)
	if err != nil {
		return dbError("record violation", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ThresholdNotFound(id)
	}
	return nil
}
