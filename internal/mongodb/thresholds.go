package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

func (s *Store) CreateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if _, err := s.thresholds.InsertOne(ctx, t); err != nil {
		return models.Threshold{}, dbError("insert threshold", err)
	}
	return t, nil
}

// UpdateThreshold replaces the editable fields and keeps the violation
// counters and creation metadata.
func (s *Store) UpdateThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	update := bson.M{"$set": bson.M{
		"name":        t.Name,
		"sensorType":  t.SensorType,
		"farmId":      t.FarmID,
		"zoneId":      t.ZoneID,
		"minValue":    t.MinValue,
		"maxValue":    t.MaxValue,
		"action":      t.Action,
		"isActive":    t.IsActive,
		"description": t.Description,
		"updatedAt":   time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Threshold
	err := s.thresholds.FindOneAndUpdate(ctx, bson.M{"_id": t.ID}, update, opts).Decode(&updated)
	if isNoDocuments(err) {
		return models.Threshold{}, store.ThresholdNotFound(t.ID)
	}
	if err != nil {
		return models.Threshold{}, dbError("update threshold", err)
	}
	return updated, nil
}

func (s *Store) GetThreshold(ctx context.Context, id string) (models.Threshold, error) {
	var t models.Threshold
	err := s.thresholds.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if isNoDocuments(err) {
		return models.Threshold{}, store.ThresholdNotFound(id)
	}
	if err != nil {
		return models.Threshold{}, dbError("get threshold", err)
	}
	return t, nil
}

func (s *Store) ListThresholds(ctx context.Context, f store.ThresholdFilter) ([]models.Threshold, error) {
	filter := bson.M{}
	if f.SensorType != "" {
		filter["sensorType"] = f.SensorType
	}
	if f.FarmID != "" {
		filter["farmId"] = f.FarmID
	}
	if f.ZoneID != "" {
		filter["zoneId"] = f.ZoneID
	}
	if f.ActiveOnly {
		filter["isActive"] = true
	}
	return s.findThresholds(ctx, filter)
}

// FindActiveThresholds matches unscoped thresholds as well as scoped ones.
// A null in $in also matches documents where the field is absent.
func (s *Store) FindActiveThresholds(ctx context.Context, sensorType models.SensorType, farmID, zoneID string) ([]models.Threshold, error) {
	filter := bson.M{
		"isActive":   true,
		"sensorType": sensorType,
		"farmId":     bson.M{"$in": bson.A{nil, "", farmID}},
		"zoneId":     bson.M{"$in": bson.A{nil, "", zoneID}},
	}
	return s.findThresholds(ctx, filter)
}

func (s *Store) findThresholds(ctx context.Context, filter bson.M) ([]models.Threshold, error) {
	cursor, err := s.thresholds.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, dbError("find thresholds", err)
	}
	defer cursor.Close(ctx)

	out := []models.Threshold{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, dbError("decode thresholds", err)
	}
	return out, nil
}

func (s *Store) RecordViolation(ctx context.Context, id string, v models.ViolationRecord) error {
	res, err := s.thresholds.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"violationCount": 1},
		"$set": bson.M{"lastViolation": v},
	})
	if err != nil {
		return dbError("record violation", err)
	}
	if res.MatchedCount == 0 {
		return store.ThresholdNotFound(id)
	}
	return nil
}
