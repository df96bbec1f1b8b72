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

func (s *Store) CreateTask(ctx context.Context, t models.AutomationTask) (models.AutomationTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := s.tasks.InsertOne(ctx, t); err != nil {
		return models.AutomationTask{}, dbError("insert automation task", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (models.AutomationTask, error) {
	var t models.AutomationTask
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if isNoDocuments(err) {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	if err != nil {
		return models.AutomationTask{}, dbError("get automation task", err)
	}
	return t, nil
}

func (s *Store) ListTasksByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error) {
	return s.findTasks(ctx, bson.M{"correlationId": correlationID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func claimableFilter(now time.Time, maxAttempts int) bson.M {
	return bson.M{
		"status":      bson.M{"$in": models.ClaimableStatuses},
		"scheduledAt": bson.M{"$lte": now},
		"attempts":    bson.M{"$lt": maxAttempts},
	}
}

func (s *Store) FindDueTasks(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.AutomationTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findTasks(ctx, claimableFilter(now, maxAttempts), opts)
}

func (s *Store) findTasks(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]models.AutomationTask, error) {
	cursor, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, dbError("find automation tasks", err)
	}
	defer cursor.Close(ctx)

	out := []models.AutomationTask{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, dbError("decode automation tasks", err)
	}
	return out, nil
}

// ClaimTask is a conditional FindOneAndUpdate; of several concurrent callers
// only one matches the claimable filter.
func (s *Store) ClaimTask(ctx context.Context, id string, now time.Time, maxAttempts int) (models.AutomationTask, bool, error) {
	filter := claimableFilter(now, maxAttempts)
	filter["_id"] = id
	update := bson.M{
		"$set": bson.M{"status": models.TaskProcessing, "lastAttemptAt": now, "updatedAt": now},
		"$inc": bson.M{"attempts": 1},
	}

	var t models.AutomationTask
	err := s.tasks.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&t)
	if isNoDocuments(err) {
		return models.AutomationTask{}, false, nil
	}
	if err != nil {
		return models.AutomationTask{}, false, dbError("claim automation task", err)
	}
	return t, true, nil
}

func (s *Store) MarkTaskSuccess(ctx context.Context, id string, result models.TaskResult, now time.Time) (models.AutomationTask, error) {
	return s.updateTask(ctx, id, bson.M{
		"$set":   bson.M{"status": models.TaskSuccess, "result": result, "updatedAt": now},
		"$unset": bson.M{"error": ""},
	})
}

func (s *Store) MarkTaskFailed(ctx context.Context, id string, errMsg string, retryAt *time.Time, now time.Time) (models.AutomationTask, error) {
	set := bson.M{"status": models.TaskFailed, "error": errMsg, "updatedAt": now}
	if retryAt != nil {
		set["scheduledAt"] = *retryAt
	}
	return s.updateTask(ctx, id, bson.M{"$set": set})
}

func (s *Store) updateTask(ctx context.Context, id string, update bson.M) (models.AutomationTask, error) {
	var t models.AutomationTask
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&t)
	if isNoDocuments(err) {
		return models.AutomationTask{}, store.TaskNotFound(id)
	}
	if err != nil {
		return models.AutomationTask{}, dbError("update automation task", err)
	}
	return t, nil
}

func (s *Store) AttachAlert(ctx context.Context, correlationID, alertID string) ([]models.AutomationTask, error) {
	if correlationID == "" || alertID == "" {
		return []models.AutomationTask{}, nil
	}
	_, err := s.tasks.UpdateMany(ctx,
		bson.M{"correlationId": correlationID, "alertId": bson.M{"$ne": alertID}},
		bson.M{"$set": bson.M{"alertId": alertID}},
	)
	if err != nil {
		return nil, dbError("attach alert to tasks", err)
	}
	return s.ListTasksByCorrelation(ctx, correlationID)
}
