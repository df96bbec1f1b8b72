package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

func (s *Store) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
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
	if _, err := s.alerts.InsertOne(ctx, a); err != nil {
		return models.Alert{}, dbError("insert alert", err)
	}
	return a, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	var a models.Alert
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if isNoDocuments(err) {
		return models.Alert{}, store.AlertNotFound(id)
	}
	if err != nil {
		return models.Alert{}, dbError("get alert", err)
	}
	return a, nil
}

func alertFilter(f store.AlertFilter) bson.M {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Severity != "" {
		filter["severity"] = f.Severity
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.FarmID != "" {
		filter["farmId"] = f.FarmID
	}
	if f.ZoneID != "" {
		filter["zoneId"] = f.ZoneID
	}
	if f.From != nil || f.To != nil {
		created := bson.M{}
		if f.From != nil {
			created["$gte"] = *f.From
		}
		if f.To != nil {
			created["$lte"] = *f.To
		}
		filter["createdAt"] = created
	}
	return filter
}

func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) (store.AlertPage, error) {
	f = f.Normalize()
	filter := alertFilter(f)

	total, err := s.alerts.CountDocuments(ctx, filter)
	if err != nil {
		return store.AlertPage{}, dbError("count alerts", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(f.Skip())).
		SetLimit(int64(f.Limit))
	cursor, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		return store.AlertPage{}, dbError("find alerts", err)
	}
	defer cursor.Close(ctx)

	alerts := []models.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return store.AlertPage{}, dbError("decode alerts", err)
	}
	return store.AlertPage{Alerts: alerts, Pagination: store.NewPagination(f.Page, f.Limit, total)}, nil
}

var severityOrder = bson.A{
	string(models.SeverityLow), string(models.SeverityMedium), string(models.SeverityHigh), string(models.SeverityCritical),
}

func (s *Store) ActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": bson.M{"$in": models.ActiveAlertStatuses}}}},
		{{Key: "$addFields", Value: bson.M{"severityRank": bson.M{"$indexOfArray": bson.A{severityOrder, "$severity"}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "severityRank", Value: -1}, {Key: "createdAt", Value: -1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.M{"severityRank": 0}}})

	cursor, err := s.alerts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, dbError("aggregate active alerts", err)
	}
	defer cursor.Close(ctx)

	out := []models.Alert{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, dbError("decode active alerts", err)
	}
	return out, nil
}

// PatchAlert runs the whole patch as one pipeline update. Status and the
// actor fields are set through $cond on the stored status, so a patch that
// no longer applies still records its history without moving the alert.
// Strict patches put the status condition in the filter instead.
func (s *Store) PatchAlert(ctx context.Context, id string, p models.AlertPatch, now time.Time) (models.Alert, error) {
	filter := bson.M{"_id": id}
	if p.Strict && p.Status != nil {
		filter["status"] = bson.M{"$in": p.Sources()}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Alert
	err := s.alerts.FindOneAndUpdate(ctx, filter, patchPipeline(p, now), opts).Decode(&updated)
	if isNoDocuments(err) {
		current, getErr := s.GetAlert(ctx, id)
		if getErr != nil {
			return models.Alert{}, getErr
		}
		return current, store.TransitionRejected(id, current.Status, p)
	}
	if err != nil {
		return models.Alert{}, dbError("patch alert", err)
	}
	return updated, nil
}

func literal(v any) bson.M {
	return bson.M{"$literal": v}
}

func appendTo(field string, items any) bson.M {
	return bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}, literal(items)}}
}

// historyExpr appends the patch's history entries. Transition entries keep
// their status only when the transition applies, and task entries already
// present for the same event and task are skipped.
func historyExpr(p models.AlertPatch) bson.M {
	existing := bson.M{"$ifNull": bson.A{"$history", bson.A{}}}
	parts := bson.A{existing}
	for _, h := range p.History {
		var part any = literal([]models.HistoryEntry{h})
		if p.RecordsTransition(h) {
			plain := h
			plain.Status = ""
			part = bson.M{"$cond": bson.A{statusApplies(p), part, literal([]models.HistoryEntry{plain})}}
		}
		if h.TaskID != "" {
			key := bson.D{{Key: "event", Value: literal(h.Event)}, {Key: "taskId", Value: literal(h.TaskID)}}
			recorded := bson.M{"$map": bson.M{
				"input": existing,
				"as":    "h",
				"in":    bson.D{{Key: "event", Value: "$$h.event"}, {Key: "taskId", Value: "$$h.taskId"}},
			}}
			part = bson.M{"$cond": bson.A{bson.M{"$in": bson.A{key, recorded}}, bson.A{}, part}}
		}
		parts = append(parts, part)
	}
	return bson.M{"$concatArrays": parts}
}

func statusApplies(p models.AlertPatch) bson.M {
	return bson.M{"$in": bson.A{"$status", p.Sources()}}
}

func patchPipeline(p models.AlertPatch, now time.Time) mongo.Pipeline {
	set := bson.M{"updatedAt": now}

	if len(p.History) > 0 {
		set["history"] = historyExpr(p)
	}
	if len(p.Notifications) > 0 {
		set["notifications"] = appendTo("notifications", p.Notifications)
	}
	if ids := uniqueStrings(p.AddTaskIDs); len(ids) > 0 {
		existing := bson.M{"$ifNull": bson.A{"$automation.taskIds", bson.A{}}}
		set["automation.taskIds"] = bson.M{"$concatArrays": bson.A{
			existing,
			bson.M{"$filter": bson.M{
				"input": literal(ids),
				"cond":  bson.M{"$not": bson.A{bson.M{"$in": bson.A{"$$this", existing}}}},
			}},
		}}
	}

	a := p.Automation
	if a.CorrelationID != nil {
		set["automation.correlationId"] = literal(*a.CorrelationID)
	}
	if a.LastTaskStatus != nil {
		set["automation.lastTaskStatus"] = literal(*a.LastTaskStatus)
	}
	if a.LastExecutedAt != nil {
		set["automation.lastExecutedAt"] = *a.LastExecutedAt
	}
	if a.LastError != nil {
		set["automation.lastError"] = literal(*a.LastError)
	}

	if p.Status != nil {
		applies := statusApplies(p)
		when := func(value any, field string) bson.M {
			return bson.M{"$cond": bson.A{applies, literal(value), "$" + field}}
		}
		set["status"] = when(*p.Status, "status")
		if p.Acknowledge != nil {
			set["acknowledgedBy"] = when(p.Acknowledge.UserID, "acknowledgedBy")
			set["acknowledgedAt"] = when(p.Acknowledge.At, "acknowledgedAt")
		}
		if p.Resolve != nil {
			set["resolvedBy"] = when(p.Resolve.UserID, "resolvedBy")
			set["resolvedAt"] = when(p.Resolve.At, "resolvedAt")
			set["resolutionNotes"] = when(p.Resolve.Notes, "resolutionNotes")
		}
	}

	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type countBucket struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"count"`
}

type statisticsFacets struct {
	Total      []struct{ Count int64 `bson:"count"` } `bson:"total"`
	ByStatus   []countBucket                          `bson:"byStatus"`
	BySeverity []countBucket                          `bson:"bySeverity"`
	ByType     []countBucket                          `bson:"byType"`
}

func groupBy(field string) bson.A {
	return bson.A{bson.M{"$group": bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}}
}

func (s *Store) AlertStatistics(ctx context.Context, from, to *time.Time) (store.AlertStatistics, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: alertFilter(store.AlertFilter{From: from, To: to})}},
		{{Key: "$facet", Value: bson.M{
			"total":      bson.A{bson.M{"$count": "count"}},
			"byStatus":   groupBy("status"),
			"bySeverity": groupBy("severity"),
			"byType":     groupBy("type"),
		}}},
	}
	cursor, err := s.alerts.Aggregate(ctx, pipeline)
	if err != nil {
		return store.AlertStatistics{}, dbError("aggregate alert statistics", err)
	}
	defer cursor.Close(ctx)

	var facets []statisticsFacets
	if err := cursor.All(ctx, &facets); err != nil {
		return store.AlertStatistics{}, dbError("decode alert statistics", err)
	}

	stats := store.AlertStatistics{
		ByStatus:   map[string]int64{},
		BySeverity: map[string]int64{},
		ByType:     map[string]int64{},
	}
	if len(facets) == 0 {
		return stats, nil
	}
	f := facets[0]
	if len(f.Total) > 0 {
		stats.Total = f.Total[0].Count
	}
	for _, b := range f.ByStatus {
		stats.ByStatus[b.Key] = b.Count
	}
	for _, b := range f.BySeverity {
		stats.BySeverity[b.Key] = b.Count
	}
	for _, b := range f.ByType {
		stats.ByType[b.Key] = b.Count
	}
	return stats, nil
}

func (s *Store) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.alerts.DeleteMany(ctx, bson.M{
		"status":     models.AlertResolved,
		"resolvedAt": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, dbError("prune resolved alerts", err)
	}
	return res.DeletedCount, nil
}
