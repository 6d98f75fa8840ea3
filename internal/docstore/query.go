package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"truck-telemetryv1/internal/model"
)

// PositionKey identifies one tire position on one unit. Bootstrap
// reconciliation groups the latest sensor/load documents by this key.
type PositionKey struct {
	VehicleID    string
	Plate        string
	RealPosition int64
}

// NumericKey normalizes the numeric types BSON hands back so keys built from
// different collections compare equal.
func NumericKey(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func plateMatch(match bson.M, singlePlate string, plates []string) {
	if singlePlate != "" {
		match["licensePlateNumber"] = strings.TrimSpace(singlePlate)
	} else if plates != nil {
		match["licensePlateNumber"] = bson.M{"$in": plates}
	}
}

func (s *Store) aggregate(ctx context.Context, coll string, pipeline mongo.Pipeline) ([]map[string]any, error) {
	cursor, err := s.db.Collection(coll).Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", coll, err)
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("aggregate %s decode: %w", coll, err)
	}
	return docs, nil
}

// gpsWindowFilter builds the $match stage for one GPS window. exclude only
// applies to unscoped queries; a plate scope is never widened past itself.
func gpsWindowFilter(since time.Time, singlePlate string, plates, exclude []string) bson.M {
	match := bson.M{"receiveTime": bson.M{"$gte": since.UTC().Format(time.RFC3339)}}
	plateMatch(match, singlePlate, plates)
	if singlePlate == "" && plates == nil && len(exclude) > 0 {
		match["licensePlateNumber"] = bson.M{"$nin": exclude}
	}
	return match
}

// LatestGPS returns the newest GPS document per plate within the window.
// exclude removes plates already found by an earlier, narrower window and is
// honored only on unscoped queries; scoped callers narrow plates instead.
func (s *Store) LatestGPS(ctx context.Context, since time.Time, singlePlate string, plates, exclude []string) ([]map[string]any, error) {
	match := gpsWindowFilter(since, singlePlate, plates, exclude)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{
			{Key: "licensePlateNumber", Value: 1},
			{Key: "receiveTime", Value: -1},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": "$licensePlateNumber",
			"doc": bson.M{"$first": "$$ROOT"},
		}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
	}
	return s.aggregate(ctx, CollRideLog, pipeline)
}

func (s *Store) latestPerPosition(ctx context.Context, coll, timeField string, since time.Time, singlePlate string, plates []string) ([]map[string]any, error) {
	match := bson.M{timeField: bson.M{"$gte": since.UTC().Format(time.RFC3339)}}
	plateMatch(match, singlePlate, plates)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{
			{Key: "vehicleId", Value: 1},
			{Key: "licensePlateNumber", Value: 1},
			{Key: "realPosition", Value: 1},
			{Key: timeField, Value: -1},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"vehicleId":          "$vehicleId",
				"licensePlateNumber": "$licensePlateNumber",
				"realPosition":       "$realPosition",
			},
			"doc": bson.M{"$first": "$$ROOT"},
		}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
	}
	return s.aggregate(ctx, coll, pipeline)
}

// LatestSensors returns the newest sensor document per
// (vehicleId, plate, realPosition) within the window.
func (s *Store) LatestSensors(ctx context.Context, since time.Time, singlePlate string, plates []string) ([]map[string]any, error) {
	return s.latestPerPosition(ctx, CollSensors, "receiveTime", since, singlePlate, plates)
}

// LatestLoads returns the newest load document per
// (vehicleId, plate, realPosition) within the window, keyed on calculateTime.
func (s *Store) LatestLoads(ctx context.Context, since time.Time, singlePlate string, plates []string) ([]map[string]any, error) {
	return s.latestPerPosition(ctx, CollLoads, "calculateTime", since, singlePlate, plates)
}

// OpenAlerts returns up to limit open alerts, newest first, filtered by
// plate. Documents keep their _id so reconciliation can close them in place.
func (s *Store) OpenAlerts(ctx context.Context, singlePlate string, plates []string, limit int) ([]map[string]any, error) {
	filter := bson.M{
		"licensePlateNumber": bson.M{"$ne": nil},
		"status":             model.StatusOpen,
	}
	plateMatch(filter, singlePlate, plates)

	opts := options.Find().
		SetSort(bson.D{{Key: "receiveTime", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.db.Collection(CollAlerts).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find open alerts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("open alerts decode: %w", err)
	}
	return docs, nil
}

// LatestByPosition returns the newest document per position key from the
// given collection, for exactly the listed keys.
func (s *Store) LatestByPosition(ctx context.Context, coll, timeField string, keys []PositionKey) (map[PositionKey]map[string]any, error) {
	conditions := make([]bson.M, 0, len(keys))
	for _, k := range keys {
		if k.VehicleID == "" || k.Plate == "" || k.RealPosition == 0 {
			continue
		}
		conditions = append(conditions, bson.M{
			"vehicleId":          k.VehicleID,
			"licensePlateNumber": k.Plate,
			"realPosition":       k.RealPosition,
		})
	}
	if len(conditions) == 0 {
		return map[PositionKey]map[string]any{}, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": conditions}}},
		{{Key: "$sort", Value: bson.D{{Key: timeField, Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"vehicleId":          "$vehicleId",
				"licensePlateNumber": "$licensePlateNumber",
				"realPosition":       "$realPosition",
			},
			"doc": bson.M{"$first": "$$ROOT"},
		}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
	}
	docs, err := s.aggregate(ctx, coll, pipeline)
	if err != nil {
		return nil, err
	}

	lookup := make(map[PositionKey]map[string]any, len(docs))
	for _, doc := range docs {
		vid, _ := doc["vehicleId"].(string)
		plate, _ := doc["licensePlateNumber"].(string)
		pos, ok := NumericKey(doc["realPosition"])
		if !ok {
			continue
		}
		lookup[PositionKey{VehicleID: vid, Plate: plate, RealPosition: pos}] = doc
	}
	return lookup, nil
}

// EmbeddedAlerts extracts the (type, name) pairs from a document's embedded
// alerts array, tolerating the BSON array types the driver hands back.
func EmbeddedAlerts(doc map[string]any) []model.Alert {
	raw, ok := doc["alerts"]
	if !ok {
		return nil
	}
	var items []any
	switch v := raw.(type) {
	case primitive.A:
		items = v
	case []any:
		items = v
	default:
		return nil
	}

	var alerts []model.Alert
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, _ := m["type"].(string)
		n, _ := m["name"].(string)
		if t != "" && n != "" {
			alerts = append(alerts, model.Alert{Type: t, Name: n})
		}
	}
	return alerts
}
