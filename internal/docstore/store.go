// Package docstore wraps the MongoDB collections holding telemetry events and
// alerts. All writes are idempotent upserts keyed by compound filters.
package docstore

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"truck-telemetryv1/internal/model"
)

// Collection names.
const (
	CollRideLog = "TruckRideLog"
	CollSensors = "Sensors"
	CollLoads   = "Loads"
	CollAlerts  = "Alerts"
)

// Store wraps the document database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens the Mongo client and verifies the connection.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.Printf("[docstore] mongo connected, database %s", dbName)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the compound indexes backing the bootstrap queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ride := s.db.Collection(CollRideLog).Indexes()
	if _, err := ride.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "licensePlateNumber", Value: 1}, {Key: "receiveTime", Value: -1}},
	}); err != nil {
		return fmt.Errorf("index %s: %w", CollRideLog, err)
	}

	sensors := s.db.Collection(CollSensors).Indexes()
	if _, err := sensors.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "vehicleId", Value: 1},
			{Key: "receiveTime", Value: -1},
			{Key: "licensePlateNumber", Value: 1},
			{Key: "realPosition", Value: 1},
		},
	}); err != nil {
		return fmt.Errorf("index %s: %w", CollSensors, err)
	}

	loads := s.db.Collection(CollLoads).Indexes()
	if _, err := loads.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "vehicleId", Value: 1},
			{Key: "licensePlateNumber", Value: 1},
			{Key: "realPosition", Value: 1},
			{Key: "receiveTime", Value: -1},
		},
	}); err != nil {
		return fmt.Errorf("index %s: %w", CollLoads, err)
	}

	log.Printf("[docstore] indexes ensured")
	return nil
}

func (s *Store) upsert(ctx context.Context, coll string, filter bson.M, doc any) error {
	_, err := s.db.Collection(coll).UpdateOne(
		ctx,
		filter,
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", coll, err)
	}
	return nil
}

// UpsertGPS writes a GPS document keyed by (vehicleId, receiveTime).
func (s *Store) UpsertGPS(ctx context.Context, m *model.GPSMessage) error {
	return s.upsert(ctx, CollRideLog, bson.M{
		"vehicleId":   m.VehicleID,
		"receiveTime": m.ReceiveTime,
	}, m)
}

// UpsertSensor writes a sensor document keyed by (vehicleId, tyreId,
// receiveTime).
func (s *Store) UpsertSensor(ctx context.Context, m *model.SensorMessage) error {
	return s.upsert(ctx, CollSensors, bson.M{
		"vehicleId":   m.VehicleID,
		"tyreId":      m.TyreID,
		"receiveTime": m.ReceiveTime,
	}, m)
}

// UpsertLoad writes a load document keyed by (vehicleId, tyreId,
// calculateTime).
func (s *Store) UpsertLoad(ctx context.Context, m *model.LoadMessage) error {
	return s.upsert(ctx, CollLoads, bson.M{
		"vehicleId":     m.VehicleID,
		"tyreId":        m.TyreID,
		"calculateTime": m.CalculateTime,
	}, m)
}

// UpsertAlert writes an alert document. The filter keeps at most one open
// alert per (vehicleId, tireId, type, name) for tire-bound alerts, or per
// (vehicleId, type, name) for vehicle-wide alerts.
func (s *Store) UpsertAlert(ctx context.Context, doc model.AlertDoc) error {
	filter := bson.M{
		"vehicleId": doc.VehicleID,
		"type":      doc.Type,
		"name":      doc.Name,
		"status":    model.StatusOpen,
	}
	if doc.TireID != "" {
		filter["tireId"] = doc.TireID
	}
	return s.upsert(ctx, CollAlerts, filter, doc)
}

// CloseGPSTimeout closes any open gps_timeout alert for a vehicle. Returns
// true when an alert was actually closed.
func (s *Store) CloseGPSTimeout(ctx context.Context, vehicleID string) (bool, error) {
	res, err := s.db.Collection(CollAlerts).UpdateOne(
		ctx,
		bson.M{
			"vehicleId": vehicleID,
			"type":      model.TypeGPS,
			"name":      model.NameGPSTimeout,
			"status":    model.StatusOpen,
		},
		bson.M{"$set": bson.M{"status": model.StatusClosed}},
	)
	if err != nil {
		return false, fmt.Errorf("close gps_timeout for %s: %w", vehicleID, err)
	}
	return res.ModifiedCount > 0, nil
}

// CloseAlert closes one alert by its store id.
func (s *Store) CloseAlert(ctx context.Context, id any) error {
	_, err := s.db.Collection(CollAlerts).UpdateByID(
		ctx,
		id,
		bson.M{"$set": bson.M{"status": model.StatusClosed}},
	)
	if err != nil {
		return fmt.Errorf("close alert %v: %w", id, err)
	}
	return nil
}
