package bootstrap

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"truck-telemetryv1/internal/docstore"
	"truck-telemetryv1/internal/hub"
	"truck-telemetryv1/internal/model"
)

// markTimeouts flags GPS documents older than the timeout threshold as
// offline and persists a gps_timeout alert per stale vehicle. Returns the
// synthesized alerts for delayed broadcast.
func (s *Service) markTimeouts(ctx context.Context, docs []map[string]any, p Params) []model.AlertDoc {
	var stale []model.AlertDoc
	cutoff := time.Duration(model.GPSTimeoutMin) * time.Minute

	for _, doc := range docs {
		rt, _ := doc["receiveTime"].(string)
		ts, ok := parseEventTime(rt)
		if !ok {
			continue
		}
		elapsed := s.now().Sub(ts)
		if elapsed <= cutoff {
			continue
		}

		doc["unitStatus"] = "offline"
		doc["spkm"] = 0

		plate, _ := doc["licensePlateNumber"].(string)
		vehicleID, _ := doc["vehicleId"].(string)
		unitIdentifier, _ := doc["unitIdentifier"].(string)
		unitType, _ := doc["unitType"].(string)

		alert := model.AlertDoc{
			Folio:              model.NewFolio(),
			Status:             model.StatusOpen,
			Type:               model.TypeGPS,
			Name:               model.NameGPSTimeout,
			Value:              math.Floor(elapsed.Minutes()),
			LicensePlateNumber: plate,
			VehicleID:          vehicleID,
			ReceiveTime:        rt,
			UnitIdentifier:     unitIdentifier,
			UnitType:           unitType,
		}
		if p.HasCompany {
			alert.CompanyID = p.CompanyID
		}

		if err := s.store.UpsertAlert(ctx, alert); err != nil {
			s.logs.For(plate).Warn("gps_timeout upsert failed",
				"vehicleId", vehicleID, "err", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.AlertsRaised.WithLabelValues(model.NameGPSTimeout).Inc()
		}
		s.logs.For(plate).Info("gps_timeout synthesized",
			"vehicleId", vehicleID, "minutes", alert.Value)
		stale = append(stale, alert)
	}
	return stale
}

// broadcastDelayed pushes synthesized alerts onto the live alerts stream
// after the subscriber has had time to load its snapshot. Alerts without a
// unit identifier are skipped: the frontend cannot attribute them.
func (s *Service) broadcastDelayed(alerts []model.AlertDoc) {
	if !s.pause(s.initialDelay) {
		return
	}
	for i, a := range alerts {
		if a.UnitIdentifier == "" {
			s.logs.For(a.LicensePlateNumber).Warn("gps_timeout broadcast skipped, no unit identifier",
				"vehicleId", a.VehicleID)
			continue
		}
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		s.bus.Broadcast(s.baseCtx, hub.StreamAlerts, payload)
		if i < len(alerts)-1 && !s.pause(s.alertGap) {
			return
		}
	}
}

func (s *Service) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.baseCtx.Done():
		return false
	case <-t.C:
		return true
	}
}

type alertKey struct {
	vehicleID    string
	tireID       string
	typ          string
	name         string
	realPosition int64
}

// livenessKey identifies an alert still embedded on the newest reading of
// its position.
type livenessKey struct {
	vehicleID    string
	plate        string
	realPosition int64
	typ          string
	name         string
}

// AlertsSnapshot returns the open alerts in scope, reconciled against the
// latest sensor and load readings: only alerts still embedded on their
// position's newest reading survive. Everything else, including alerts with
// no recent reading at all and synthesized gps_timeout alerts, is closed in
// the store and dropped from the snapshot.
func (s *Service) AlertsSnapshot(ctx context.Context, p Params) ([]map[string]any, error) {
	single, plates, empty, err := s.resolvePlates(ctx, p)
	if err != nil {
		return nil, err
	}
	if empty {
		return []map[string]any{}, nil
	}

	if s.metrics != nil {
		s.metrics.WindowQueries.WithLabelValues("alerts").Inc()
	}
	docs, err := s.store.OpenAlerts(ctx, single, plates, openAlertLimit)
	if err != nil {
		return nil, err
	}

	var sensorKeys, loadKeys []docstore.PositionKey
	for _, doc := range docs {
		key, ok := positionKeyOf(doc)
		if !ok {
			continue
		}
		switch doc["type"] {
		case model.TypePressure, model.TypeTemperature:
			sensorKeys = append(sensorKeys, key)
		case model.TypeDepth:
			loadKeys = append(loadKeys, key)
		}
	}

	latestSensors, err := s.store.LatestByPosition(ctx, docstore.CollSensors, "receiveTime", sensorKeys)
	if err != nil {
		return nil, err
	}
	latestLoads, err := s.store.LatestByPosition(ctx, docstore.CollLoads, "calculateTime", loadKeys)
	if err != nil {
		return nil, err
	}

	live := make(map[livenessKey]struct{})
	for _, lookup := range []map[docstore.PositionKey]map[string]any{latestSensors, latestLoads} {
		for posKey, latest := range lookup {
			for _, a := range docstore.EmbeddedAlerts(latest) {
				live[livenessKey{
					vehicleID:    posKey.VehicleID,
					plate:        posKey.Plate,
					realPosition: posKey.RealPosition,
					typ:          a.Type,
					name:         a.Name,
				}] = struct{}{}
			}
		}
	}

	seen := make(map[alertKey]bool)
	kept := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		typ, _ := doc["type"].(string)
		name, _ := doc["name"].(string)
		vehicleID, _ := doc["vehicleId"].(string)
		plate, _ := doc["licensePlateNumber"].(string)
		tireID, _ := doc["tireId"].(string)
		pos, _ := docstore.NumericKey(doc["realPosition"])

		k := alertKey{vehicleID: vehicleID, tireID: tireID, typ: typ, name: name, realPosition: pos}
		if seen[k] {
			continue
		}
		seen[k] = true

		lk := livenessKey{vehicleID: vehicleID, plate: plate, realPosition: pos, typ: typ, name: name}
		if _, alive := live[lk]; !alive {
			if err := s.store.CloseAlert(ctx, doc["_id"]); err != nil {
				s.logs.For(plate).Warn("stale alert close failed",
					"vehicleId", vehicleID, "name", name, "err", err)
			} else {
				s.logs.For(plate).Info("stale alert closed",
					"vehicleId", vehicleID, "name", name, "realPosition", pos)
			}
			continue
		}

		kept = append(kept, doc)
	}

	return cleanDocs(kept), nil
}

func positionKeyOf(doc map[string]any) (docstore.PositionKey, bool) {
	vehicleID, _ := doc["vehicleId"].(string)
	plate, _ := doc["licensePlateNumber"].(string)
	pos, ok := docstore.NumericKey(doc["realPosition"])
	if vehicleID == "" || plate == "" || !ok || pos == 0 {
		return docstore.PositionKey{}, false
	}
	return docstore.PositionKey{VehicleID: vehicleID, Plate: plate, RealPosition: pos}, true
}

// Event timestamps arrive in a few shapes depending on the producer.
var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseEventTime(s string) (time.Time, bool) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
