// Package ingest consumes telemetry events from the bus, enriches them, and
// routes them to the document store and the WebSocket hub.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"truck-telemetryv1/internal/hub"
	"truck-telemetryv1/internal/metrics"
	"truck-telemetryv1/internal/model"
	"truck-telemetryv1/internal/notify"
	"truck-telemetryv1/internal/vlog"
)

// Store is the document-store subset the handlers write to.
type Store interface {
	UpsertGPS(ctx context.Context, m *model.GPSMessage) error
	UpsertSensor(ctx context.Context, m *model.SensorMessage) error
	UpsertLoad(ctx context.Context, m *model.LoadMessage) error
	UpsertAlert(ctx context.Context, doc model.AlertDoc) error
	CloseGPSTimeout(ctx context.Context, vehicleID string) (bool, error)
}

// Broadcaster fans a JSON payload out to one stream's subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, stream string, payload []byte)
}

// Catalog is the relational-catalog subset the handlers need.
type Catalog interface {
	UnitIDForTire(ctx context.Context, tyreCode string) (string, error)
}

// Enricher joins catalog and SmartTyre data onto an event.
type Enricher interface {
	VehicleData(ctx context.Context, plate, vehicleID string) model.Enrichment
}

// Positioner maps (plate, axle, wheel) to a canonical tire position.
type Positioner interface {
	RealPosition(ctx context.Context, plate string, axle, wheel int) (int, bool)
}

// Handlers processes the three event variants.
type Handlers struct {
	store     Store
	bus       Broadcaster
	catalog   Catalog
	enricher  Enricher
	positions Positioner
	metrics   *metrics.Metrics
	logs      *vlog.Router
	notifier  notify.Notifier
}

// SetNotifier attaches an out-of-band alert channel. Deliveries run
// asynchronously so a slow endpoint never stalls the consume loop.
func (h *Handlers) SetNotifier(n notify.Notifier) {
	h.notifier = n
}

// NewHandlers wires the message handlers.
func NewHandlers(store Store, bus Broadcaster, cat Catalog, enr Enricher, pos Positioner, m *metrics.Metrics, logs *vlog.Router) *Handlers {
	return &Handlers{
		store:     store,
		bus:       bus,
		catalog:   cat,
		enricher:  enr,
		positions: pos,
		metrics:   m,
		logs:      logs,
	}
}

func (h *Handlers) timedUpsert(fn func() error) error {
	start := time.Now()
	err := fn()
	if h.metrics != nil {
		h.metrics.UpsertDur.Observe(time.Since(start).Seconds())
	}
	return err
}

// HandleGPS enriches and persists one position report, closes any open
// gps_timeout alert for the vehicle, and broadcasts the result.
func (h *Handlers) HandleGPS(ctx context.Context, m *model.GPSMessage) error {
	m.Merge(h.enricher.VehicleData(ctx, m.LicensePlateNumber, m.VehicleID))

	if err := h.timedUpsert(func() error { return h.store.UpsertGPS(ctx, m) }); err != nil {
		return fmt.Errorf("gps upsert: %w", err)
	}

	closed, err := h.store.CloseGPSTimeout(ctx, m.VehicleID)
	if err != nil {
		h.logs.For(m.LicensePlateNumber).Warn("gps_timeout close failed",
			"vehicleId", m.VehicleID, "err", err)
	} else if closed {
		h.logs.For(m.LicensePlateNumber).Info("gps_timeout alert closed",
			"vehicleId", m.VehicleID)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("gps marshal: %w", err)
	}
	h.bus.Broadcast(ctx, hub.StreamGPS, payload)
	h.logs.For(m.LicensePlateNumber).Info("gps handled",
		"vehicleId", m.VehicleID, "receiveTime", m.ReceiveTime)
	return nil
}

// DispatchGPS handles one bus position report. Reports that carry a trailer
// plate are dispatched twice: once for the tractor and once as an independent
// copy attributed to the trailer.
func (h *Handlers) DispatchGPS(ctx context.Context, m *model.GPSMessage) error {
	var trailer *model.GPSMessage
	if m.TrailerLicensePlateNumber != "" {
		trailer = m.Clone()
		trailer.LicensePlateNumber = m.TrailerLicensePlateNumber
	}

	if err := h.HandleGPS(ctx, m); err != nil {
		return err
	}
	if trailer != nil {
		if err := h.HandleGPS(ctx, trailer); err != nil {
			return fmt.Errorf("trailer dispatch: %w", err)
		}
	}
	return nil
}

// reassignPlate moves the message to the unit the tire is actually mounted
// on, keeping the reporting tractor's plate in tractorName.
func reassignPlate(plate, tractorName *string, unit string) {
	if *tractorName == "" {
		*tractorName = *plate
	}
	*plate = unit
}

// HandleSensor resolves the tire position, enriches, converts pressure to
// bar, raises threshold alerts, persists, and broadcasts one sensor reading.
func (h *Handlers) HandleSensor(ctx context.Context, m *model.SensorMessage) error {
	if m.TyreCode != "" {
		unit, err := h.catalog.UnitIDForTire(ctx, m.TyreCode)
		if err != nil {
			h.logs.For(m.LicensePlateNumber).Warn("tire unit lookup failed",
				"tyreCode", m.TyreCode, "err", err)
		} else if unit != "" && unit == m.TrailerLicensePlateNumber && unit != m.LicensePlateNumber {
			reassignPlate(&m.LicensePlateNumber, &m.TractorName, unit)
			m.TrailerLicensePlateNumber = ""
		}
	}

	if pos, ok := h.positions.RealPosition(ctx, m.LicensePlateNumber, m.AxleIndex, m.WheelIndex); ok {
		m.RealPosition = &pos
		m.SpareTireNote = model.SpareTireNote(pos)
	}

	m.Merge(h.enricher.VehicleData(ctx, m.LicensePlateNumber, m.VehicleID))

	if m.Pressure != nil {
		bar := model.PSIToBar(*m.Pressure)
		m.Pressure = &bar
	}
	m.Alerts = model.EvaluateSensorAlerts(m.Pressure, m.Temperature, m.TyreID)

	h.raiseAlerts(ctx, m.Alerts, alertContext{
		plate:          m.LicensePlateNumber,
		vehicleID:      m.VehicleID,
		realPosition:   m.RealPosition,
		receiveTime:    m.ReceiveTime,
		unitIdentifier: m.UnitIdentifier,
		unitType:       m.UnitType,
	})

	if err := h.timedUpsert(func() error { return h.store.UpsertSensor(ctx, m) }); err != nil {
		return fmt.Errorf("sensor upsert: %w", err)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sensor marshal: %w", err)
	}
	h.bus.Broadcast(ctx, hub.StreamSensor, payload)
	h.logs.For(m.LicensePlateNumber).Info("sensor handled",
		"vehicleId", m.VehicleID, "tyreId", m.TyreID, "alerts", len(m.Alerts))
	return nil
}

// HandleLoad resolves the tire position, enriches, raises the tread-depth
// alert, persists, and broadcasts one load reading.
func (h *Handlers) HandleLoad(ctx context.Context, m *model.LoadMessage) error {
	if m.TyreCode != "" {
		unit, err := h.catalog.UnitIDForTire(ctx, m.TyreCode)
		if err != nil {
			h.logs.For(m.LicensePlateNumber).Warn("tire unit lookup failed",
				"tyreCode", m.TyreCode, "err", err)
		} else if unit != "" && unit != m.LicensePlateNumber {
			reassignPlate(&m.LicensePlateNumber, &m.TractorName, unit)
		}
	}

	if pos, ok := h.positions.RealPosition(ctx, m.LicensePlateNumber, m.AxleIndex, m.WheelIndex); ok {
		m.RealPosition = &pos
		m.SpareTireNote = model.SpareTireNote(pos)
	}

	m.Merge(h.enricher.VehicleData(ctx, m.LicensePlateNumber, m.VehicleID))

	m.Alerts = model.EvaluateLoadAlerts(m.NowThreadDepth, m.TyreID)

	h.raiseAlerts(ctx, m.Alerts, alertContext{
		plate:          m.LicensePlateNumber,
		vehicleID:      m.VehicleID,
		realPosition:   m.RealPosition,
		receiveTime:    m.ReceiveTime,
		unitIdentifier: m.UnitIdentifier,
		unitType:       m.UnitType,
	})

	if err := h.timedUpsert(func() error { return h.store.UpsertLoad(ctx, m) }); err != nil {
		return fmt.Errorf("load upsert: %w", err)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("load marshal: %w", err)
	}
	h.bus.Broadcast(ctx, hub.StreamLoad, payload)
	h.logs.For(m.LicensePlateNumber).Info("load handled",
		"vehicleId", m.VehicleID, "tyreId", m.TyreID, "alerts", len(m.Alerts))
	return nil
}

type alertContext struct {
	plate          string
	vehicleID      string
	realPosition   *int
	receiveTime    string
	unitIdentifier string
	unitType       string
}

// raiseAlerts persists and broadcasts one alert document per triggered
// threshold. Alerts without a plate or unit identifier are skipped: they
// cannot be attributed to a unit the frontend can display.
func (h *Handlers) raiseAlerts(ctx context.Context, alerts []model.Alert, ac alertContext) {
	for _, a := range alerts {
		if ac.plate == "" || ac.unitIdentifier == "" {
			h.logs.For(ac.plate).Warn("alert skipped, missing unit attribution",
				"vehicleId", ac.vehicleID, "type", a.Type, "name", a.Name)
			continue
		}
		doc := model.AlertDoc{
			Folio:              model.NewFolio(),
			Status:             model.StatusOpen,
			Type:               a.Type,
			Name:               a.Name,
			Value:              a.Value,
			TireID:             a.TireID,
			LicensePlateNumber: ac.plate,
			VehicleID:          ac.vehicleID,
			RealPosition:       ac.realPosition,
			ReceiveTime:        ac.receiveTime,
			UnitIdentifier:     ac.unitIdentifier,
			UnitType:           ac.unitType,
		}
		if err := h.store.UpsertAlert(ctx, doc); err != nil {
			h.logs.For(ac.plate).Warn("alert upsert failed",
				"vehicleId", ac.vehicleID, "name", a.Name, "err", err)
			continue
		}
		if h.metrics != nil {
			h.metrics.AlertsRaised.WithLabelValues(a.Name).Inc()
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		h.bus.Broadcast(ctx, hub.StreamAlerts, payload)
		if h.notifier != nil {
			go func(doc model.AlertDoc) {
				sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := h.notifier.Send(sendCtx, doc); err != nil {
					h.logs.For(doc.LicensePlateNumber).Warn("alert notification failed",
						"name", doc.Name, "err", err)
				}
			}(doc)
		}
		h.logs.For(ac.plate).Info("alert raised",
			"vehicleId", ac.vehicleID, "name", a.Name, "folio", doc.Folio, "value", a.Value)
	}
}
