package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truck-telemetryv1/internal/hub"
	"truck-telemetryv1/internal/model"
	"truck-telemetryv1/internal/vlog"
)

type fakeStore struct {
	gps     []*model.GPSMessage
	sensors []*model.SensorMessage
	loads   []*model.LoadMessage
	alerts  []model.AlertDoc
	closed  []string

	upsertErr error
}

func (f *fakeStore) UpsertGPS(_ context.Context, m *model.GPSMessage) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *m
	f.gps = append(f.gps, &cp)
	return nil
}

func (f *fakeStore) UpsertSensor(_ context.Context, m *model.SensorMessage) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.sensors = append(f.sensors, m)
	return nil
}

func (f *fakeStore) UpsertLoad(_ context.Context, m *model.LoadMessage) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.loads = append(f.loads, m)
	return nil
}

func (f *fakeStore) UpsertAlert(_ context.Context, doc model.AlertDoc) error {
	f.alerts = append(f.alerts, doc)
	return nil
}

func (f *fakeStore) CloseGPSTimeout(_ context.Context, vehicleID string) (bool, error) {
	f.closed = append(f.closed, vehicleID)
	return false, nil
}

type fakeBus struct {
	sent map[string][][]byte
}

func (f *fakeBus) Broadcast(_ context.Context, stream string, payload []byte) {
	if f.sent == nil {
		f.sent = make(map[string][][]byte)
	}
	f.sent[stream] = append(f.sent[stream], payload)
}

type fakeCatalog struct {
	units map[string]string
	err   error
}

func (f *fakeCatalog) UnitIDForTire(_ context.Context, tyreCode string) (string, error) {
	return f.units[tyreCode], f.err
}

type fakeEnricher struct {
	data model.Enrichment
}

func (f *fakeEnricher) VehicleData(_ context.Context, plate, vehicleID string) model.Enrichment {
	return f.data
}

type fakePositioner struct {
	positions map[[2]int]int
}

func (f *fakePositioner) RealPosition(_ context.Context, plate string, axle, wheel int) (int, bool) {
	pos, ok := f.positions[[2]int{axle, wheel}]
	return pos, ok
}

func newTestHandlers(store *fakeStore, bus *fakeBus, cat *fakeCatalog, enr *fakeEnricher, pos *fakePositioner) *Handlers {
	if cat == nil {
		cat = &fakeCatalog{}
	}
	if enr == nil {
		enr = &fakeEnricher{}
	}
	if pos == nil {
		pos = &fakePositioner{}
	}
	return NewHandlers(store, bus, cat, enr, pos, nil, vlog.New(io.Discard, slog.LevelInfo))
}

func fp(v float64) *float64 { return &v }

func TestDispatchGPSDualDispatch(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	h := newTestHandlers(store, bus, nil, &fakeEnricher{data: model.Enrichment{UnitIdentifier: "U-1"}}, nil)

	m := &model.GPSMessage{
		VehicleID:                 "v1",
		LicensePlateNumber:        "AAA-111",
		TrailerLicensePlateNumber: "TRL-999",
		ReceiveTime:               "2026-08-24T10:00:00",
		Latitude:                  19.43,
		Longitude:                 -99.13,
	}
	require.NoError(t, h.DispatchGPS(context.Background(), m))

	require.Len(t, store.gps, 2, "trailer reports persist twice")
	assert.Equal(t, "AAA-111", store.gps[0].LicensePlateNumber)
	assert.Equal(t, "TRL-999", store.gps[1].LicensePlateNumber)
	assert.Equal(t, "v1", store.gps[1].VehicleID)
	assert.Equal(t, 19.43, store.gps[1].Latitude)

	assert.Len(t, bus.sent[hub.StreamGPS], 2)
	assert.Equal(t, []string{"v1", "v1"}, store.closed)
}

func TestDispatchGPSNoTrailer(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	h := newTestHandlers(store, bus, nil, nil, nil)

	m := &model.GPSMessage{VehicleID: "v1", LicensePlateNumber: "AAA-111"}
	require.NoError(t, h.DispatchGPS(context.Background(), m))

	assert.Len(t, store.gps, 1)
	assert.Len(t, bus.sent[hub.StreamGPS], 1)
}

func TestDispatchGPSUpsertError(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("mongo down")}
	h := newTestHandlers(store, &fakeBus{}, nil, nil, nil)

	err := h.DispatchGPS(context.Background(), &model.GPSMessage{VehicleID: "v1"})
	require.Error(t, err)
}

func TestHandleSensorConvertsAndRaisesAlert(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	h := newTestHandlers(store, bus, nil,
		&fakeEnricher{data: model.Enrichment{UnitIdentifier: "U-1", UnitType: "3"}},
		&fakePositioner{positions: map[[2]int]int{{2, 1}: 3}})

	m := &model.SensorMessage{
		VehicleID:          "v1",
		LicensePlateNumber: "AAA-111",
		ReceiveTime:        "2026-08-24T10:00:00",
		TyreID:             "tire-1",
		AxleIndex:          2,
		WheelIndex:         1,
		Pressure:           fp(551.6), // 80 bar: under the low threshold
		Temperature:        fp(42),
	}
	require.NoError(t, h.HandleSensor(context.Background(), m))

	require.Len(t, store.sensors, 1)
	stored := store.sensors[0]
	assert.Equal(t, 80.0, *stored.Pressure, "pressure persists in bar")
	require.NotNil(t, stored.RealPosition)
	assert.Equal(t, 3, *stored.RealPosition)
	require.Len(t, stored.Alerts, 1)
	assert.Equal(t, model.NameLowPressure, stored.Alerts[0].Name)

	require.Len(t, store.alerts, 1)
	doc := store.alerts[0]
	assert.Equal(t, model.StatusOpen, doc.Status)
	assert.Equal(t, "U-1", doc.UnitIdentifier)
	assert.Len(t, doc.Folio, 8)
	assert.Equal(t, 80.0, doc.Value)

	assert.Len(t, bus.sent[hub.StreamSensor], 1)
	assert.Len(t, bus.sent[hub.StreamAlerts], 1)

	var broadcast model.AlertDoc
	require.NoError(t, json.Unmarshal(bus.sent[hub.StreamAlerts][0], &broadcast))
	assert.Equal(t, "AAA-111", broadcast.LicensePlateNumber)
}

func TestHandleSensorSkipsAlertWithoutUnitIdentifier(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	h := newTestHandlers(store, bus, nil, &fakeEnricher{}, nil)

	m := &model.SensorMessage{
		VehicleID:          "v1",
		LicensePlateNumber: "AAA-111",
		TyreID:             "tire-1",
		Pressure:           fp(551.6),
		Temperature:        fp(42),
	}
	require.NoError(t, h.HandleSensor(context.Background(), m))

	assert.Empty(t, store.alerts, "unattributable alerts are not persisted")
	assert.Empty(t, bus.sent[hub.StreamAlerts])
	require.Len(t, store.sensors, 1, "the reading itself still persists")
	assert.Len(t, store.sensors[0].Alerts, 1, "embedded alert stays on the document")
}

func TestHandleSensorTrailerReassignment(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	cat := &fakeCatalog{units: map[string]string{"tc-9": "TRL-999"}}
	h := newTestHandlers(store, bus, cat, &fakeEnricher{data: model.Enrichment{UnitIdentifier: "U-1"}}, nil)

	m := &model.SensorMessage{
		VehicleID:                 "v1",
		LicensePlateNumber:        "AAA-111",
		TrailerLicensePlateNumber: "TRL-999",
		TyreCode:                  "tc-9",
		Pressure:                  fp(689.5),
		Temperature:               fp(42),
	}
	require.NoError(t, h.HandleSensor(context.Background(), m))

	require.Len(t, store.sensors, 1)
	assert.Equal(t, "TRL-999", store.sensors[0].LicensePlateNumber)
	assert.Equal(t, "AAA-111", store.sensors[0].TractorName, "original plate survives in tractorName")
	assert.Empty(t, store.sensors[0].TrailerLicensePlateNumber,
		"trailer plate is cleared once the reading is attributed to the trailer")
}

func TestHandleSensorSparePosition(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store, &fakeBus{}, nil, nil,
		&fakePositioner{positions: map[[2]int]int{{0, 1}: 11}})

	m := &model.SensorMessage{
		VehicleID:          "v1",
		LicensePlateNumber: "AAA-111",
		AxleIndex:          0,
		WheelIndex:         1,
		Pressure:           fp(689.5),
		Temperature:        fp(42),
	}
	require.NoError(t, h.HandleSensor(context.Background(), m))

	require.Len(t, store.sensors, 1)
	require.NotNil(t, store.sensors[0].RealPosition)
	assert.Equal(t, 11, *store.sensors[0].RealPosition)
	assert.Equal(t, "Spare tire 1", store.sensors[0].SpareTireNote)
}

func TestHandleLoadDepthAlertAndReassignment(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	cat := &fakeCatalog{units: map[string]string{"tc-9": "BBB-222"}}
	h := newTestHandlers(store, bus, cat, &fakeEnricher{data: model.Enrichment{UnitIdentifier: "U-2"}}, nil)

	m := &model.LoadMessage{
		VehicleID:          "v1",
		LicensePlateNumber: "AAA-111",
		ReceiveTime:        "2026-08-24T10:05:00",
		CalculateTime:      "2026-08-24T10:00:00",
		TyreCode:           "tc-9",
		TyreID:             "tire-1",
		NowThreadDepth:     fp(2.5),
	}
	require.NoError(t, h.HandleLoad(context.Background(), m))

	require.Len(t, store.loads, 1)
	stored := store.loads[0]
	assert.Equal(t, "BBB-222", stored.LicensePlateNumber, "load reattributes to the mounted unit")
	assert.Equal(t, "AAA-111", stored.TractorName)
	require.Len(t, stored.Alerts, 1)
	assert.Equal(t, model.NameLowDepth, stored.Alerts[0].Name)

	require.Len(t, store.alerts, 1)
	assert.Equal(t, model.TypeDepth, store.alerts[0].Type)
	assert.Equal(t, "2026-08-24T10:05:00", store.alerts[0].ReceiveTime,
		"alert timestamps come from the reading's receive time, not its calculation time")

	assert.Len(t, bus.sent[hub.StreamLoad], 1)
	assert.Len(t, bus.sent[hub.StreamAlerts], 1)
}

func TestHandleLoadNominalDepthNoAlert(t *testing.T) {
	store := &fakeStore{}
	bus := &fakeBus{}
	h := newTestHandlers(store, bus, nil, &fakeEnricher{data: model.Enrichment{UnitIdentifier: "U-1"}}, nil)

	m := &model.LoadMessage{
		VehicleID:          "v1",
		LicensePlateNumber: "AAA-111",
		CalculateTime:      "2026-08-24T10:00:00",
		NowThreadDepth:     fp(8.2),
	}
	require.NoError(t, h.HandleLoad(context.Background(), m))

	assert.Empty(t, store.alerts)
	assert.Empty(t, bus.sent[hub.StreamAlerts])
	assert.Len(t, store.loads, 1)
}
