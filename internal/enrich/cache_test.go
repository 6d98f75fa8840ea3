package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"truck-telemetryv1/internal/catalog"
	"truck-telemetryv1/internal/model"
	"truck-telemetryv1/internal/smarttyre"
)

type fakeUnits struct {
	info  *catalog.UnitInfo
	err   error
	calls int
}

func (f *fakeUnits) UnitInfo(_ context.Context, plate string) (*catalog.UnitInfo, error) {
	f.calls++
	return f.info, f.err
}

type fakeTires struct {
	info  *smarttyre.TireInfo
	err   error
	calls int
}

func (f *fakeTires) TiresInfoByVehicle(_ context.Context, vehicleID string) (*smarttyre.TireInfo, error) {
	f.calls++
	return f.info, f.err
}

func newTestCache(units *fakeUnits, tires *fakeTires) (*Cache, *time.Time) {
	c := NewCache(units, tires, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestVehicleDataJoinsBothSources(t *testing.T) {
	units := &fakeUnits{info: &catalog.UnitInfo{Status: "active", UnitIdentifier: "U-7", UnitType: "3"}}
	tires := &fakeTires{info: &smarttyre.TireInfo{OrgID: "org-1", TotalMileage: 120.5, TractorName: "TRC"}}
	c, _ := newTestCache(units, tires)

	got := c.VehicleData(context.Background(), "AAA-111", "v1")
	assert.Equal(t, "active", got.UnitStatus)
	assert.Equal(t, "U-7", got.UnitIdentifier)
	assert.Equal(t, "org-1", got.OrgID)
	assert.Equal(t, 120.5, got.TotalMileage)
	assert.Equal(t, "TRC", got.TractorName)
}

func TestVehicleDataCachesWithinTTL(t *testing.T) {
	units := &fakeUnits{info: &catalog.UnitInfo{Status: "active"}}
	tires := &fakeTires{}
	c, now := newTestCache(units, tires)

	c.VehicleData(context.Background(), "AAA-111", "v1")
	*now = now.Add(59 * time.Second)
	c.VehicleData(context.Background(), "AAA-111", "v1")
	assert.Equal(t, 1, units.calls, "second lookup inside TTL should hit the cache")

	*now = now.Add(2 * time.Second)
	c.VehicleData(context.Background(), "AAA-111", "v1")
	assert.Equal(t, 2, units.calls, "lookup past TTL should refetch")
}

func TestVehicleDataCatalogErrorSentinels(t *testing.T) {
	units := &fakeUnits{err: errors.New("mysql down")}
	tires := &fakeTires{info: &smarttyre.TireInfo{OrgID: "org-1"}}
	c, _ := newTestCache(units, tires)

	got := c.VehicleData(context.Background(), "AAA-111", "v1")
	assert.Equal(t, ErrorSentinel, got.UnitStatus)
	assert.Equal(t, ErrorSentinel, got.UnitIdentifier)
	assert.Equal(t, ErrorSentinel, got.UnitType)
	assert.Equal(t, "org-1", got.OrgID, "API data still joins on catalog failure")
}

func TestVehicleDataAPIFailureLeavesFieldsEmpty(t *testing.T) {
	units := &fakeUnits{info: &catalog.UnitInfo{Status: "active"}}
	tires := &fakeTires{err: errors.New("timeout")}
	c, _ := newTestCache(units, tires)

	got := c.VehicleData(context.Background(), "AAA-111", "v1")
	assert.Equal(t, "active", got.UnitStatus)
	assert.Empty(t, got.OrgID)
}

func TestVehicleDataEmptyLookupNotCached(t *testing.T) {
	units := &fakeUnits{} // unknown plate: nil info, nil err
	tires := &fakeTires{}
	c, _ := newTestCache(units, tires)

	got := c.VehicleData(context.Background(), "AAA-111", "")
	assert.Equal(t, model.Enrichment{}, got)

	c.VehicleData(context.Background(), "AAA-111", "")
	assert.Equal(t, 2, units.calls, "empty result must not be cached")
}

func TestVehicleDataNoPlateSkipsCatalog(t *testing.T) {
	units := &fakeUnits{}
	tires := &fakeTires{info: &smarttyre.TireInfo{OrgID: "org-1"}}
	c, _ := newTestCache(units, tires)

	got := c.VehicleData(context.Background(), "", "v1")
	assert.Equal(t, 0, units.calls)
	assert.Equal(t, "org-1", got.OrgID)
}
