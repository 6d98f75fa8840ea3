// Package enrich joins catalog and SmartTyre data onto inbound events and
// resolves physical tire positions from the truck layout.
package enrich

import (
	"context"
	"log"
	"sync"
	"time"

	"truck-telemetryv1/internal/catalog"
	"truck-telemetryv1/internal/metrics"
	"truck-telemetryv1/internal/model"
	"truck-telemetryv1/internal/smarttyre"
)

// DefaultTTL bounds how long a plate's enrichment data is reused.
const DefaultTTL = 60 * time.Second

// ErrorSentinel is stored in the catalog-derived fields when the catalog
// query fails, so the message is enriched rather than dropped.
const ErrorSentinel = "ERROR"

// UnitSource is the catalog subset the cache needs.
type UnitSource interface {
	UnitInfo(ctx context.Context, plate string) (*catalog.UnitInfo, error)
}

// TireAPI is the SmartTyre subset the cache needs.
type TireAPI interface {
	TiresInfoByVehicle(ctx context.Context, vehicleID string) (*smarttyre.TireInfo, error)
}

type cacheEntry struct {
	data model.Enrichment
	at   time.Time
}

// Cache is a TTL-bounded enrichment lookup keyed by license plate.
// Concurrent misses for the same plate may fetch in parallel; the last
// writer wins.
type Cache struct {
	units UnitSource
	tires TireAPI
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry

	metrics *metrics.Metrics
}

// NewCache creates a Cache with the default 60 s TTL.
func NewCache(units UnitSource, tires TireAPI, m *metrics.Metrics) *Cache {
	return &Cache{
		units:   units,
		tires:   tires,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		metrics: m,
	}
}

// VehicleData returns the enrichment fields for a plate/vehicle pair, from
// cache when fresh. Catalog failures substitute ERROR sentinels; SmartTyre
// failures leave the API fields empty. Lookups that produce nothing are not
// cached, so the next message retries.
func (c *Cache) VehicleData(ctx context.Context, plate, vehicleID string) model.Enrichment {
	if plate != "" {
		c.mu.Lock()
		entry, ok := c.entries[plate]
		c.mu.Unlock()
		if ok && c.now().Sub(entry.at) < c.ttl {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return entry.data
		}
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	var data model.Enrichment

	if plate != "" {
		info, err := c.units.UnitInfo(ctx, plate)
		switch {
		case err != nil:
			log.Printf("[enrich] catalog query failed for %s: %v", plate, err)
			data.UnitStatus = ErrorSentinel
			data.UnitIdentifier = ErrorSentinel
			data.UnitType = ErrorSentinel
		case info != nil:
			data.UnitStatus = info.Status
			data.UnitIdentifier = info.UnitIdentifier
			data.UnitType = info.UnitType
		}
	}

	if vehicleID != "" {
		info, err := c.tires.TiresInfoByVehicle(ctx, vehicleID)
		if err != nil {
			log.Printf("[enrich] smarttyre lookup failed for vehicle %s: %v", vehicleID, err)
		} else if info != nil {
			data.LatestDataTime = info.LatestDataTime
			data.LoadData = info.LoadData
			data.OrgID = info.OrgID
			data.TotalMileage = info.TotalMileage
			data.TractorName = info.TractorName
		}
	}

	if plate != "" && data != (model.Enrichment{}) {
		c.mu.Lock()
		c.entries[plate] = cacheEntry{data: data, at: c.now()}
		c.mu.Unlock()
	}
	return data
}
