// Package bootstrap serves the initial-state snapshots new subscribers load
// before switching to the live streams. Queries expand through widening time
// windows so a recently active fleet is answered from a cheap narrow window.
package bootstrap

import (
	"context"
	"strings"
	"time"

	"truck-telemetryv1/internal/docstore"
	"truck-telemetryv1/internal/metrics"
	"truck-telemetryv1/internal/model"
	"truck-telemetryv1/internal/vlog"
)

// Snapshot time windows, in days, narrowest first.
var defaultWindows = []int{5, 15, 30, 60, 90, 365}

const (
	// initialBroadcastDelay gives a fresh subscriber time to finish its
	// snapshot load before synthesized alerts arrive on the live stream.
	initialBroadcastDelay = 3 * time.Second
	interAlertGap         = 500 * time.Millisecond

	openAlertLimit = 500
)

// Store is the document-store subset the snapshot queries need.
type Store interface {
	LatestGPS(ctx context.Context, since time.Time, singlePlate string, plates, exclude []string) ([]map[string]any, error)
	LatestSensors(ctx context.Context, since time.Time, singlePlate string, plates []string) ([]map[string]any, error)
	LatestLoads(ctx context.Context, since time.Time, singlePlate string, plates []string) ([]map[string]any, error)
	OpenAlerts(ctx context.Context, singlePlate string, plates []string, limit int) ([]map[string]any, error)
	LatestByPosition(ctx context.Context, coll, timeField string, keys []docstore.PositionKey) (map[docstore.PositionKey]map[string]any, error)
	UpsertAlert(ctx context.Context, doc model.AlertDoc) error
	CloseAlert(ctx context.Context, id any) error
}

// PlateSource resolves a company's plates for snapshot scoping.
type PlateSource interface {
	PlatesForCompany(ctx context.Context, companyID int) ([]string, error)
}

// Broadcaster delivers synthesized alerts to the live alerts stream.
type Broadcaster interface {
	Broadcast(ctx context.Context, stream string, payload []byte)
}

// Params scope one snapshot request. CompanyID is only meaningful when
// HasCompany is set. Plate is the licensePlateNumber query param and wins
// over everything else; Plates is the repeated pn param.
type Params struct {
	CompanyID  int
	HasCompany bool
	Plate      string
	Plates     []string
}

// PrivilegedCompanyID requests see every plate.
const PrivilegedCompanyID = 2

// Service answers snapshot queries with adaptive window expansion, GPS
// timeout synthesis, and open-alert reconciliation.
type Service struct {
	store   Store
	plates  PlateSource
	bus     Broadcaster
	metrics *metrics.Metrics
	logs    *vlog.Router

	windows      []int
	initialDelay time.Duration
	alertGap     time.Duration
	now          func() time.Time

	// baseCtx outlives the request: delayed alert broadcasts keep running
	// after the snapshot response is written, and stop on shutdown.
	baseCtx context.Context
}

// New creates the snapshot service. baseCtx bounds the lifetime of delayed
// alert broadcasts.
func New(baseCtx context.Context, store Store, plates PlateSource, bus Broadcaster, m *metrics.Metrics, logs *vlog.Router) *Service {
	return &Service{
		store:        store,
		plates:       plates,
		bus:          bus,
		metrics:      m,
		logs:         logs,
		windows:      defaultWindows,
		initialDelay: initialBroadcastDelay,
		alertGap:     interAlertGap,
		now:          time.Now,
		baseCtx:      baseCtx,
	}
}

// resolvePlates turns request params into a query scope. Returns
// (singlePlate, plateList, empty): empty means the scope matches nothing and
// the snapshot is trivially empty. A nil plateList with "" singlePlate means
// unscoped.
func (s *Service) resolvePlates(ctx context.Context, p Params) (string, []string, bool, error) {
	if plate := strings.TrimSpace(p.Plate); plate != "" {
		return plate, nil, false, nil
	}
	var pn []string
	for _, raw := range p.Plates {
		if v := strings.TrimSpace(raw); v != "" {
			pn = append(pn, v)
		}
	}
	if len(pn) > 0 {
		return "", pn, false, nil
	}
	if !p.HasCompany || p.CompanyID == PrivilegedCompanyID {
		return "", nil, false, nil
	}
	plates, err := s.plates.PlatesForCompany(ctx, p.CompanyID)
	if err != nil {
		return "", nil, false, err
	}
	if len(plates) == 0 {
		return "", nil, true, nil
	}
	return "", plates, false, nil
}

// GPSSnapshot returns the latest position per plate in scope. Scoped queries
// narrow each wider window to the plates still missing; unscoped ones exclude
// the plates already found, so every plate gets its freshest document without
// re-scanning recent traffic. Stale positions are marked offline and their
// timeout alerts synthesized as a side effect.
func (s *Service) GPSSnapshot(ctx context.Context, p Params) ([]map[string]any, error) {
	single, plates, empty, err := s.resolvePlates(ctx, p)
	if err != nil {
		return nil, err
	}
	if empty {
		return []map[string]any{}, nil
	}

	var docs []map[string]any
	var found []string
	remaining := plates
	for _, days := range s.windows {
		if s.metrics != nil {
			s.metrics.WindowQueries.WithLabelValues("gps").Inc()
		}
		since := s.now().AddDate(0, 0, -days)

		// Scoped queries narrow to the plates still missing; only unscoped
		// ones exclude, since their population cannot be enumerated.
		var exclude []string
		if single == "" && plates == nil {
			exclude = found
		}
		res, err := s.store.LatestGPS(ctx, since, single, remaining, exclude)
		if err != nil {
			return nil, err
		}
		for _, doc := range res {
			docs = append(docs, doc)
			if plate, _ := doc["licensePlateNumber"].(string); plate != "" {
				found = append(found, plate)
			}
		}
		if single != "" && len(found) > 0 {
			break
		}
		if plates != nil {
			remaining = missingPlates(plates, found)
			if len(remaining) == 0 {
				break
			}
		}
	}

	stale := s.markTimeouts(ctx, docs, p)
	if len(stale) > 0 {
		go s.broadcastDelayed(stale)
	}

	return cleanDocs(docs), nil
}

// missingPlates returns the plates in scope not yet covered by found.
func missingPlates(plates, found []string) []string {
	seen := make(map[string]struct{}, len(found))
	for _, p := range found {
		seen[p] = struct{}{}
	}
	var missing []string
	for _, p := range plates {
		if _, ok := seen[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// SensorSnapshot returns the latest reading per tire position in scope, from
// the narrowest non-empty window.
func (s *Service) SensorSnapshot(ctx context.Context, p Params) ([]map[string]any, error) {
	return s.positionSnapshot(ctx, p, "sensor", s.store.LatestSensors)
}

// LoadSnapshot returns the latest load reading per tire position in scope,
// from the narrowest non-empty window.
func (s *Service) LoadSnapshot(ctx context.Context, p Params) ([]map[string]any, error) {
	return s.positionSnapshot(ctx, p, "load", s.store.LatestLoads)
}

func (s *Service) positionSnapshot(
	ctx context.Context,
	p Params,
	endpoint string,
	query func(ctx context.Context, since time.Time, singlePlate string, plates []string) ([]map[string]any, error),
) ([]map[string]any, error) {
	single, plates, empty, err := s.resolvePlates(ctx, p)
	if err != nil {
		return nil, err
	}
	if empty {
		return []map[string]any{}, nil
	}

	for _, days := range s.windows {
		if s.metrics != nil {
			s.metrics.WindowQueries.WithLabelValues(endpoint).Inc()
		}
		since := s.now().AddDate(0, 0, -days)
		docs, err := query(ctx, since, single, plates)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			return cleanDocs(docs), nil
		}
	}
	return []map[string]any{}, nil
}
