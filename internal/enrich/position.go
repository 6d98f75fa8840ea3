package enrich

import (
	"context"
	"log"

	"truck-telemetryv1/internal/catalog"
)

// Spare tire positions. axle 0 is reserved for spares: wheel 1 and 2 map to
// 11 and 12.
const (
	SparePosition1 = 11
	SparePosition2 = 12
)

// LayoutSource is the catalog subset the resolver needs.
type LayoutSource interface {
	TruckLayout(ctx context.Context, plate string) (*catalog.Layout, error)
}

// Resolver maps (plate, axle, wheel) to the canonical tire position derived
// from the truck's catalog layout.
type Resolver struct {
	layouts LayoutSource
}

// NewResolver creates a Resolver backed by the given catalog.
func NewResolver(layouts LayoutSource) *Resolver {
	return &Resolver{layouts: layouts}
}

// RealPosition returns the flat 1-based tire position for an axle/wheel pair,
// or false when the indices fall outside the truck's layout. Positions are
// numbered axle by axle: a 3-axle truck with [2,4,4] tires numbers axle 3
// wheel 2 as position 8.
func (r *Resolver) RealPosition(ctx context.Context, plate string, axle, wheel int) (int, bool) {
	if axle == 0 {
		switch wheel {
		case 1:
			return SparePosition1, true
		case 2:
			return SparePosition2, true
		default:
			return 0, false
		}
	}
	if axle < 0 || wheel < 1 || plate == "" {
		return 0, false
	}

	layout, err := r.layouts.TruckLayout(ctx, plate)
	if err != nil {
		log.Printf("[enrich] layout lookup failed for %s: %v", plate, err)
		return 0, false
	}
	if layout == nil || axle > len(layout.TiresPerAxle) {
		return 0, false
	}
	if wheel > layout.TiresPerAxle[axle-1] {
		return 0, false
	}

	pos := 0
	for i := 0; i < axle-1; i++ {
		pos += layout.TiresPerAxle[i]
	}
	return pos + wheel, true
}
