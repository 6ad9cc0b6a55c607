package location

import (
	"context"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/lookup"
	"ride-dispatch/pkg/logger"
)

// DefaultMatchLimit caps nearby results when the caller passes no limit.
const DefaultMatchLimit = 10

// Match is one nearby driver with its distance from the query center.
type Match struct {
	Record     domain.LocationRecord `json:"record"`
	DistanceKm float64               `json:"distance_km"`
}

// Matcher answers radius-bounded queries over the location store.
type Matcher struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

func NewMatcher(store Store, log logger.Logger) *Matcher {
	return &Matcher{store: store, log: log, now: time.Now}
}

// FindNearby returns drivers within radiusKm of center, optionally filtered
// by status, sorted ascending by distance and capped to limit. Ephemeral
// identities never appear: they have no durable record to match against.
func (m *Matcher) FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, status *domain.DriverStatus, limit int) ([]Match, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	candidates, err := m.store.Within(ctx, domain.BoundsAround(center, radiusKm))
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "matcher.within", Err: err}
	}

	matches := make([]Match, 0, len(candidates))
	for _, rec := range candidates {
		if domain.IsEphemeralID(rec.DriverID) {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		d := center.DistanceKm(rec.Point)
		if d > radiusKm {
			continue
		}
		matches = append(matches, Match{Record: rec, DistanceKm: d})
	}

	domain.SortByDistance(matches, func(m Match) float64 { return m.DistanceKm })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DensityAt reuses the radius scan to build a count-by-status snapshot for a
// grid cell.
func (m *Matcher) DensityAt(ctx context.Context, cell domain.Cell, radiusKm float64) (domain.DensitySnapshot, error) {
	matches, err := m.FindNearby(ctx, cell.Center(), radiusKm, nil, densityScanLimit)
	if err != nil {
		return domain.DensitySnapshot{}, err
	}

	snap := domain.DensitySnapshot{
		Cell:          cell,
		CellKey:       cell.Key(),
		CountByStatus: make(map[domain.DriverStatus]int),
		ComputedAt:    m.now(),
	}
	for _, match := range matches {
		snap.CountByStatus[match.Record.Status]++
		snap.Total++
		if match.Record.Status == domain.DriverStatusAvailable {
			snap.Available++
		}
	}
	return snap, nil
}

// densityScanLimit keeps density scans bounded without clipping realistic
// cell populations the way the nearby cap would.
const densityScanLimit = 4096

// FindWithFallback is the driver-match retry: exact status filter first,
// then relaxed filters over a widening radius, each tier on a shorter
// budget. Spends at most the sum of the tier timeouts.
func (m *Matcher) FindWithFallback(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]Match, error) {
	available := domain.DriverStatusAvailable

	tiers := []lookup.Attempt[[]Match]{
		{
			Name:    "available_in_radius",
			Timeout: 2 * time.Second,
			Run: func(ctx context.Context) ([]Match, bool, error) {
				matches, err := m.FindNearby(ctx, center, radiusKm, &available, limit)
				return matches, len(matches) > 0, err
			},
		},
		{
			Name:    "available_wide",
			Timeout: 1500 * time.Millisecond,
			Run: func(ctx context.Context) ([]Match, bool, error) {
				matches, err := m.FindNearby(ctx, center, radiusKm*2, &available, limit)
				return matches, len(matches) > 0, err
			},
		},
		{
			Name:    "any_status_wide",
			Timeout: time.Second,
			Run: func(ctx context.Context) ([]Match, bool, error) {
				matches, err := m.FindNearby(ctx, center, radiusKm*2, nil, limit)
				return matches, len(matches) > 0, err
			},
		},
	}

	result, err := lookup.Tiered(ctx, tiers)
	if err != nil {
		return nil, err
	}
	if result.Tier != "available_in_radius" {
		m.log.Debug("matcher.fallback", "Matched drivers via relaxed tier "+result.Tier)
	}
	return result.Value, nil
}
