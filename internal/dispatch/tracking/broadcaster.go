package tracking

import (
	"context"
	"fmt"
	"math"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
)

// EventAvailabilityUpdate is the push event carrying a density snapshot.
const EventAvailabilityUpdate = "riders:availability_update"

// Pusher delivers a server push to one passenger's live channel.
type Pusher interface {
	PushToPassenger(passengerID string, event string, payload any) error
}

// Broadcaster owns the two interval loops over the density and passenger
// caches: the full broadcast cycle and the change-detection cycle that makes
// the system feel live between scheduled ticks.
type Broadcaster struct {
	passengers *PassengerCache
	densities  *DensityCache
	matcher    *location.Matcher
	pusher     Pusher
	cfg        config.DispatchConfig
	log        logger.Logger
	now        func() time.Time
}

func NewBroadcaster(
	passengers *PassengerCache,
	densities *DensityCache,
	matcher *location.Matcher,
	pusher Pusher,
	cfg config.DispatchConfig,
	log logger.Logger,
) *Broadcaster {
	return &Broadcaster{
		passengers: passengers,
		densities:  densities,
		matcher:    matcher,
		pusher:     pusher,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// RunBroadcastCycle is one full broadcast tick: evict expired passengers,
// then recompute and push the density snapshot for every occupied cell.
// Per-cell failures are logged and never halt the rest of the cycle.
func (b *Broadcaster) RunBroadcastCycle(ctx context.Context) {
	for _, passengerID := range b.passengers.EvictOlderThan(b.cfg.PassengerTTL) {
		b.log.WithFields(logger.LogFields{"passenger_id": passengerID}).
			Debug("broadcast.evict", "Tracked passenger expired")
	}

	if b.passengers.Len() < b.cfg.MinTrackedPassengers {
		return
	}

	for cell, tracked := range b.passengers.ByCell() {
		if err := b.broadcastCell(ctx, cell, tracked); err != nil {
			b.log.WithFields(logger.LogFields{"cell": cell.Key()}).Error("broadcast.cell", err)
		}
	}
}

func (b *Broadcaster) broadcastCell(ctx context.Context, cell domain.Cell, tracked []TrackedPassenger) error {
	snap, err := b.matcher.DensityAt(ctx, cell, b.cfg.MatcherRadiusKm)
	if err != nil {
		// Degrade to the last cached snapshot rather than skipping the push.
		cached, ok := b.densities.Get(cell)
		if !ok {
			return fmt.Errorf("density recompute failed with no cached fallback: %w", err)
		}
		snap = cached.Snapshot
	}

	now := b.now()
	b.densities.Put(cell, snap, now)

	for _, passenger := range tracked {
		if err := b.pusher.PushToPassenger(passenger.PassengerID, EventAvailabilityUpdate, snap); err != nil {
			b.log.WithFields(logger.LogFields{"passenger_id": passenger.PassengerID}).
				Error("broadcast.push", err)
			continue
		}
		b.passengers.MarkBroadcast(passenger.PassengerID, now)
	}
	return nil
}

// RunChangeDetectionCycle is one change-detection tick: recompute every
// cached cell's density and push ahead of schedule when the driver count
// moved by at least the configured threshold. Cells marked stale by the
// ingest pipeline are always refreshed.
func (b *Broadcaster) RunChangeDetectionCycle(ctx context.Context) {
	for _, cell := range b.densities.Cells() {
		if err := b.detectChange(ctx, cell); err != nil {
			b.log.WithFields(logger.LogFields{"cell": cell.Key()}).Error("change_detect.cell", err)
		}
	}
}

func (b *Broadcaster) detectChange(ctx context.Context, cell domain.Cell) error {
	cached, ok := b.densities.Get(cell)
	if !ok {
		return nil
	}

	fresh, err := b.matcher.DensityAt(ctx, cell, b.cfg.MatcherRadiusKm)
	if err != nil {
		return fmt.Errorf("density recompute: %w", err)
	}

	significant := relativeChange(cached.Snapshot.Total, fresh.Total) >= b.cfg.ChangeThreshold

	if !significant {
		if cached.Stale {
			// Refresh the invalidated snapshot but keep the old broadcast
			// marker; no push happened.
			b.densities.Put(cell, fresh, cached.LastBroadcast)
		}
		return nil
	}

	now := b.now()
	b.densities.Put(cell, fresh, now)

	for _, passenger := range b.passengers.InCell(cell) {
		if err := b.pusher.PushToPassenger(passenger.PassengerID, EventAvailabilityUpdate, fresh); err != nil {
			b.log.WithFields(logger.LogFields{"passenger_id": passenger.PassengerID}).
				Error("change_detect.push", err)
			continue
		}
		b.passengers.MarkBroadcast(passenger.PassengerID, now)
	}
	return nil
}

// relativeChange returns |new-old| relative to the old count. A change from
// zero counts as total change.
func relativeChange(oldCount, newCount int) float64 {
	if oldCount == newCount {
		return 0
	}
	if oldCount == 0 {
		return 1
	}
	return math.Abs(float64(newCount-oldCount)) / float64(oldCount)
}

// DensityMap assembles the per-cell snapshot map pushed as
// riders:density_map to a newly tracked passenger.
func (b *Broadcaster) DensityMap() map[string]domain.DensitySnapshot {
	out := make(map[string]domain.DensitySnapshot)
	for _, cell := range b.densities.Cells() {
		if entry, ok := b.densities.Get(cell); ok {
			out[cell.Key()] = entry.Snapshot
		}
	}
	return out
}
