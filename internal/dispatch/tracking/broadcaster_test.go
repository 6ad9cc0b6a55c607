package tracking

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
)

type recordedPush struct {
	passengerID string
	event       string
	payload     any
}

type fakePusher struct {
	pushes []recordedPush
}

func (p *fakePusher) PushToPassenger(passengerID, event string, payload any) error {
	p.pushes = append(p.pushes, recordedPush{passengerID: passengerID, event: event, payload: payload})
	return nil
}

func (p *fakePusher) reset() { p.pushes = nil }

// flakyStore delegates to a MemoryStore until failing is set.
type flakyStore struct {
	*location.MemoryStore
	failing bool
}

func (s *flakyStore) Within(ctx context.Context, b domain.Bounds) ([]domain.LocationRecord, error) {
	if s.failing {
		return nil, errors.New("store timeout")
	}
	return s.MemoryStore.Within(ctx, b)
}

type broadcasterFixture struct {
	broadcaster *Broadcaster
	passengers  *PassengerCache
	densities   *DensityCache
	store       *flakyStore
	pusher      *fakePusher
	cfg         config.DispatchConfig
}

func newBroadcasterFixture(cfg config.DispatchConfig) *broadcasterFixture {
	log := logger.NewLoggerTo("test", io.Discard)
	f := &broadcasterFixture{
		passengers: NewPassengerCache(),
		densities:  NewDensityCache(),
		store:      &flakyStore{MemoryStore: location.NewMemoryStore()},
		pusher:     &fakePusher{},
		cfg:        cfg,
	}
	f.broadcaster = NewBroadcaster(f.passengers, f.densities, location.NewMatcher(f.store, log), f.pusher, cfg, log)
	return f
}

func defaultTestConfig() config.DispatchConfig {
	return config.DispatchConfig{
		GridPrecision:        2,
		ChangeThreshold:      0.20,
		PassengerTTL:         15 * time.Minute,
		MinTrackedPassengers: 1,
		MatcherRadiusKm:      5,
		MatcherLimit:         10,
	}
}

func seedAvailableDrivers(t *testing.T, f *broadcasterFixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.store.Upsert(context.Background(), domain.LocationRecord{
			DriverID: "driver-" + string(rune('a'+i)),
			Point:    domain.GeoPoint{Latitude: 6.5244 + float64(i)*0.0003, Longitude: 3.3792},
			Status:   domain.DriverStatusAvailable,
		})
		if err != nil {
			t.Fatalf("seed driver: %v", err)
		}
	}
}

func TestBroadcastCyclePushesDensityToTrackedPassengers(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 3)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())

	if len(f.pusher.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(f.pusher.pushes))
	}
	push := f.pusher.pushes[0]
	if push.passengerID != "passenger-1" || push.event != EventAvailabilityUpdate {
		t.Fatalf("push = %+v", push)
	}
	snap, ok := push.payload.(domain.DensitySnapshot)
	if !ok {
		t.Fatalf("payload type %T", push.payload)
	}
	if snap.Total != 3 || snap.Available != 3 {
		t.Fatalf("snapshot total=%d available=%d, want 3 and 3", snap.Total, snap.Available)
	}

	entry, ok := f.densities.Get(cacheCell)
	if !ok || entry.Snapshot.Total != 3 {
		t.Fatal("snapshot not cached after broadcast")
	}
	tracked, _ := f.passengers.Get("passenger-1")
	if tracked.LastBroadcast.IsZero() {
		t.Fatal("last-broadcast marker not stamped")
	}
}

func TestBroadcastCycleSkipsBelowMinTracked(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MinTrackedPassengers = 2
	f := newBroadcasterFixture(cfg)
	seedAvailableDrivers(t, f, 3)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())

	if len(f.pusher.pushes) != 0 {
		t.Fatalf("pushed %d messages below the tracked-passenger floor", len(f.pusher.pushes))
	}
}

func TestBroadcastCycleEvictsExpiredPassengers(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 1)

	base := time.Date(2026, 5, 30, 10, 0, 0, 0, time.UTC)
	f.passengers.now = func() time.Time { return base }
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.passengers.now = func() time.Time { return base.Add(16 * time.Minute) }
	f.broadcaster.RunBroadcastCycle(context.Background())

	if _, ok := f.passengers.Get("passenger-1"); ok {
		t.Fatal("expired passenger survived the cycle")
	}
	if len(f.pusher.pushes) != 0 {
		t.Fatalf("pushed %d messages to an evicted passenger", len(f.pusher.pushes))
	}
}

func TestBroadcastCycleDegradesToCachedSnapshotOnStoreFailure(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 2)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())
	f.pusher.reset()

	f.store.failing = true
	f.broadcaster.RunBroadcastCycle(context.Background())

	if len(f.pusher.pushes) != 1 {
		t.Fatalf("pushes during degradation = %d, want 1", len(f.pusher.pushes))
	}
	snap := f.pusher.pushes[0].payload.(domain.DensitySnapshot)
	if snap.Total != 2 {
		t.Fatalf("degraded push total = %d, want cached 2", snap.Total)
	}
}

func TestChangeDetectionPushesOnSignificantChange(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 2)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())
	f.pusher.reset()

	// 2 -> 3 drivers is a 50% jump, over the 20% threshold.
	seedAvailableDrivers(t, f, 3)
	f.broadcaster.RunChangeDetectionCycle(context.Background())

	if len(f.pusher.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1 early push", len(f.pusher.pushes))
	}
	snap := f.pusher.pushes[0].payload.(domain.DensitySnapshot)
	if snap.Total != 3 {
		t.Fatalf("pushed total = %d, want fresh 3", snap.Total)
	}
}

func TestChangeDetectionStaysQuietBelowThreshold(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 10)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())
	f.pusher.reset()

	// 10 -> 11 is 10%, under the 20% threshold.
	_, err := f.store.Upsert(context.Background(), domain.LocationRecord{
		DriverID: "driver-extra",
		Point:    cachePoint,
		Status:   domain.DriverStatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed extra driver: %v", err)
	}
	f.densities.MarkStale(cacheCell)
	f.broadcaster.RunChangeDetectionCycle(context.Background())

	if len(f.pusher.pushes) != 0 {
		t.Fatalf("pushed %d messages below threshold", len(f.pusher.pushes))
	}

	// The stale snapshot is still refreshed, silently.
	entry, ok := f.densities.Get(cacheCell)
	if !ok {
		t.Fatal("cached entry vanished")
	}
	if entry.Stale {
		t.Fatal("stale flag not cleared by the refresh")
	}
	if entry.Snapshot.Total != 11 {
		t.Fatalf("refreshed total = %d, want 11", entry.Snapshot.Total)
	}
}

func TestRelativeChange(t *testing.T) {
	cases := []struct {
		oldCount, newCount int
		want               float64
	}{
		{0, 0, 0},
		{0, 5, 1},
		{10, 12, 0.2},
		{10, 8, 0.2},
		{4, 4, 0},
	}
	for _, c := range cases {
		if got := relativeChange(c.oldCount, c.newCount); got != c.want {
			t.Errorf("relativeChange(%d, %d) = %v, want %v", c.oldCount, c.newCount, got, c.want)
		}
	}
}

func TestDensityMapSnapshotPerCell(t *testing.T) {
	f := newBroadcasterFixture(defaultTestConfig())
	seedAvailableDrivers(t, f, 2)
	f.passengers.Track("passenger-1", nil, cachePoint, cacheCell)

	f.broadcaster.RunBroadcastCycle(context.Background())

	dm := f.broadcaster.DensityMap()
	if len(dm) != 1 {
		t.Fatalf("density map cells = %d, want 1", len(dm))
	}
	if snap, ok := dm[cacheCell.Key()]; !ok || snap.Total != 2 {
		t.Fatalf("density map entry = %+v", dm)
	}
}
