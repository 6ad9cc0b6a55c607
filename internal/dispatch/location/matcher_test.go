package location

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/pkg/logger"
)

var matcherCenter = domain.GeoPoint{Latitude: 6.5244, Longitude: 3.3792}

func seedDriver(t *testing.T, store *MemoryStore, id string, lat, lng float64, status domain.DriverStatus) {
	t.Helper()
	_, err := store.Upsert(context.Background(), domain.LocationRecord{
		DriverID: id,
		Point:    domain.GeoPoint{Latitude: lat, Longitude: lng},
		Status:   status,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func newTestMatcher(store *MemoryStore) *Matcher {
	return NewMatcher(store, logger.NewLoggerTo("test", io.Discard))
}

func TestFindNearbySortsAscendingAndBoundsRadius(t *testing.T) {
	store := NewMemoryStore()
	// Roughly 0 km, 1.1 km, and 2.2 km north of the center.
	seedDriver(t, store, "closest", 6.5244, 3.3792, domain.DriverStatusAvailable)
	seedDriver(t, store, "middle", 6.5344, 3.3792, domain.DriverStatusAvailable)
	seedDriver(t, store, "farthest", 6.5444, 3.3792, domain.DriverStatusAvailable)
	// Well outside 5 km.
	seedDriver(t, store, "faraway", 7.5244, 3.3792, domain.DriverStatusAvailable)

	matches, err := newTestMatcher(store).FindNearby(context.Background(), matcherCenter, 5, nil, 0)
	if err != nil {
		t.Fatalf("FindNearby: %v", err)
	}

	want := []string{"closest", "middle", "farthest"}
	if len(matches) != len(want) {
		t.Fatalf("got %d matches, want %d", len(matches), len(want))
	}
	for i, id := range want {
		if matches[i].Record.DriverID != id {
			t.Errorf("match[%d] = %s, want %s", i, matches[i].Record.DriverID, id)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].DistanceKm < matches[i-1].DistanceKm {
			t.Fatalf("distances not ascending: %v then %v", matches[i-1].DistanceKm, matches[i].DistanceKm)
		}
	}
}

func TestFindNearbyFiltersStatusAndEphemeral(t *testing.T) {
	store := NewMemoryStore()
	seedDriver(t, store, "available", 6.5244, 3.3792, domain.DriverStatusAvailable)
	seedDriver(t, store, "busy", 6.5250, 3.3792, domain.DriverStatusBusy)
	seedDriver(t, store, "temp-device", 6.5244, 3.3792, domain.DriverStatusAvailable)

	available := domain.DriverStatusAvailable
	matches, err := newTestMatcher(store).FindNearby(context.Background(), matcherCenter, 5, &available, 0)
	if err != nil {
		t.Fatalf("FindNearby: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.DriverID != "available" {
		t.Fatalf("matches = %v, want only the available driver", matches)
	}
}

func TestFindNearbyCapsResults(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 20; i++ {
		seedDriver(t, store, fmt.Sprintf("driver-%02d", i), 6.5244+float64(i)*0.0005, 3.3792, domain.DriverStatusAvailable)
	}

	matches, err := newTestMatcher(store).FindNearby(context.Background(), matcherCenter, 5, nil, 3)
	if err != nil {
		t.Fatalf("FindNearby: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want limit 3", len(matches))
	}

	// Zero limit falls back to the default cap.
	matches, err = newTestMatcher(store).FindNearby(context.Background(), matcherCenter, 5, nil, 0)
	if err != nil {
		t.Fatalf("FindNearby: %v", err)
	}
	if len(matches) != DefaultMatchLimit {
		t.Fatalf("got %d matches, want default cap %d", len(matches), DefaultMatchLimit)
	}
}

func TestFindNearbyRejectsInvalidCenter(t *testing.T) {
	if _, err := newTestMatcher(NewMemoryStore()).FindNearby(context.Background(),
		domain.GeoPoint{Latitude: 91, Longitude: 0}, 5, nil, 0); err == nil {
		t.Fatal("expected validation error for latitude 91")
	}
}

func TestDensityAtCountsByStatus(t *testing.T) {
	store := NewMemoryStore()
	seedDriver(t, store, "a1", 6.5244, 3.3792, domain.DriverStatusAvailable)
	seedDriver(t, store, "a2", 6.5245, 3.3793, domain.DriverStatusAvailable)
	seedDriver(t, store, "b1", 6.5246, 3.3794, domain.DriverStatusBusy)

	computedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	matcher := newTestMatcher(store)
	matcher.now = func() time.Time { return computedAt }

	cell := domain.CellFor(matcherCenter, 2)
	snap, err := matcher.DensityAt(context.Background(), cell, 5)
	if err != nil {
		t.Fatalf("DensityAt: %v", err)
	}
	if !snap.ComputedAt.Equal(computedAt) {
		t.Fatalf("ComputedAt = %v, want the injected clock value %v", snap.ComputedAt, computedAt)
	}
	if snap.Total != 3 || snap.Available != 2 {
		t.Fatalf("snapshot total=%d available=%d, want 3 and 2", snap.Total, snap.Available)
	}
	if snap.CountByStatus[domain.DriverStatusBusy] != 1 {
		t.Fatalf("busy count = %d, want 1", snap.CountByStatus[domain.DriverStatusBusy])
	}
	if snap.CellKey != cell.Key() {
		t.Fatalf("cell key = %s, want %s", snap.CellKey, cell.Key())
	}
}

func TestFindWithFallbackRelaxesStatusFilter(t *testing.T) {
	store := NewMemoryStore()
	// No available drivers anywhere; one busy driver inside the doubled radius.
	seedDriver(t, store, "busy-only", 6.5544, 3.3792, domain.DriverStatusBusy)

	matches, err := newTestMatcher(store).FindWithFallback(context.Background(), matcherCenter, 5, 10)
	if err != nil {
		t.Fatalf("FindWithFallback: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.DriverID != "busy-only" {
		t.Fatalf("matches = %v, want the busy driver from the relaxed tier", matches)
	}
}

func TestFindWithFallbackPrefersFirstTier(t *testing.T) {
	store := NewMemoryStore()
	seedDriver(t, store, "near-available", 6.5250, 3.3792, domain.DriverStatusAvailable)
	seedDriver(t, store, "busy", 6.5251, 3.3792, domain.DriverStatusBusy)

	matches, err := newTestMatcher(store).FindWithFallback(context.Background(), matcherCenter, 5, 10)
	if err != nil {
		t.Fatalf("FindWithFallback: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.DriverID != "near-available" {
		t.Fatalf("matches = %v, want only the available driver from tier one", matches)
	}
}
