// Package location holds the driver location store, the geospatial
// nearby-matcher, and the location-ingest pipeline.
package location

import (
	"context"
	"sync"
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// Store is the current-state record store, one record per stable driver id.
type Store interface {
	// Upsert writes the record for its driver id, replacing any previous
	// one. Last write wins; there is no merge.
	Upsert(ctx context.Context, rec domain.LocationRecord) (domain.LocationRecord, error)
	Get(ctx context.Context, driverID string) (domain.LocationRecord, error)
	// Within returns all records inside the bounding box, in no particular
	// order.
	Within(ctx context.Context, b domain.Bounds) ([]domain.LocationRecord, error)
}

// MemoryStore keeps records in a mutex-guarded map. It backs unit tests and
// single-process deployments without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.LocationRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.LocationRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, rec domain.LocationRecord) (domain.LocationRecord, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.records[rec.DriverID] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, driverID string) (domain.LocationRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[driverID]
	s.mu.RUnlock()
	if !ok {
		return domain.LocationRecord{}, &domain.NotFoundError{Entity: "driver", ID: driverID}
	}
	return rec, nil
}

func (s *MemoryStore) Within(_ context.Context, b domain.Bounds) ([]domain.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LocationRecord
	for _, rec := range s.records {
		if b.Contains(rec.Point) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
