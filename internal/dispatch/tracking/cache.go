// Package tracking implements the availability cache and the dual-loop
// broadcast subsystem that keeps tracked passengers' availability views live.
package tracking

import (
	"sync"
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// TrackedPassenger is one entry in the passenger-location cache.
type TrackedPassenger struct {
	PassengerID   string
	RideID        *string
	Point         domain.GeoPoint
	Cell          domain.Cell
	TrackedSince  time.Time
	LastBroadcast time.Time
}

// PassengerCache maps tracked passenger ids to their location and grid cell.
// It is a derived, process-local view: safe to discard and rebuild from
// tracking requests.
type PassengerCache struct {
	mu      sync.RWMutex
	entries map[string]TrackedPassenger
	now     func() time.Time
}

func NewPassengerCache() *PassengerCache {
	return &PassengerCache{
		entries: make(map[string]TrackedPassenger),
		now:     time.Now,
	}
}

// Track registers or refreshes a passenger. TrackedSince is preserved across
// refreshes so the TTL measures total tracking age, not idle time.
func (c *PassengerCache) Track(passengerID string, rideID *string, point domain.GeoPoint, cell domain.Cell) TrackedPassenger {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[passengerID]
	if !exists {
		entry = TrackedPassenger{PassengerID: passengerID, TrackedSince: c.now()}
	}
	entry.RideID = rideID
	entry.Point = point
	entry.Cell = cell
	c.entries[passengerID] = entry
	return entry
}

// Stop removes a passenger. The next cycle simply no longer sees the entry.
func (c *PassengerCache) Stop(passengerID string) {
	c.mu.Lock()
	delete(c.entries, passengerID)
	c.mu.Unlock()
}

// Get returns the entry for a passenger.
func (c *PassengerCache) Get(passengerID string) (TrackedPassenger, bool) {
	c.mu.RLock()
	entry, ok := c.entries[passengerID]
	c.mu.RUnlock()
	return entry, ok
}

// Len reports the number of tracked passengers.
func (c *PassengerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ByCell groups current entries by grid cell. The returned slices are
// copies; mutating them does not touch the cache.
func (c *PassengerCache) ByCell() map[domain.Cell][]TrackedPassenger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[domain.Cell][]TrackedPassenger)
	for _, entry := range c.entries {
		out[entry.Cell] = append(out[entry.Cell], entry)
	}
	return out
}

// InCell returns the passengers currently bucketed in cell.
func (c *PassengerCache) InCell(cell domain.Cell) []TrackedPassenger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []TrackedPassenger
	for _, entry := range c.entries {
		if entry.Cell == cell {
			out = append(out, entry)
		}
	}
	return out
}

// TrackersOfRide returns the passengers tracking a specific ride.
func (c *PassengerCache) TrackersOfRide(rideID string) []TrackedPassenger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []TrackedPassenger
	for _, entry := range c.entries {
		if entry.RideID != nil && *entry.RideID == rideID {
			out = append(out, entry)
		}
	}
	return out
}

// MarkBroadcast stamps a passenger's last-broadcast marker.
func (c *PassengerCache) MarkBroadcast(passengerID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[passengerID]; ok {
		entry.LastBroadcast = at
		c.entries[passengerID] = entry
	}
}

// EvictOlderThan purges entries whose tracking age exceeds ttl and returns
// the evicted passenger ids.
func (c *PassengerCache) EvictOlderThan(ttl time.Duration) []string {
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	for id, entry := range c.entries {
		if entry.TrackedSince.Before(cutoff) {
			delete(c.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// DensityEntry is one cached density snapshot with its broadcast bookkeeping.
type DensityEntry struct {
	Snapshot      domain.DensitySnapshot
	ComputedAt    time.Time
	LastBroadcast time.Time
	Stale         bool
}

// DensityCache maps grid cells to their last computed density snapshot.
// Derived and rebuildable, never authoritative.
type DensityCache struct {
	mu      sync.RWMutex
	entries map[domain.Cell]DensityEntry
}

func NewDensityCache() *DensityCache {
	return &DensityCache{entries: make(map[domain.Cell]DensityEntry)}
}

func (c *DensityCache) Get(cell domain.Cell) (DensityEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cell]
	c.mu.RUnlock()
	return entry, ok
}

// Put stores a fresh snapshot and clears the stale flag.
func (c *DensityCache) Put(cell domain.Cell, snap domain.DensitySnapshot, broadcastAt time.Time) {
	c.mu.Lock()
	c.entries[cell] = DensityEntry{
		Snapshot:      snap,
		ComputedAt:    snap.ComputedAt,
		LastBroadcast: broadcastAt,
		Stale:         false,
	}
	c.mu.Unlock()
}

// MarkStale flags a cell for recomputation on the next change-detection
// tick. A cell with no cached snapshot is left alone: there is nothing to
// invalidate and the broadcast loop will populate it.
func (c *DensityCache) MarkStale(cell domain.Cell) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[cell]; ok {
		entry.Stale = true
		c.entries[cell] = entry
	}
}

// Remove drops a cell from the cache.
func (c *DensityCache) Remove(cell domain.Cell) {
	c.mu.Lock()
	delete(c.entries, cell)
	c.mu.Unlock()
}

// Cells returns the cells that currently hold a snapshot.
func (c *DensityCache) Cells() []domain.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Cell, 0, len(c.entries))
	for cell := range c.entries {
		out = append(out, cell)
	}
	return out
}
