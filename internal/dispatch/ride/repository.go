package ride

import (
	"context"
	"strings"
	"sync"

	"ride-dispatch/internal/dispatch/domain"
)

// Repository persists rides. Create must return a DuplicateKeyError when the
// ride number collides with an existing one.
type Repository interface {
	NumberSource
	Create(ctx context.Context, r *Ride) error
	Update(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id string) (*Ride, error)
}

// MemoryRepository is the in-process implementation used by tests and
// single-process deployments.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Ride
	numbers map[string]string // ride number -> ride id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Ride),
		numbers: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, ride *Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.numbers[ride.Number()]; exists {
		return &domain.DuplicateKeyError{Key: "ride_number " + ride.Number()}
	}
	r.byID[ride.ID()] = ride.Clone()
	r.numbers[ride.Number()] = ride.ID()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, ride *Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[ride.ID()]; !exists {
		return &domain.NotFoundError{Entity: "ride", ID: ride.ID()}
	}
	r.byID[ride.ID()] = ride.Clone()
	return nil
}

// Get returns a private copy. Callers mutate and Update; the stored
// aggregate is never shared between goroutines.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Ride, error) {
	r.mu.RLock()
	ride, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.NotFoundError{Entity: "ride", ID: id}
	}
	return ride.Clone(), nil
}

func (r *MemoryRepository) MaxNumberForPrefix(_ context.Context, prefix string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := ""
	for number := range r.numbers {
		if strings.HasPrefix(number, prefix) && number > max {
			max = number
		}
	}
	return max, nil
}
