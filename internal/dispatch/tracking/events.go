package tracking

import (
	"context"
	"sync"

	"ride-dispatch/internal/dispatch/domain"
)

// MemoryEventLog is an in-process append-only event recorder. It backs unit
// tests and single-process deployments without Postgres.
type MemoryEventLog struct {
	mu     sync.Mutex
	events []domain.TrackingEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) Append(_ context.Context, event domain.TrackingEvent) error {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of everything appended so far.
func (l *MemoryEventLog) Events() []domain.TrackingEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TrackingEvent, len(l.events))
	copy(out, l.events)
	return out
}
