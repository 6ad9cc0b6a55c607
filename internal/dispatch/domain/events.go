package domain

import "time"

// EventKind classifies tracking events.
type EventKind string

const (
	EventLocationUpdate EventKind = "location_update"
	EventStatusChange   EventKind = "status_change"
	EventConnect        EventKind = "connect"
	EventDisconnect     EventKind = "disconnect"
	EventRideStarted    EventKind = "ride_started"
	EventRideCompleted  EventKind = "ride_completed"
	EventRideCancelled  EventKind = "ride_cancelled"
	EventError          EventKind = "error"
)

// TrackingEvent is an immutable audit record. Created once, never mutated.
type TrackingEvent struct {
	ID            string         `json:"id"`
	Kind          EventKind      `json:"kind"`
	ActorID       string         `json:"actor_id"`
	ActorRole     string         `json:"actor_role"`
	RideID        *string        `json:"ride_id,omitempty"`
	RelatedUserID *string        `json:"related_user_id,omitempty"`
	Point         *GeoPoint      `json:"point,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RecordedAt    time.Time      `json:"recorded_at"`
}
