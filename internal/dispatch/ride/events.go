package ride

import (
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// Routing keys for ride lifecycle events on the ride topic exchange.
const (
	RoutingRequested = "ride.requested"
	RoutingStatus    = "ride.status"
)

// RequestedEvent is published when a ride enters REQUESTED and candidate
// drivers have been matched.
type RequestedEvent struct {
	RideID        string          `json:"ride_id"`
	RideNumber    string          `json:"ride_number"`
	PassengerID   string          `json:"passenger_id"`
	Pickup        domain.GeoPoint `json:"pickup"`
	Destination   domain.GeoPoint `json:"destination"`
	EstimatedFare Fare            `json:"estimated_fare"`
	CandidateIDs  []string        `json:"candidate_driver_ids"`
	RequestedAt   time.Time       `json:"requested_at"`
}

// StatusChangedEvent is published on every lifecycle transition.
type StatusChangedEvent struct {
	RideID     string    `json:"ride_id"`
	RideNumber string    `json:"ride_number"`
	Status     Status    `json:"status"`
	DriverID   *string   `json:"driver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
