// Package websocket is the real-time "tracking" channel: passengers follow
// driver availability and ride progress, drivers stream location reports.
package websocket

import "encoding/json"

// Client→server events.
const (
	EventTrackingRequest = "tracking:request"
	EventTrackingStop    = "tracking:stop"
	EventLocationReport  = "location:report"
)

// Server→client events.
const (
	EventLocationUpdate = "location:update"
	EventDensityMap     = "riders:density_map"
	EventETAUpdate      = "tracking:eta:update"
	EventGeofenceEnter  = "geofence:enter"
	EventGeofenceExit   = "geofence:exit"
	EventTrackingError  = "tracking:error"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TrackingRequest registers a passenger for availability broadcasts around
// their position, optionally pinned to a ride. Coordinates are pointers so
// an absent field is distinguishable from a literal zero.
type TrackingRequest struct {
	RiderID   string   `json:"riderId"`
	RideID    *string  `json:"rideId,omitempty"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
}

// TrackingStop removes the passenger from the tracked set.
type TrackingStop struct {
	RiderID string  `json:"riderId"`
	RideID  *string `json:"rideId,omitempty"`
}

// TrackingError is pushed when a client message cannot be honored.
type TrackingError struct {
	Message string `json:"message"`
}

// ETAUpdate reports remaining distance and estimated minutes to the ride's
// next waypoint.
type ETAUpdate struct {
	RideID     string  `json:"rideId"`
	Waypoint   string  `json:"waypoint"`
	DistanceKm float64 `json:"distanceKm"`
	ETAMinutes float64 `json:"etaMinutes"`
}

// GeofenceEvent marks the driver crossing the arrival radius of a waypoint.
type GeofenceEvent struct {
	RideID   string `json:"rideId"`
	Waypoint string `json:"waypoint"`
}
