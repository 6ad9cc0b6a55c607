package domain

import (
	"strings"
	"time"
)

// DriverStatus represents a driver's operational state.
type DriverStatus string

const (
	DriverStatusOffline   DriverStatus = "OFFLINE"
	DriverStatusAvailable DriverStatus = "AVAILABLE"
	DriverStatusBusy      DriverStatus = "BUSY"
	DriverStatusEnRoute   DriverStatus = "EN_ROUTE"
)

// IsValid checks if the status is one of the known values.
func (s DriverStatus) IsValid() bool {
	switch s {
	case DriverStatusOffline, DriverStatusAvailable, DriverStatusBusy, DriverStatusEnRoute:
		return true
	}
	return false
}

func (s DriverStatus) String() string {
	return string(s)
}

// EphemeralIDPrefix marks identities issued to devices before registration
// completes. Reports from these ids are echoed back but never persisted.
const EphemeralIDPrefix = "temp-"

// IsEphemeralID reports whether id is a pre-registration identity.
func IsEphemeralID(id string) bool {
	return strings.HasPrefix(id, EphemeralIDPrefix)
}

// LocationRecord is the durable current-state record for one driver. Exactly
// one record exists per stable driver id; updates are idempotent upserts,
// last write wins.
type LocationRecord struct {
	DriverID       string       `json:"driver_id"`
	Point          GeoPoint     `json:"point"`
	Status         DriverStatus `json:"status"`
	HeadingDegrees *float64     `json:"heading_degrees,omitempty"`
	SpeedKmh       *float64     `json:"speed_kmh,omitempty"`
	AltitudeMeters *float64     `json:"altitude_meters,omitempty"`
	BatteryLevel   *float64     `json:"battery_level,omitempty"`
	CurrentRideID  *string      `json:"current_ride_id,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// DensitySnapshot is the count of drivers by status within a radius of a
// grid cell. Pushed whole to clients, so a late or duplicate push simply
// overwrites prior state.
type DensitySnapshot struct {
	Cell          Cell                 `json:"-"`
	CellKey       string               `json:"cell"`
	CountByStatus map[DriverStatus]int `json:"count_by_status"`
	Available     int                  `json:"available_riders"`
	Total         int                  `json:"total_riders"`
	ComputedAt    time.Time            `json:"computed_at"`
}
