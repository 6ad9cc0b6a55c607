package domain

import (
	"fmt"
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// GeoPoint is a latitude/longitude pair. Type carries the coordinate tag
// ("pickup", "destination", "current") when the point is persisted.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type,omitempty"`
}

// Validate checks coordinate bounds.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("out of range: %v", p.Latitude)}
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("out of range: %v", p.Longitude)}
	}
	return nil
}

// DistanceKm returns the great-circle distance in kilometres between p and other.
func (p GeoPoint) DistanceKm(other GeoPoint) float64 {
	dLat := radians(other.Latitude - p.Latitude)
	dLng := radians(other.Longitude - p.Longitude)

	rLat1 := radians(p.Latitude)
	rLat2 := radians(other.Latitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Bounds is a latitude/longitude bounding box used to prefilter radius scans.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Contains reports whether the point lies inside the box. MinLng/MaxLng may
// run past ±180 when the box crosses the antimeridian; the point is shifted
// by 360° into the box's frame before comparing.
func (b Bounds) Contains(p GeoPoint) bool {
	if p.Latitude < b.MinLat || p.Latitude > b.MaxLat {
		return false
	}
	if b.MaxLng-b.MinLng >= 360 {
		return true
	}
	lng := p.Longitude
	if b.MinLng < -180 && lng > 0 {
		lng -= 360
	}
	if b.MaxLng > 180 && lng < 0 {
		lng += 360
	}
	return lng >= b.MinLng && lng <= b.MaxLng
}

// BoundsAround returns a box that fully encloses the circle of radiusKm
// around center. Longitude spread widens with latitude; near the poles the
// box degenerates to the full longitude range. Near ±180 the box spills past
// the antimeridian and Contains folds points into its frame.
func BoundsAround(center GeoPoint, radiusKm float64) Bounds {
	latDelta := radiusKm / 111.0
	lngDelta := 180.0
	if cos := math.Cos(radians(center.Latitude)); cos > 1e-6 {
		lngDelta = radiusKm / (111.0 * cos)
	}
	return Bounds{
		MinLat: center.Latitude - latDelta,
		MaxLat: center.Latitude + latDelta,
		MinLng: center.Longitude - lngDelta,
		MaxLng: center.Longitude + lngDelta,
	}
}

// Cell is a fixed-precision grid bucket. Lat/Lng hold the rounded coordinates,
// so a Cell doubles as the cell's nominal center.
type Cell struct {
	Lat float64
	Lng float64
}

// CellFor buckets a point by rounding both coordinates to precision decimal
// places. Two decimals gives roughly 1 km cells at the equator.
func CellFor(p GeoPoint, precision int) Cell {
	scale := math.Pow10(precision)
	return Cell{
		Lat: math.Round(p.Latitude*scale) / scale,
		Lng: math.Round(p.Longitude*scale) / scale,
	}
}

// Key returns the cell's map/wire key, e.g. "6.45:3.39".
func (c Cell) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ":" + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Center returns the cell's nominal center point.
func (c Cell) Center() GeoPoint {
	return GeoPoint{Latitude: c.Lat, Longitude: c.Lng}
}

// SortByDistance orders items ascending by the distance accessor. Insertion
// sort is fine for the small, capped result sets the matcher produces.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
