package domain

import (
	"math"
	"testing"
)

func TestGeoPointValidate(t *testing.T) {
	valid := []GeoPoint{
		{Latitude: 0, Longitude: 0},
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
		{Latitude: 6.5244, Longitude: 3.3792},
	}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Errorf("Validate(%v) = %v, want nil", p, err)
		}
	}

	invalid := []GeoPoint{
		{Latitude: 90.001, Longitude: 0},
		{Latitude: -91, Longitude: 0},
		{Latitude: 0, Longitude: 180.5},
		{Latitude: 0, Longitude: -181},
		{Latitude: math.NaN(), Longitude: 0},
	}
	for _, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%v) = nil, want error", p)
		}
	}
}

func TestDistanceKm(t *testing.T) {
	lagos := GeoPoint{Latitude: 6.5244, Longitude: 3.3792}
	ikeja := GeoPoint{Latitude: 6.6018, Longitude: 3.3515}

	d := lagos.DistanceKm(ikeja)
	if d < 8 || d > 10 {
		t.Fatalf("Lagos-Ikeja distance = %v km, want roughly 9", d)
	}
	if lagos.DistanceKm(lagos) != 0 {
		t.Fatal("distance to self should be zero")
	}
	if got, want := lagos.DistanceKm(ikeja), ikeja.DistanceKm(lagos); got != want {
		t.Fatalf("distance not symmetric: %v vs %v", got, want)
	}
}

func TestBoundsAroundContainsCircle(t *testing.T) {
	center := GeoPoint{Latitude: 6.5244, Longitude: 3.3792}
	b := BoundsAround(center, 5)

	if !b.Contains(center) {
		t.Fatal("box does not contain its center")
	}
	// Points 4.9 km due north/east must be inside.
	north := GeoPoint{Latitude: center.Latitude + 4.9/111.0, Longitude: center.Longitude}
	if !b.Contains(north) {
		t.Fatal("box clips a point inside the radius")
	}
	// A point 3 degrees away is far outside.
	if b.Contains(GeoPoint{Latitude: center.Latitude + 3, Longitude: center.Longitude}) {
		t.Fatal("box contains a point far outside the radius")
	}
}

func TestBoundsAroundWrapsAtAntimeridian(t *testing.T) {
	// Fiji-side center just west of the line; a driver just east of it sits
	// at -179.95 and must still fall inside the box.
	east := BoundsAround(GeoPoint{Latitude: -17.7, Longitude: 179.9}, 30)
	if !east.Contains(GeoPoint{Latitude: -17.7, Longitude: -179.95}) {
		t.Fatal("box centered at 179.9 misses a point across the antimeridian")
	}
	if east.Contains(GeoPoint{Latitude: -17.7, Longitude: 0}) {
		t.Fatal("wrapped box contains a point half the world away")
	}

	west := BoundsAround(GeoPoint{Latitude: -17.7, Longitude: -179.9}, 30)
	if !west.Contains(GeoPoint{Latitude: -17.7, Longitude: 179.95}) {
		t.Fatal("box centered at -179.9 misses a point across the antimeridian")
	}

	// Near the pole the longitude range degenerates to the full circle.
	polar := BoundsAround(GeoPoint{Latitude: 89.9999, Longitude: 0}, 50)
	if !polar.Contains(GeoPoint{Latitude: 89.9999, Longitude: 180}) {
		t.Fatal("polar box should span all longitudes")
	}
}

func TestCellForPrecision(t *testing.T) {
	p := GeoPoint{Latitude: 6.5244, Longitude: 3.3792}

	two := CellFor(p, 2)
	if two.Lat != 6.52 || two.Lng != 3.38 {
		t.Fatalf("precision 2 cell = %+v", two)
	}
	if two.Key() != "6.52:3.38" {
		t.Fatalf("cell key = %s", two.Key())
	}

	three := CellFor(p, 3)
	if three.Lat != 6.524 || three.Lng != 3.379 {
		t.Fatalf("precision 3 cell = %+v", three)
	}

	// Same cell for nearby points, different cell across the boundary.
	if CellFor(GeoPoint{Latitude: 6.5243, Longitude: 3.3798}, 2) != two {
		t.Fatal("nearby point bucketed to a different cell")
	}
	if CellFor(GeoPoint{Latitude: 6.5351, Longitude: 3.3792}, 2) == two {
		t.Fatal("distant point bucketed to the same cell")
	}
}

func TestSortByDistance(t *testing.T) {
	items := []float64{4.2, 0.1, 2.7, 2.7, 1.3}
	SortByDistance(items, func(v float64) float64 { return v })
	for i := 1; i < len(items); i++ {
		if items[i] < items[i-1] {
			t.Fatalf("not sorted: %v", items)
		}
	}
}
