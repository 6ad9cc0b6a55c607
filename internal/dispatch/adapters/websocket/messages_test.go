package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/ride"
	"ride-dispatch/internal/dispatch/tracking"
)

func TestEnvelopeDecodesTrackingRequest(t *testing.T) {
	raw := []byte(`{"event":"tracking:request","payload":{"riderId":"rider-1","rideId":"ride-9","lat":6.5244,"lng":3.3792}}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != EventTrackingRequest {
		t.Fatalf("event = %s, want %s", env.Event, EventTrackingRequest)
	}

	var req TrackingRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if req.RiderID != "rider-1" || req.RideID == nil || *req.RideID != "ride-9" {
		t.Fatalf("request = %+v", req)
	}
	if req.Latitude == nil || *req.Latitude != 6.5244 || req.Longitude == nil || *req.Longitude != 3.3792 {
		t.Fatalf("coordinates = %v, %v", req.Latitude, req.Longitude)
	}
}

func TestResolveTrackingPoint(t *testing.T) {
	lat, lng := 6.5244, 3.3792
	cached := tracking.TrackedPassenger{
		PassengerID: "rider-1",
		Point:       domain.GeoPoint{Latitude: 6.4550, Longitude: 3.3841},
	}

	point, err := resolveTrackingPoint(TrackingRequest{RiderID: "rider-1", Latitude: &lat, Longitude: &lng}, tracking.TrackedPassenger{}, false)
	if err != nil {
		t.Fatalf("explicit coordinates: %v", err)
	}
	if point.Latitude != lat || point.Longitude != lng {
		t.Fatalf("point = %v", point)
	}

	// No coordinates but a cached position: keep tracking from there.
	point, err = resolveTrackingPoint(TrackingRequest{RiderID: "rider-1"}, cached, true)
	if err != nil {
		t.Fatalf("cached fallback: %v", err)
	}
	if point.Latitude != cached.Point.Latitude || point.Longitude != cached.Point.Longitude {
		t.Fatalf("point = %v, want cached %v", point, cached.Point)
	}

	// No coordinates and nothing cached must be rejected, not bucketed at 0:0.
	if _, err := resolveTrackingPoint(TrackingRequest{RiderID: "rider-1"}, tracking.TrackedPassenger{}, false); err == nil {
		t.Fatal("expected error for request without coordinates or cached position")
	}

	bad := 95.0
	if _, err := resolveTrackingPoint(TrackingRequest{RiderID: "rider-1", Latitude: &bad, Longitude: &lng}, tracking.TrackedPassenger{}, false); err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
}

func TestActiveWaypointFollowsRideStatus(t *testing.T) {
	pickup := domain.GeoPoint{Latitude: 6.5244, Longitude: 3.3792}
	destination := domain.GeoPoint{Latitude: 6.4550, Longitude: 3.3841}
	now := time.Now()

	r, err := ride.New("ride-1", "2605300001", "passenger-1", pickup, destination, ride.Fare{}, now)
	if err != nil {
		t.Fatalf("new ride: %v", err)
	}

	// A REQUESTED ride has no assigned driver, so no waypoint.
	if _, _, ok := activeWaypoint(r); ok {
		t.Fatal("REQUESTED ride should have no active waypoint")
	}

	if err := r.Accept("driver-1", now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waypoint, point, ok := activeWaypoint(r)
	if !ok || waypoint != "pickup" || point.Latitude != pickup.Latitude {
		t.Fatalf("after accept: %s %v %v", waypoint, point, ok)
	}

	if err := r.ArrivePickup(now); err != nil {
		t.Fatalf("arrive pickup: %v", err)
	}
	if err := r.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	waypoint, point, ok = activeWaypoint(r)
	if !ok || waypoint != "destination" || point.Latitude != destination.Latitude {
		t.Fatalf("after start: %s %v %v", waypoint, point, ok)
	}

	if err := r.ArriveDestination(now); err != nil {
		t.Fatalf("arrive destination: %v", err)
	}
	if err := r.Complete(now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, _, ok := activeWaypoint(r); ok {
		t.Fatal("COMPLETED ride should have no active waypoint")
	}
}
