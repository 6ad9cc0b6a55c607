package ride

import (
	"errors"
	"testing"
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

var (
	testPickup      = domain.GeoPoint{Latitude: 6.5244, Longitude: 3.3792}
	testDestination = domain.GeoPoint{Latitude: 6.4550, Longitude: 3.3841}
)

func newTestRide(t *testing.T) *Ride {
	t.Helper()
	r, err := New("ride-1", "2605300001", "passenger-1", testPickup, testDestination, Fare{Currency: "NGN"}, time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRideHappyPath(t *testing.T) {
	r := newTestRide(t)
	now := time.Now()

	steps := []struct {
		name string
		run  func() error
		want Status
	}{
		{"accept", func() error { return r.Accept("driver-1", now) }, StatusAccepted},
		{"arrive pickup", func() error { return r.ArrivePickup(now) }, StatusArrivedPickup},
		{"start", func() error { return r.Start(now) }, StatusInProgress},
		{"arrive destination", func() error { return r.ArriveDestination(now) }, StatusArrivedDestination},
		{"complete", func() error { return r.Complete(now) }, StatusCompleted},
		{"mark paid", func() error { return r.MarkPaid("pay-1", now) }, StatusPaid},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if r.Status() != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, r.Status(), step.want)
		}
	}

	// REQUESTED plus six transitions.
	if got := len(r.StatusLog()); got != 7 {
		t.Fatalf("status log length = %d, want 7", got)
	}
	if r.DriverID() == nil || *r.DriverID() != "driver-1" {
		t.Fatalf("driver id not recorded")
	}
	if r.PaymentRef() != "pay-1" {
		t.Fatalf("payment ref = %q, want pay-1", r.PaymentRef())
	}
}

func TestRideIllegalTransitionLeavesStateUntouched(t *testing.T) {
	r := newTestRide(t)
	logLen := len(r.StatusLog())

	err := r.Start(time.Now())
	if err == nil {
		t.Fatal("expected error starting a REQUESTED ride")
	}
	var conflict *domain.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError, got %T", err)
	}

	if r.Status() != StatusRequested {
		t.Fatalf("status mutated to %s on rejected transition", r.Status())
	}
	if len(r.StatusLog()) != logLen {
		t.Fatalf("status log grew on rejected transition")
	}
	if r.ActualPickupTime() != nil {
		t.Fatal("pickup time stamped on rejected transition")
	}
}

func TestRideCancelFromAnyLiveState(t *testing.T) {
	now := time.Now()

	r := newTestRide(t)
	if err := r.Cancel("PASSENGER", "changed my mind", now); err != nil {
		t.Fatalf("cancel from REQUESTED: %v", err)
	}
	if r.CancelledBy() != "PASSENGER" || r.CancelReason() != "changed my mind" {
		t.Fatalf("cancel metadata not recorded: %q %q", r.CancelledBy(), r.CancelReason())
	}

	r = newTestRide(t)
	mustTransition(t, r.Accept("driver-1", now))
	mustTransition(t, r.ArrivePickup(now))
	mustTransition(t, r.Start(now))
	if err := r.Cancel("DRIVER", "vehicle fault", now); err != nil {
		t.Fatalf("cancel from IN_PROGRESS: %v", err)
	}
}

func TestRideCompletedCannotBeCancelled(t *testing.T) {
	now := time.Now()
	r := newTestRide(t)
	mustTransition(t, r.Accept("driver-1", now))
	mustTransition(t, r.ArrivePickup(now))
	mustTransition(t, r.Start(now))
	mustTransition(t, r.ArriveDestination(now))
	mustTransition(t, r.Complete(now))

	if err := r.Cancel("ADMIN", "too late", now); err == nil {
		t.Fatal("expected cancel of COMPLETED ride to fail")
	}
	if err := r.Fail("too late", now); err == nil {
		t.Fatal("expected fail of COMPLETED ride to fail")
	}
	if err := r.MarkPaid("pay-1", now); err != nil {
		t.Fatalf("completed ride must still accept payment: %v", err)
	}
}

func TestRideTimestampsStampedOnce(t *testing.T) {
	start := time.Date(2026, 5, 30, 10, 0, 0, 0, time.UTC)
	drop := start.Add(25 * time.Minute)

	r := newTestRide(t)
	mustTransition(t, r.Accept("driver-1", start))
	mustTransition(t, r.ArrivePickup(start))
	mustTransition(t, r.Start(start))

	if r.ActualPickupTime() == nil || !r.ActualPickupTime().Equal(start) {
		t.Fatalf("pickup time = %v, want %v", r.ActualPickupTime(), start)
	}
	if r.ActualDropoffTime() != nil {
		t.Fatal("dropoff time stamped before completion")
	}

	mustTransition(t, r.ArriveDestination(drop))
	mustTransition(t, r.Complete(drop))
	if r.ActualDropoffTime() == nil || !r.ActualDropoffTime().Equal(drop) {
		t.Fatalf("dropoff time = %v, want %v", r.ActualDropoffTime(), drop)
	}
}

func TestStatusTerminality(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusFailed, StatusPaid} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if StatusPaid.CanTransitionTo(StatusCancelled) {
		t.Error("PAID must not transition to CANCELLED")
	}
	if StatusRequested.CanTransitionTo(StatusPaid) {
		t.Error("REQUESTED must not jump straight to PAID")
	}
}

func mustTransition(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
}
