// Package ride implements the ride state machine, fare computation, ride
// numbering, and the lifecycle service that coordinates them with the
// nearby-matcher and driver state.
package ride

import (
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// Status is a ride lifecycle state.
type Status string

const (
	StatusRequested          Status = "REQUESTED"
	StatusAccepted           Status = "ACCEPTED"
	StatusArrivedPickup      Status = "ARRIVED_PICKUP"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusArrivedDestination Status = "ARRIVED_DESTINATION"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
	StatusFailed             Status = "FAILED"
	StatusPaid               Status = "PAID"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusPaid:
		return true
	}
	return false
}

// transitions is the allowed forward graph. CANCELLED and FAILED are also
// reachable from every non-terminal state and are handled in CanTransitionTo.
var transitions = map[Status][]Status{
	StatusRequested:          {StatusAccepted},
	StatusAccepted:           {StatusArrivedPickup},
	StatusArrivedPickup:      {StatusInProgress},
	StatusInProgress:         {StatusArrivedDestination},
	StatusArrivedDestination: {StatusCompleted},
	StatusCompleted:          {StatusPaid},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusCancelled || next == StatusFailed {
		// Terminal failure states are reachable from any live state, but a
		// completed ride can no longer be cancelled or failed.
		return !s.IsTerminal() && s != StatusCompleted
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StatusChange is one immutable entry in a ride's status log.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Ride is the lifecycle aggregate. All mutation goes through the transition
// methods so the status log and the one-shot timestamps stay consistent.
type Ride struct {
	id          string
	number      string
	passengerID string
	driverID    *string
	status      Status

	pickup      domain.GeoPoint
	destination domain.GeoPoint

	fare Fare

	requestedAt       time.Time
	actualPickupTime  *time.Time
	actualDropoffTime *time.Time

	cancelledBy  string
	cancelReason string

	paymentRef string

	statusLog []StatusChange
}

// New creates a ride in REQUESTED state with its first status-log entry.
func New(id, number, passengerID string, pickup, destination domain.GeoPoint, fare Fare, now time.Time) (*Ride, error) {
	if err := pickup.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}
	if passengerID == "" {
		return nil, &domain.ValidationError{Field: "passenger_id", Reason: "empty"}
	}

	pickup.Type = "pickup"
	destination.Type = "destination"

	r := &Ride{
		id:          id,
		number:      number,
		passengerID: passengerID,
		status:      StatusRequested,
		pickup:      pickup,
		destination: destination,
		fare:        fare,
		requestedAt: now,
	}
	r.statusLog = append(r.statusLog, StatusChange{Status: StatusRequested, At: now, Reason: "ride requested"})
	return r, nil
}

// Reconstruct rebuilds a ride from persistence without re-running creation
// validation.
func Reconstruct(
	id, number, passengerID string,
	driverID *string,
	status Status,
	pickup, destination domain.GeoPoint,
	fare Fare,
	requestedAt time.Time,
	actualPickupTime, actualDropoffTime *time.Time,
	cancelledBy, cancelReason, paymentRef string,
	statusLog []StatusChange,
) *Ride {
	return &Ride{
		id:                id,
		number:            number,
		passengerID:       passengerID,
		driverID:          driverID,
		status:            status,
		pickup:            pickup,
		destination:       destination,
		fare:              fare,
		requestedAt:       requestedAt,
		actualPickupTime:  actualPickupTime,
		actualDropoffTime: actualDropoffTime,
		cancelledBy:       cancelledBy,
		cancelReason:      cancelReason,
		paymentRef:        paymentRef,
		statusLog:         statusLog,
	}
}

// Clone returns a deep copy of the aggregate. The in-memory repository hands
// out clones so concurrent lifecycle calls never mutate a shared instance.
func (r *Ride) Clone() *Ride {
	out := *r
	if r.driverID != nil {
		v := *r.driverID
		out.driverID = &v
	}
	if r.actualPickupTime != nil {
		t := *r.actualPickupTime
		out.actualPickupTime = &t
	}
	if r.actualDropoffTime != nil {
		t := *r.actualDropoffTime
		out.actualDropoffTime = &t
	}
	out.statusLog = make([]StatusChange, len(r.statusLog))
	copy(out.statusLog, r.statusLog)
	return &out
}

func (r *Ride) ID() string                    { return r.id }
func (r *Ride) Number() string                { return r.number }
func (r *Ride) PassengerID() string           { return r.passengerID }
func (r *Ride) DriverID() *string             { return r.driverID }
func (r *Ride) Status() Status                { return r.status }
func (r *Ride) Pickup() domain.GeoPoint       { return r.pickup }
func (r *Ride) Destination() domain.GeoPoint  { return r.destination }
func (r *Ride) Fare() Fare                    { return r.fare }
func (r *Ride) RequestedAt() time.Time        { return r.requestedAt }
func (r *Ride) ActualPickupTime() *time.Time  { return r.actualPickupTime }
func (r *Ride) ActualDropoffTime() *time.Time { return r.actualDropoffTime }
func (r *Ride) CancelledBy() string           { return r.cancelledBy }
func (r *Ride) CancelReason() string          { return r.cancelReason }
func (r *Ride) PaymentRef() string            { return r.paymentRef }

// StatusLog returns a copy of the append-only status history.
func (r *Ride) StatusLog() []StatusChange {
	out := make([]StatusChange, len(r.statusLog))
	copy(out, r.statusLog)
	return out
}

// transitionTo performs the guarded state change. On rejection nothing is
// mutated, not even the log.
func (r *Ride) transitionTo(next Status, at time.Time, reason string) error {
	if !r.status.CanTransitionTo(next) {
		return &domain.StateConflictError{Entity: "ride " + r.id, From: r.status.String(), To: next.String()}
	}
	r.status = next
	r.statusLog = append(r.statusLog, StatusChange{Status: next, At: at, Reason: reason})
	return nil
}

// Accept assigns a driver and moves the ride to ACCEPTED.
func (r *Ride) Accept(driverID string, at time.Time) error {
	if driverID == "" {
		return &domain.ValidationError{Field: "driver_id", Reason: "empty"}
	}
	if err := r.transitionTo(StatusAccepted, at, "driver accepted"); err != nil {
		return err
	}
	r.driverID = &driverID
	return nil
}

// ArrivePickup marks the driver at the pickup point.
func (r *Ride) ArrivePickup(at time.Time) error {
	return r.transitionTo(StatusArrivedPickup, at, "driver arrived at pickup")
}

// Start moves the ride IN_PROGRESS and stamps the actual pickup time,
// exactly once.
func (r *Ride) Start(at time.Time) error {
	if err := r.transitionTo(StatusInProgress, at, "trip started"); err != nil {
		return err
	}
	if r.actualPickupTime == nil {
		t := at
		r.actualPickupTime = &t
	}
	return nil
}

// ArriveDestination marks the vehicle at the destination.
func (r *Ride) ArriveDestination(at time.Time) error {
	return r.transitionTo(StatusArrivedDestination, at, "arrived at destination")
}

// Complete finishes the trip and stamps the actual dropoff time, exactly once.
func (r *Ride) Complete(at time.Time) error {
	if err := r.transitionTo(StatusCompleted, at, "trip completed"); err != nil {
		return err
	}
	if r.actualDropoffTime == nil {
		t := at
		r.actualDropoffTime = &t
	}
	return nil
}

// Cancel terminates the ride, recording who cancelled and why.
func (r *Ride) Cancel(actor, reason string, at time.Time) error {
	if err := r.transitionTo(StatusCancelled, at, reason); err != nil {
		return err
	}
	r.cancelledBy = actor
	r.cancelReason = reason
	return nil
}

// Fail terminates the ride on a system fault.
func (r *Ride) Fail(reason string, at time.Time) error {
	return r.transitionTo(StatusFailed, at, reason)
}

// MarkPaid records the successful payment capture. Only a completed ride
// can be paid.
func (r *Ride) MarkPaid(paymentRef string, at time.Time) error {
	if err := r.transitionTo(StatusPaid, at, "payment captured"); err != nil {
		return err
	}
	r.paymentRef = paymentRef
	return nil
}
