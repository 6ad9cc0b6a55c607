package ride

import (
	"context"
	"fmt"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/uuid"
)

// maxNumberRetries bounds the regenerate-on-collision loop for ride numbers.
const maxNumberRetries = 3

// RequestCommand is the input for requesting a ride.
type RequestCommand struct {
	PassengerID string
	Pickup      domain.GeoPoint
	Destination domain.GeoPoint
	Items       []LineItem
	DeliveryFee float64
	Currency    string
}

// Service drives rides through their lifecycle. It matches drivers at
// request time and mirrors transitions back into the location store through
// the driver's current-ride linkage.
type Service struct {
	rides     Repository
	store     location.Store
	matcher   *location.Matcher
	events    ports.EventLog
	payments  ports.PaymentGateway
	notifier  ports.Notifier
	publisher ports.Publisher
	cfg       config.DispatchConfig
	log       logger.Logger
	now       func() time.Time
}

func NewService(
	rides Repository,
	store location.Store,
	matcher *location.Matcher,
	events ports.EventLog,
	payments ports.PaymentGateway,
	notifier ports.Notifier,
	publisher ports.Publisher,
	cfg config.DispatchConfig,
	log logger.Logger,
) *Service {
	return &Service{
		rides:     rides,
		store:     store,
		matcher:   matcher,
		events:    events,
		payments:  payments,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Request creates a ride, matches nearby drivers, and publishes the request
// event. A ride with no available drivers still succeeds; matching simply
// yields no candidates.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*Ride, error) {
	fare := ComputeFare(cmd.Items, cmd.DeliveryFee, cmd.Currency)

	r, err := s.createWithFreshNumber(ctx, cmd, fare)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logger.LogFields{"ride_id": r.ID()})
	log.Info("ride.requested", fmt.Sprintf("Ride %s requested by passenger %s", r.Number(), cmd.PassengerID))

	var candidateIDs []string
	matches, err := s.matcher.FindWithFallback(ctx, cmd.Pickup, s.cfg.MatcherRadiusKm, s.cfg.MatcherLimit)
	if err != nil {
		// Best effort: the ride stays REQUESTED and retries through the bus.
		log.Error("ride.match", err)
	} else {
		for _, match := range matches {
			candidateIDs = append(candidateIDs, match.Record.DriverID)
		}
	}

	event := RequestedEvent{
		RideID:        r.ID(),
		RideNumber:    r.Number(),
		PassengerID:   r.PassengerID(),
		Pickup:        r.Pickup(),
		Destination:   r.Destination(),
		EstimatedFare: fare,
		CandidateIDs:  candidateIDs,
		RequestedAt:   r.RequestedAt(),
	}
	if err := s.publisher.Publish(ctx, RoutingRequested, event); err != nil {
		log.Error("ride.publish_requested", err)
	}

	s.notify(ctx, cmd.PassengerID, "ride_requested", map[string]any{
		"ride_number": r.Number(),
		"total":       fare.Total,
	})

	return r, nil
}

// createWithFreshNumber persists a new ride, regenerating the date-prefixed
// number on a duplicate-key collision.
func (s *Service) createWithFreshNumber(ctx context.Context, cmd RequestCommand, fare Fare) (*Ride, error) {
	var lastErr error
	for attempt := 0; attempt < maxNumberRetries; attempt++ {
		number, err := NextNumber(ctx, s.rides, s.now())
		if err != nil {
			return nil, err
		}

		r, err := New(uuid.NewString(), number, cmd.PassengerID, cmd.Pickup, cmd.Destination, fare, s.now())
		if err != nil {
			return nil, err
		}

		if err := s.rides.Create(ctx, r); err != nil {
			if domain.IsDuplicateKey(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("persist ride: %w", err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("ride number collisions on %d attempts: %w", maxNumberRetries, lastErr)
}

// Accept assigns the driver and moves the ride to ACCEPTED.
func (s *Service) Accept(ctx context.Context, rideID, driverID string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.Accept(driverID, at); err != nil {
			return err
		}
		s.syncDriver(ctx, driverID, domain.DriverStatusEnRoute, &rideID)
		s.notify(ctx, r.PassengerID(), "driver_assigned", map[string]any{"driver_id": driverID})
		return nil
	}, domain.EventStatusChange)
}

// ArrivePickup marks the driver at the pickup point.
func (s *Service) ArrivePickup(ctx context.Context, rideID string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.ArrivePickup(at); err != nil {
			return err
		}
		s.notify(ctx, r.PassengerID(), "driver_arrived", nil)
		return nil
	}, domain.EventStatusChange)
}

// Start begins the trip.
func (s *Service) Start(ctx context.Context, rideID string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.Start(at); err != nil {
			return err
		}
		if r.DriverID() != nil {
			s.syncDriver(ctx, *r.DriverID(), domain.DriverStatusBusy, &rideID)
		}
		return nil
	}, domain.EventRideStarted)
}

// ArriveDestination marks the vehicle at the destination.
func (s *Service) ArriveDestination(ctx context.Context, rideID string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		return r.ArriveDestination(at)
	}, domain.EventStatusChange)
}

// Complete finishes the trip, frees the driver, and captures payment. A
// failed charge leaves the ride COMPLETED; payment is retried out of band.
func (s *Service) Complete(ctx context.Context, rideID string) (*Ride, error) {
	r, err := s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.Complete(at); err != nil {
			return err
		}
		if r.DriverID() != nil {
			s.syncDriver(ctx, *r.DriverID(), domain.DriverStatusAvailable, nil)
		}
		return nil
	}, domain.EventRideCompleted)
	if err != nil {
		return nil, err
	}

	fare := r.Fare()
	outcome, err := s.payments.Charge(ctx, r.Number(), fare.Total, fare.Currency)
	if err != nil {
		s.log.WithFields(logger.LogFields{"ride_id": r.ID()}).Error("ride.charge", err)
		s.notify(ctx, r.PassengerID(), "payment_failed", map[string]any{"ride_number": r.Number()})
		return r, nil
	}

	if err := r.MarkPaid(outcome.Reference, s.now()); err != nil {
		return nil, err
	}
	if err := s.rides.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("persist paid ride: %w", err)
	}

	s.publishStatus(ctx, r, "payment captured")
	s.notify(ctx, r.PassengerID(), "ride_receipt", map[string]any{
		"ride_number": r.Number(),
		"total":       fare.Total,
		"currency":    fare.Currency,
	})
	return r, nil
}

// Cancel terminates a live ride on behalf of actor.
func (s *Service) Cancel(ctx context.Context, rideID, actor, reason string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.Cancel(actor, reason, at); err != nil {
			return err
		}
		if r.DriverID() != nil {
			s.syncDriver(ctx, *r.DriverID(), domain.DriverStatusAvailable, nil)
		}
		s.notify(ctx, r.PassengerID(), "ride_cancelled", map[string]any{"reason": reason})
		return nil
	}, domain.EventRideCancelled)
}

// Fail terminates a live ride on a system fault.
func (s *Service) Fail(ctx context.Context, rideID, reason string) (*Ride, error) {
	return s.transition(ctx, rideID, func(r *Ride, at time.Time) error {
		if err := r.Fail(reason, at); err != nil {
			return err
		}
		if r.DriverID() != nil {
			s.syncDriver(ctx, *r.DriverID(), domain.DriverStatusAvailable, nil)
		}
		return nil
	}, domain.EventError)
}

// Get returns a ride by id.
func (s *Service) Get(ctx context.Context, rideID string) (*Ride, error) {
	return s.rides.Get(ctx, rideID)
}

// transition loads, mutates, persists, and broadcasts one lifecycle step.
// The mutate callback must leave the ride untouched when it errors.
func (s *Service) transition(ctx context.Context, rideID string, mutate func(*Ride, time.Time) error, kind domain.EventKind) (*Ride, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}

	if err := mutate(r, s.now()); err != nil {
		return nil, err
	}

	if err := s.rides.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("persist ride transition: %w", err)
	}

	changes := r.StatusLog()
	reason := ""
	if len(changes) > 0 {
		reason = changes[len(changes)-1].Reason
	}

	s.publishStatus(ctx, r, reason)
	s.appendEvent(ctx, r, kind, reason)
	return r, nil
}

func (s *Service) publishStatus(ctx context.Context, r *Ride, reason string) {
	event := StatusChangedEvent{
		RideID:     r.ID(),
		RideNumber: r.Number(),
		Status:     r.Status(),
		DriverID:   r.DriverID(),
		Reason:     reason,
		At:         s.now(),
	}
	key := RoutingStatus + "." + string(r.Status())
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.log.WithFields(logger.LogFields{"ride_id": r.ID()}).Error("ride.publish_status", err)
	}
}

func (s *Service) appendEvent(ctx context.Context, r *Ride, kind domain.EventKind, reason string) {
	rideID := r.ID()
	event := domain.TrackingEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		ActorID:    r.PassengerID(),
		ActorRole:  "PASSENGER",
		RideID:     &rideID,
		Metadata:   map[string]any{"status": r.Status().String(), "reason": reason},
		RecordedAt: s.now(),
	}
	if r.DriverID() != nil {
		event.RelatedUserID = r.DriverID()
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.log.WithFields(logger.LogFields{"ride_id": r.ID()}).Error("ride.event_append", err)
	}
}

// syncDriver mirrors a lifecycle step into the driver's location record. A
// driver who never reported a location has no record to update; that is not
// an error.
func (s *Service) syncDriver(ctx context.Context, driverID string, status domain.DriverStatus, rideID *string) {
	rec, err := s.store.Get(ctx, driverID)
	if err != nil {
		if !domain.IsNotFound(err) {
			s.log.WithFields(logger.LogFields{"driver_id": driverID}).Error("ride.sync_driver", err)
		}
		return
	}
	rec.Status = status
	rec.CurrentRideID = rideID
	rec.UpdatedAt = s.now()
	if _, err := s.store.Upsert(ctx, rec); err != nil {
		s.log.WithFields(logger.LogFields{"driver_id": driverID}).Error("ride.sync_driver", err)
	}
}

func (s *Service) notify(ctx context.Context, userID, template string, data map[string]any) {
	if err := s.notifier.Send(ctx, userID, template, data); err != nil {
		s.log.Error("ride.notify", err)
	}
}
