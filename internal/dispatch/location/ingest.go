package location

import (
	"context"
	"time"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/uuid"
)

// Report is an incoming driver location report.
type Report struct {
	DriverID       string               `json:"driver_id"`
	Latitude       float64              `json:"lat"`
	Longitude      float64              `json:"lng"`
	HeadingDegrees *float64             `json:"heading,omitempty"`
	SpeedKmh       *float64             `json:"speed,omitempty"`
	AltitudeMeters *float64             `json:"altitude,omitempty"`
	BatteryLevel   *float64             `json:"batteryLevel,omitempty"`
	Status         *domain.DriverStatus `json:"status,omitempty"`
	RideID         *string              `json:"rideId,omitempty"`
}

// IngestResult is the pipeline's answer. Ephemeral reports get a synthetic
// echo of the submitted state and nothing else.
type IngestResult struct {
	Record    domain.LocationRecord `json:"record"`
	Cell      domain.Cell           `json:"-"`
	Ephemeral bool                  `json:"ephemeral"`
}

// CellInvalidator marks a density-cache cell stale so the next
// change-detection tick recomputes it instead of waiting for full expiry.
type CellInvalidator interface {
	MarkStale(cell domain.Cell)
}

// RoutingLocationUpdated is the routing key for the location feed fanout.
const RoutingLocationUpdated = "location.updated"

// Pipeline validates and upserts driver location reports, invalidates the
// affected density cell, appends a tracking event, and feeds the location
// fanout on the bus.
type Pipeline struct {
	store         Store
	events        ports.EventLog
	invalidator   CellInvalidator
	publisher     ports.Publisher
	gridPrecision int
	log           logger.Logger
	now           func() time.Time
}

func NewPipeline(store Store, events ports.EventLog, invalidator CellInvalidator, publisher ports.Publisher, gridPrecision int, log logger.Logger) *Pipeline {
	return &Pipeline{
		store:         store,
		events:        events,
		invalidator:   invalidator,
		publisher:     publisher,
		gridPrecision: gridPrecision,
		log:           log,
		now:           time.Now,
	}
}

// Ingest processes one report. Validation failures reject synchronously with
// no side effect.
func (p *Pipeline) Ingest(ctx context.Context, rep Report) (IngestResult, error) {
	if rep.DriverID == "" {
		return IngestResult{}, &domain.ValidationError{Field: "driver_id", Reason: "empty"}
	}

	point := domain.GeoPoint{Latitude: rep.Latitude, Longitude: rep.Longitude, Type: "current"}
	if err := point.Validate(); err != nil {
		return IngestResult{}, err
	}

	status := domain.DriverStatusAvailable
	if rep.Status != nil {
		if !rep.Status.IsValid() {
			return IngestResult{}, &domain.ValidationError{Field: "status", Reason: "unknown value " + rep.Status.String()}
		}
		status = *rep.Status
	}

	rec := domain.LocationRecord{
		DriverID:       rep.DriverID,
		Point:          point,
		Status:         status,
		HeadingDegrees: rep.HeadingDegrees,
		SpeedKmh:       rep.SpeedKmh,
		AltitudeMeters: rep.AltitudeMeters,
		BatteryLevel:   rep.BatteryLevel,
		CurrentRideID:  rep.RideID,
		UpdatedAt:      p.now(),
	}
	cell := domain.CellFor(point, p.gridPrecision)

	// Ephemeral identities get a live-looking echo so a mid-registration
	// device can preview the tracking UI, and nothing is written anywhere.
	if domain.IsEphemeralID(rep.DriverID) {
		return IngestResult{Record: rec, Cell: cell, Ephemeral: true}, nil
	}

	// Carry forward the previous status when the report names none, so a
	// bare coordinate ping does not flip a busy driver back to available.
	if rep.Status == nil {
		if prev, err := p.store.Get(ctx, rep.DriverID); err == nil {
			rec.Status = prev.Status
			if rec.CurrentRideID == nil {
				rec.CurrentRideID = prev.CurrentRideID
			}
		}
	}

	stored, err := p.store.Upsert(ctx, rec)
	if err != nil {
		return IngestResult{}, &domain.TransientStoreError{Op: "ingest.upsert", Err: err}
	}

	p.invalidator.MarkStale(cell)

	event := domain.TrackingEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventLocationUpdate,
		ActorID:    rep.DriverID,
		ActorRole:  "DRIVER",
		RideID:     rep.RideID,
		Point:      &point,
		RecordedAt: stored.UpdatedAt,
	}
	if err := p.events.Append(ctx, event); err != nil {
		// The store write already happened; losing one audit event must not
		// fail the report.
		p.log.WithFields(logger.LogFields{"driver_id": rep.DriverID}).Error("ingest.event_append", err)
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, RoutingLocationUpdated, stored); err != nil {
			p.log.WithFields(logger.LogFields{"driver_id": rep.DriverID}).Error("ingest.publish", err)
		}
	}

	return IngestResult{Record: stored, Cell: cell, Ephemeral: false}, nil
}
