package location

import (
	"context"
	"io"
	"testing"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/pkg/logger"
)

type recordingEventLog struct {
	events []domain.TrackingEvent
}

func (l *recordingEventLog) Append(_ context.Context, event domain.TrackingEvent) error {
	l.events = append(l.events, event)
	return nil
}

type recordingInvalidator struct {
	cells []domain.Cell
}

func (i *recordingInvalidator) MarkStale(cell domain.Cell) {
	i.cells = append(i.cells, cell)
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

type pipelineFixture struct {
	pipeline    *Pipeline
	store       *MemoryStore
	events      *recordingEventLog
	invalidator *recordingInvalidator
	publisher   *recordingPublisher
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		store:       NewMemoryStore(),
		events:      &recordingEventLog{},
		invalidator: &recordingInvalidator{},
		publisher:   &recordingPublisher{},
	}
	f.pipeline = NewPipeline(f.store, f.events, f.invalidator, f.publisher, 2, logger.NewLoggerTo("test", io.Discard))
	return f
}

func TestIngestPersistsAndInvalidates(t *testing.T) {
	f := newPipelineFixture()
	status := domain.DriverStatusBusy

	result, err := f.pipeline.Ingest(context.Background(), Report{
		DriverID:  "driver-1",
		Latitude:  6.5244,
		Longitude: 3.3792,
		Status:    &status,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Ephemeral {
		t.Fatal("stable id flagged ephemeral")
	}

	stored, err := f.store.Get(context.Background(), "driver-1")
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.Status != domain.DriverStatusBusy {
		t.Fatalf("stored status = %s, want BUSY", stored.Status)
	}
	if len(f.invalidator.cells) != 1 {
		t.Fatalf("invalidated %d cells, want 1", len(f.invalidator.cells))
	}
	if got := domain.CellFor(stored.Point, 2); f.invalidator.cells[0] != got {
		t.Fatalf("invalidated cell %v, want %v", f.invalidator.cells[0], got)
	}
	if len(f.events.events) != 1 || f.events.events[0].Kind != domain.EventLocationUpdate {
		t.Fatalf("events = %v, want one location_update", f.events.events)
	}
	if len(f.publisher.keys) != 1 || f.publisher.keys[0] != RoutingLocationUpdated {
		t.Fatalf("published keys = %v, want one %s", f.publisher.keys, RoutingLocationUpdated)
	}
}

func TestIngestEphemeralEchoesWithoutSideEffects(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.Ingest(context.Background(), Report{
		DriverID:  "temp-device-7",
		Latitude:  6.5244,
		Longitude: 3.3792,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !result.Ephemeral {
		t.Fatal("temp- id not flagged ephemeral")
	}
	if result.Record.DriverID != "temp-device-7" {
		t.Fatalf("echo driver id = %s", result.Record.DriverID)
	}
	if f.store.Len() != 0 {
		t.Fatal("ephemeral report wrote to the store")
	}
	if len(f.events.events) != 0 {
		t.Fatal("ephemeral report appended an event")
	}
	if len(f.invalidator.cells) != 0 {
		t.Fatal("ephemeral report invalidated a cell")
	}
	if len(f.publisher.keys) != 0 {
		t.Fatal("ephemeral report hit the bus")
	}
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	f := newPipelineFixture()

	cases := []struct {
		name   string
		report Report
	}{
		{"empty driver id", Report{Latitude: 6.5, Longitude: 3.3}},
		{"latitude out of range", Report{DriverID: "driver-1", Latitude: 95, Longitude: 3.3}},
		{"longitude out of range", Report{DriverID: "driver-1", Latitude: 6.5, Longitude: 200}},
	}
	for _, c := range cases {
		if _, err := f.pipeline.Ingest(context.Background(), c.report); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}

	if f.store.Len() != 0 || len(f.events.events) != 0 {
		t.Fatal("rejected reports left side effects behind")
	}
}

func TestIngestCarriesForwardStatusOnBarePing(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()
	busy := domain.DriverStatusBusy
	rideID := "ride-9"

	if _, err := f.pipeline.Ingest(ctx, Report{
		DriverID: "driver-1", Latitude: 6.5244, Longitude: 3.3792,
		Status: &busy, RideID: &rideID,
	}); err != nil {
		t.Fatalf("first report: %v", err)
	}

	// A bare coordinate ping must not flip the driver back to available
	// or drop the ride linkage.
	result, err := f.pipeline.Ingest(ctx, Report{DriverID: "driver-1", Latitude: 6.5250, Longitude: 3.3800})
	if err != nil {
		t.Fatalf("bare ping: %v", err)
	}
	if result.Record.Status != domain.DriverStatusBusy {
		t.Fatalf("status after bare ping = %s, want BUSY", result.Record.Status)
	}
	if result.Record.CurrentRideID == nil || *result.Record.CurrentRideID != rideID {
		t.Fatal("ride linkage dropped on bare ping")
	}
}

func TestIngestDefaultsNewDriverToAvailable(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.Ingest(context.Background(), Report{DriverID: "driver-1", Latitude: 6.5244, Longitude: 3.3792})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Record.Status != domain.DriverStatusAvailable {
		t.Fatalf("status = %s, want AVAILABLE", result.Record.Status)
	}
}
