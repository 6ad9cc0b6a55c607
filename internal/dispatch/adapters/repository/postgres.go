// Package repository contains the Postgres adapters for the location store,
// the ride repository, and the tracking event log.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/ride"
	"ride-dispatch/pkg/config"
)

const uniqueViolation = "23505"

// NewPool opens a pgx connection pool from config.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// LocationRepository is the durable location store.
type LocationRepository struct {
	db *pgxpool.Pool
}

func NewLocationRepository(db *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{db: db}
}

// Upsert writes the driver's current-state record, last write wins.
func (r *LocationRepository) Upsert(ctx context.Context, rec domain.LocationRecord) (domain.LocationRecord, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO driver_locations (
			driver_id, latitude, longitude, status, heading_degrees,
			speed_kmh, altitude_meters, battery_level, current_ride_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (driver_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			status = EXCLUDED.status,
			heading_degrees = EXCLUDED.heading_degrees,
			speed_kmh = EXCLUDED.speed_kmh,
			altitude_meters = EXCLUDED.altitude_meters,
			battery_level = EXCLUDED.battery_level,
			current_ride_id = EXCLUDED.current_ride_id,
			updated_at = EXCLUDED.updated_at
	`,
		rec.DriverID, rec.Point.Latitude, rec.Point.Longitude, rec.Status.String(),
		rec.HeadingDegrees, rec.SpeedKmh, rec.AltitudeMeters, rec.BatteryLevel,
		rec.CurrentRideID, rec.UpdatedAt,
	)
	if err != nil {
		return domain.LocationRecord{}, &domain.TransientStoreError{Op: "location.upsert", Err: err}
	}
	return rec, nil
}

func (r *LocationRepository) Get(ctx context.Context, driverID string) (domain.LocationRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT driver_id, latitude, longitude, status, heading_degrees,
		       speed_kmh, altitude_meters, battery_level, current_ride_id, updated_at
		FROM driver_locations
		WHERE driver_id = $1
	`, driverID)

	rec, err := scanLocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LocationRecord{}, &domain.NotFoundError{Entity: "driver", ID: driverID}
	}
	if err != nil {
		return domain.LocationRecord{}, &domain.TransientStoreError{Op: "location.get", Err: err}
	}
	return rec, nil
}

// Within returns all records inside the bounding box. A box spilling past
// ±180 splits into two longitude ranges so drivers on the far side of the
// antimeridian are not missed.
func (r *LocationRepository) Within(ctx context.Context, b domain.Bounds) ([]domain.LocationRecord, error) {
	const selectCols = `
		SELECT driver_id, latitude, longitude, status, heading_degrees,
		       speed_kmh, altitude_meters, battery_level, current_ride_id, updated_at
		FROM driver_locations
		WHERE latitude BETWEEN $1 AND $2`

	query := selectCols + ` AND longitude BETWEEN $3 AND $4`
	args := []any{b.MinLat, b.MaxLat, b.MinLng, b.MaxLng}
	switch {
	case b.MaxLng-b.MinLng >= 360:
		query = selectCols
		args = args[:2]
	case b.MinLng < -180:
		query = selectCols + ` AND (longitude >= $3 OR longitude <= $4)`
		args = []any{b.MinLat, b.MaxLat, b.MinLng + 360, b.MaxLng}
	case b.MaxLng > 180:
		query = selectCols + ` AND (longitude >= $3 OR longitude <= $4)`
		args = []any{b.MinLat, b.MaxLat, b.MinLng, b.MaxLng - 360}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "location.within", Err: err}
	}
	defer rows.Close()

	var out []domain.LocationRecord
	for rows.Next() {
		rec, err := scanLocation(rows)
		if err != nil {
			return nil, &domain.TransientStoreError{Op: "location.within.scan", Err: err}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (domain.LocationRecord, error) {
	var rec domain.LocationRecord
	var status string
	err := row.Scan(
		&rec.DriverID, &rec.Point.Latitude, &rec.Point.Longitude, &status,
		&rec.HeadingDegrees, &rec.SpeedKmh, &rec.AltitudeMeters, &rec.BatteryLevel,
		&rec.CurrentRideID, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.LocationRecord{}, err
	}
	rec.Point.Type = "current"
	rec.Status = domain.DriverStatus(status)
	return rec, nil
}

// RideRepository persists ride aggregates. The status log travels as JSONB
// on the ride row so load and store stay a single round trip.
type RideRepository struct {
	db *pgxpool.Pool
}

func NewRideRepository(db *pgxpool.Pool) *RideRepository {
	return &RideRepository{db: db}
}

func (r *RideRepository) Create(ctx context.Context, rd *ride.Ride) error {
	statusLog, err := json.Marshal(rd.StatusLog())
	if err != nil {
		return fmt.Errorf("marshal status log: %w", err)
	}
	fare, err := json.Marshal(rd.Fare())
	if err != nil {
		return fmt.Errorf("marshal fare: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO rides (
			id, ride_number, passenger_id, driver_id, status,
			pickup_lat, pickup_lng, dest_lat, dest_lng,
			fare, requested_at, actual_pickup_time, actual_dropoff_time,
			cancelled_by, cancel_reason, payment_ref, status_log, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
	`,
		rd.ID(), rd.Number(), rd.PassengerID(), rd.DriverID(), rd.Status().String(),
		rd.Pickup().Latitude, rd.Pickup().Longitude,
		rd.Destination().Latitude, rd.Destination().Longitude,
		fare, rd.RequestedAt(), rd.ActualPickupTime(), rd.ActualDropoffTime(),
		rd.CancelledBy(), rd.CancelReason(), rd.PaymentRef(), statusLog,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &domain.DuplicateKeyError{Key: "ride_number " + rd.Number()}
		}
		return &domain.TransientStoreError{Op: "ride.create", Err: err}
	}
	return nil
}

func (r *RideRepository) Update(ctx context.Context, rd *ride.Ride) error {
	statusLog, err := json.Marshal(rd.StatusLog())
	if err != nil {
		return fmt.Errorf("marshal status log: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE rides SET
			driver_id = $1,
			status = $2,
			actual_pickup_time = $3,
			actual_dropoff_time = $4,
			cancelled_by = $5,
			cancel_reason = $6,
			payment_ref = $7,
			status_log = $8,
			updated_at = NOW()
		WHERE id = $9
	`,
		rd.DriverID(), rd.Status().String(),
		rd.ActualPickupTime(), rd.ActualDropoffTime(),
		rd.CancelledBy(), rd.CancelReason(), rd.PaymentRef(), statusLog,
		rd.ID(),
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "ride.update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "ride", ID: rd.ID()}
	}
	return nil
}

func (r *RideRepository) Get(ctx context.Context, id string) (*ride.Ride, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, ride_number, passenger_id, driver_id, status,
		       pickup_lat, pickup_lng, dest_lat, dest_lng,
		       fare, requested_at, actual_pickup_time, actual_dropoff_time,
		       cancelled_by, cancel_reason, payment_ref, status_log
		FROM rides
		WHERE id = $1
	`, id)

	var (
		rideID, number, passengerID, status   string
		driverID                              *string
		pickup, dest                          domain.GeoPoint
		fareRaw, statusLogRaw                 []byte
		requestedAt                           time.Time
		pickupTime, dropoffTime               *time.Time
		cancelledBy, cancelReason, paymentRef string
	)
	err := row.Scan(
		&rideID, &number, &passengerID, &driverID, &status,
		&pickup.Latitude, &pickup.Longitude, &dest.Latitude, &dest.Longitude,
		&fareRaw, &requestedAt, &pickupTime, &dropoffTime,
		&cancelledBy, &cancelReason, &paymentRef, &statusLogRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "ride", ID: id}
	}
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "ride.get", Err: err}
	}

	var fare ride.Fare
	if err := json.Unmarshal(fareRaw, &fare); err != nil {
		return nil, fmt.Errorf("unmarshal fare: %w", err)
	}
	var statusLog []ride.StatusChange
	if err := json.Unmarshal(statusLogRaw, &statusLog); err != nil {
		return nil, fmt.Errorf("unmarshal status log: %w", err)
	}

	pickup.Type = "pickup"
	dest.Type = "destination"

	return ride.Reconstruct(
		rideID, number, passengerID, driverID, ride.Status(status),
		pickup, dest, fare, requestedAt, pickupTime, dropoffTime,
		cancelledBy, cancelReason, paymentRef, statusLog,
	), nil
}

// MaxNumberForPrefix returns the highest ride number sharing the date prefix,
// or "" when none exists yet.
func (r *RideRepository) MaxNumberForPrefix(ctx context.Context, prefix string) (string, error) {
	var max *string
	err := r.db.QueryRow(ctx, `
		SELECT MAX(ride_number) FROM rides WHERE ride_number LIKE $1 || '%'
	`, prefix).Scan(&max)
	if err != nil {
		return "", &domain.TransientStoreError{Op: "ride.max_number", Err: err}
	}
	if max == nil {
		return "", nil
	}
	return *max, nil
}

// EventRepository is the durable append-only tracking event log.
type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event domain.TrackingEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	var lat, lng *float64
	if event.Point != nil {
		lat = &event.Point.Latitude
		lng = &event.Point.Longitude
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO tracking_events (
			id, kind, actor_id, actor_role, ride_id, related_user_id,
			latitude, longitude, metadata, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.ID, string(event.Kind), event.ActorID, event.ActorRole,
		event.RideID, event.RelatedUserID, lat, lng, metadata, event.RecordedAt,
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "events.append", Err: err}
	}
	return nil
}
