package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/internal/dispatch/ride"
	"ride-dispatch/internal/dispatch/tracking"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/uuid"
)

// geofenceRadiusKm is the arrival radius around a waypoint (~100 m).
const geofenceRadiusKm = 0.1

// defaultSpeedKmh is assumed for ETA when the driver reports no speed.
const defaultSpeedKmh = 30.0

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong on the proxy in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades connections on the tracking namespace and routes their
// messages into the engine.
type Handler struct {
	hub         *Hub
	identity    ports.Identity
	pipeline    *location.Pipeline
	passengers  *tracking.PassengerCache
	broadcaster *tracking.Broadcaster
	rides       *ride.Service
	events      ports.EventLog
	cfg         config.DispatchConfig
	log         logger.Logger
}

func NewHandler(
	hub *Hub,
	identity ports.Identity,
	pipeline *location.Pipeline,
	passengers *tracking.PassengerCache,
	broadcaster *tracking.Broadcaster,
	rides *ride.Service,
	events ports.EventLog,
	cfg config.DispatchConfig,
	log logger.Logger,
) *Handler {
	return &Handler{
		hub:         hub,
		identity:    identity,
		pipeline:    pipeline,
		passengers:  passengers,
		broadcaster: broadcaster,
		rides:       rides,
		events:      events,
		cfg:         cfg,
		log:         log,
	}
}

// ServeHTTP authenticates the token from the query string and upgrades.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	principal, err := h.identity.VerifyToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket.upgrade", err)
		return
	}

	h.hub.Attach(principal.UserID, principal.Role, conn, h)
	h.appendConnectionEvent(r.Context(), principal, domain.EventConnect)
}

// HandleMessage implements MessageHandler.
func (h *Handler) HandleMessage(c *Client, env Envelope) {
	switch env.Event {
	case EventTrackingRequest:
		h.handleTrackingRequest(c, env.Payload)
	case EventTrackingStop:
		h.handleTrackingStop(c, env.Payload)
	case EventLocationReport:
		h.handleLocationReport(c, env.Payload)
	default:
		c.SendError("unknown event " + env.Event)
	}
}

// HandleDisconnect implements MessageHandler.
func (h *Handler) HandleDisconnect(c *Client) {
	h.appendConnectionEvent(context.Background(),
		ports.Principal{UserID: c.UserID(), Role: c.Role()}, domain.EventDisconnect)
}

func (h *Handler) handleTrackingRequest(c *Client, payload json.RawMessage) {
	var req TrackingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError("malformed tracking:request")
		return
	}
	if req.RiderID == "" {
		req.RiderID = c.UserID()
	}
	if req.RiderID != c.UserID() {
		c.SendError("cannot track on behalf of another rider")
		return
	}

	cached, tracked := h.passengers.Get(req.RiderID)
	point, err := resolveTrackingPoint(req, cached, tracked)
	if err != nil {
		c.SendError(err.Error())
		return
	}

	cell := domain.CellFor(point, h.cfg.GridPrecision)
	h.passengers.Track(req.RiderID, req.RideID, point, cell)

	// A freshly tracked rider gets the current map immediately instead of
	// waiting for the next broadcast tick.
	c.Send(EventDensityMap, h.broadcaster.DensityMap())
}

// resolveTrackingPoint picks the position a tracking request pins the rider
// to. A request without coordinates falls back to the rider's cached
// position; with neither there is nowhere sensible to bucket them, so the
// request is rejected rather than defaulting to (0,0).
func resolveTrackingPoint(req TrackingRequest, cached tracking.TrackedPassenger, tracked bool) (domain.GeoPoint, error) {
	if req.Latitude == nil || req.Longitude == nil {
		if tracked {
			return cached.Point, nil
		}
		return domain.GeoPoint{}, &domain.ValidationError{Field: "lat/lng", Reason: "missing and no cached position"}
	}
	point := domain.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude, Type: "current"}
	if err := point.Validate(); err != nil {
		return domain.GeoPoint{}, err
	}
	return point, nil
}

func (h *Handler) handleTrackingStop(c *Client, payload json.RawMessage) {
	var req TrackingStop
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError("malformed tracking:stop")
		return
	}
	if req.RiderID == "" {
		req.RiderID = c.UserID()
	}
	if req.RiderID != c.UserID() {
		c.SendError("cannot stop tracking for another rider")
		return
	}
	h.passengers.Stop(req.RiderID)
}

func (h *Handler) handleLocationReport(c *Client, payload json.RawMessage) {
	var rep location.Report
	if err := json.Unmarshal(payload, &rep); err != nil {
		c.SendError("malformed location report")
		return
	}
	rep.DriverID = c.UserID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := h.pipeline.Ingest(ctx, rep)
	if err != nil {
		c.SendError(err.Error())
		return
	}

	// The reporter always sees its own echo, ephemeral or not.
	c.Send(EventLocationUpdate, result.Record)

	if result.Ephemeral || result.Record.CurrentRideID == nil {
		return
	}
	h.relayToTrackers(ctx, c, result.Record)
}

// relayToTrackers forwards a driver's position to every passenger tracking
// the ride, with ETA and geofence crossings for the active waypoint.
func (h *Handler) relayToTrackers(ctx context.Context, c *Client, rec domain.LocationRecord) {
	rideID := *rec.CurrentRideID
	trackers := h.passengers.TrackersOfRide(rideID)
	for _, tracker := range trackers {
		if err := h.hub.Push(tracker.PassengerID, EventLocationUpdate, rec); err != nil {
			h.log.Debug("websocket.relay", err.Error())
		}
	}

	r, err := h.rides.Get(ctx, rideID)
	if err != nil {
		h.log.WithFields(logger.LogFields{"ride_id": rideID}).Error("websocket.ride_lookup", err)
		return
	}

	waypoint, target, ok := activeWaypoint(r)
	if !ok {
		return
	}

	distance := rec.Point.DistanceKm(target)
	speed := defaultSpeedKmh
	if rec.SpeedKmh != nil && *rec.SpeedKmh > 1 {
		speed = *rec.SpeedKmh
	}
	eta := ETAUpdate{
		RideID:     rideID,
		Waypoint:   waypoint,
		DistanceKm: distance,
		ETAMinutes: distance / speed * 60,
	}
	for _, tracker := range trackers {
		if err := h.hub.Push(tracker.PassengerID, EventETAUpdate, eta); err != nil {
			h.log.Debug("websocket.relay_eta", err.Error())
		}
	}

	inside := distance <= geofenceRadiusKm
	wasInside := c.insideGeofence[rideID]
	if inside == wasInside {
		return
	}
	c.insideGeofence[rideID] = inside

	event := EventGeofenceEnter
	if !inside {
		event = EventGeofenceExit
	}
	crossing := GeofenceEvent{RideID: rideID, Waypoint: waypoint}
	for _, tracker := range trackers {
		if err := h.hub.Push(tracker.PassengerID, event, crossing); err != nil {
			h.log.Debug("websocket.relay_geofence", err.Error())
		}
	}
}

// activeWaypoint picks the waypoint the driver is currently heading for.
func activeWaypoint(r *ride.Ride) (string, domain.GeoPoint, bool) {
	switch r.Status() {
	case ride.StatusAccepted, ride.StatusArrivedPickup:
		return "pickup", r.Pickup(), true
	case ride.StatusInProgress, ride.StatusArrivedDestination:
		return "destination", r.Destination(), true
	}
	return "", domain.GeoPoint{}, false
}

func (h *Handler) appendConnectionEvent(ctx context.Context, principal ports.Principal, kind domain.EventKind) {
	event := domain.TrackingEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		RecordedAt: time.Now(),
	}
	if err := h.events.Append(ctx, event); err != nil {
		h.log.Error("websocket.connection_event", err)
	}
}
