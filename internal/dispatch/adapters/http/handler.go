package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ride-dispatch/internal/dispatch/domain"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/internal/dispatch/ride"
	"ride-dispatch/pkg/auth"
	"ride-dispatch/pkg/logger"
)

// Handler carries the engine services the REST surface fronts.
type Handler struct {
	rides    *ride.Service
	pipeline *location.Pipeline
	matcher  *location.Matcher
	geocoder ports.Geocoder
	log      logger.Logger
}

func NewHandler(rides *ride.Service, pipeline *location.Pipeline, matcher *location.Matcher, geocoder ports.Geocoder, log logger.Logger) *Handler {
	return &Handler{rides: rides, pipeline: pipeline, matcher: matcher, geocoder: geocoder, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type requestRideBody struct {
	Pickup             domain.GeoPoint `json:"pickup"`
	Destination        domain.GeoPoint `json:"destination"`
	PickupAddress      string          `json:"pickup_address"`
	DestinationAddress string          `json:"destination_address"`
	Items              []ride.LineItem `json:"items"`
	DeliveryFee        float64         `json:"delivery_fee"`
	Currency           string          `json:"currency"`
}

// resolvePoint prefers explicit coordinates and geocodes the address
// only when the client sent none.
func (h *Handler) resolvePoint(r *http.Request, point domain.GeoPoint, address string) (domain.GeoPoint, error) {
	if point.Latitude != 0 || point.Longitude != 0 || address == "" {
		return point, nil
	}
	if h.geocoder == nil {
		return point, &domain.ValidationError{Field: "address", Reason: "geocoding is not configured, send coordinates"}
	}
	return h.geocoder.Geocode(r.Context(), address)
}

type rideResponse struct {
	ID          string              `json:"id"`
	Number      string              `json:"ride_number"`
	PassengerID string              `json:"passenger_id"`
	DriverID    *string             `json:"driver_id,omitempty"`
	Status      string              `json:"status"`
	Pickup      domain.GeoPoint     `json:"pickup"`
	Destination domain.GeoPoint     `json:"destination"`
	Fare        ride.Fare           `json:"fare"`
	StatusLog   []ride.StatusChange `json:"status_log"`
}

func toRideResponse(r *ride.Ride) rideResponse {
	return rideResponse{
		ID:          r.ID(),
		Number:      r.Number(),
		PassengerID: r.PassengerID(),
		DriverID:    r.DriverID(),
		Status:      r.Status().String(),
		Pickup:      r.Pickup(),
		Destination: r.Destination(),
		Fare:        r.Fare(),
		StatusLog:   r.StatusLog(),
	}
}

func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var body requestRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Currency == "" {
		body.Currency = "NGN"
	}

	var err error
	if body.Pickup, err = h.resolvePoint(r, body.Pickup, body.PickupAddress); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if body.Destination, err = h.resolvePoint(r, body.Destination, body.DestinationAddress); err != nil {
		h.writeDomainError(w, err)
		return
	}

	created, err := h.rides.Request(r.Context(), ride.RequestCommand{
		PassengerID: claims.UserID,
		Pickup:      body.Pickup,
		Destination: body.Destination,
		Items:       body.Items,
		DeliveryFee: body.DeliveryFee,
		Currency:    body.Currency,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRideResponse(created))
}

func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	found, err := h.rides.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRideResponse(found))
}

func (h *Handler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	driverID := claims.UserID
	if claims.Role != auth.RoleDriver {
		// Admin tooling accepts on behalf of a driver.
		var body struct {
			DriverID string `json:"driver_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
			writeError(w, http.StatusBadRequest, "driver_id required")
			return
		}
		driverID = body.DriverID
	}

	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.Accept(r.Context(), r.PathValue("id"), driverID)
	})
}

func (h *Handler) ArrivePickup(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.ArrivePickup(r.Context(), r.PathValue("id"))
	})
}

func (h *Handler) StartRide(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.Start(r.Context(), r.PathValue("id"))
	})
}

func (h *Handler) ArriveDestination(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.ArriveDestination(r.Context(), r.PathValue("id"))
	})
}

func (h *Handler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.Complete(r.Context(), r.PathValue("id"))
	})
}

func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	h.runTransition(w, r, func() (*ride.Ride, error) {
		return h.rides.Cancel(r.Context(), r.PathValue("id"), string(claims.Role), body.Reason)
	})
}

func (h *Handler) runTransition(w http.ResponseWriter, _ *http.Request, fn func() (*ride.Ride, error)) {
	updated, err := fn()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRideResponse(updated))
}

func (h *Handler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var rep location.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rep.DriverID = claims.UserID

	result, err := h.pipeline.Ingest(r.Context(), rep)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lat, latErr := strconv.ParseFloat(query.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(query.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	radiusKm := 5.0
	if raw := query.Get("radius_km"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			radiusKm = parsed
		}
	}

	var status *domain.DriverStatus
	if raw := query.Get("status"); raw != "" {
		s := domain.DriverStatus(raw)
		if !s.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		status = &s
	}

	matches, err := h.matcher.FindNearby(r.Context(),
		domain.GeoPoint{Latitude: lat, Longitude: lng}, radiusKm, status, 0)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": matches, "count": len(matches)})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.StateConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsDuplicateKey(err):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		h.log.Error("http.internal", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
