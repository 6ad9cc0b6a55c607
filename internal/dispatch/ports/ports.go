// Package ports declares the interfaces the dispatch engine is wired
// against: its own persistence ports and the external collaborators the
// engine treats as black boxes (payments, notifications, geocoding,
// identity, event bus).
package ports

import (
	"context"

	"ride-dispatch/internal/dispatch/domain"
)

// EventLog records tracking events. Append-only; implementations never
// update or delete.
type EventLog interface {
	Append(ctx context.Context, event domain.TrackingEvent) error
}

// PaymentOutcome is the gateway's view of a charge.
type PaymentOutcome struct {
	Reference string
	Status    string
	Amount    float64
	Currency  string
}

// PaymentGateway captures and refunds fares by external reference.
type PaymentGateway interface {
	Charge(ctx context.Context, ref string, amount float64, currency string) (PaymentOutcome, error)
	Verify(ctx context.Context, ref string) (PaymentOutcome, error)
	Refund(ctx context.Context, ref string, amount float64) error
}

// Notifier delivers outbound notifications (push/SMS/email) to a user.
type Notifier interface {
	Send(ctx context.Context, userID, template string, data map[string]any) error
}

// Geocoder converts between addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (domain.GeoPoint, error)
	ReverseGeocode(ctx context.Context, point domain.GeoPoint) (string, error)
}

// Principal identifies an authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

// Identity validates session tokens.
type Identity interface {
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

// Publisher pushes engine events onto the message bus for other services.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}
