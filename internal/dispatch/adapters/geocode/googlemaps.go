// Package geocode is the Google Maps implementation of the geocoding
// collaborator.
package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"ride-dispatch/internal/dispatch/domain"
)

// GoogleGeocoder implements ports.Geocoder against the Google Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

// Geocode resolves an address to a point.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (domain.GeoPoint, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return domain.GeoPoint{}, &domain.NotFoundError{Entity: "address", ID: address}
	}

	loc := results[0].Geometry.Location
	return domain.GeoPoint{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

// ReverseGeocode resolves a point to its formatted address.
func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, point domain.GeoPoint) (string, error) {
	if err := point.Validate(); err != nil {
		return "", err
	}

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: point.Latitude, Lng: point.Longitude},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return "", &domain.NotFoundError{Entity: "location", ID: point.Type}
	}
	return results[0].FormattedAddress, nil
}
