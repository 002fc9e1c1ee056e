package domain

import "context"

// GeocodingResult is the first candidate returned by a forward lookup.
type GeocodingResult struct {
	Found            bool
	Lat              float64
	Lon              float64
	FormattedAddress string
	// Accuracy is a provider location type such as "ROOFTOP"; empty when the
	// provider does not report one.
	Accuracy string
	// Raw is the response body exactly as received.
	Raw []byte
}

// Geocoder converts a free-text address to coordinates. A lookup that
// completes without a usable candidate returns Found == false and a nil error.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, address string) (GeocodingResult, error)
}

// ReverseGeocoder converts coordinates to a display address. Only the map edit
// session uses it; the Coordinator never geocodes in this direction.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}
