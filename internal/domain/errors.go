package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownField is returned by Set and Get for names outside the field table.
	ErrUnknownField = errors.New("unknown location field")

	// ErrInvalidCoordinate marks non-numeric latitude/longitude input. Set
	// recovers from it by clearing the field; it is never returned to callers.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrNotFound is returned by repositories for an unknown content id.
	ErrNotFound = errors.New("location not found")

	// Sentinels matched by *GeocodeError through errors.Is.
	ErrGeocodeTransport      = errors.New("geocode transport failure")
	ErrGeocodeNoResult       = errors.New("geocode returned no result")
	ErrGeocodeRateLimited    = errors.New("geocode rate limit exceeded")
	ErrGeocodeDenied         = errors.New("geocode request denied")
	ErrGeocodeInvalidRequest = errors.New("geocode request invalid")
)

// ErrorKind distinguishes recoverable geocode failures.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindNoResult
	KindRateLimited
	KindDenied
	KindInvalidRequest
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNoResult:
		return ErrGeocodeNoResult
	case KindRateLimited:
		return ErrGeocodeRateLimited
	case KindDenied:
		return ErrGeocodeDenied
	case KindInvalidRequest:
		return ErrGeocodeInvalidRequest
	default:
		return ErrGeocodeTransport
	}
}

// Status is the taxonomy code recorded for a failure of this kind.
func (k ErrorKind) Status() StatusCode {
	switch k {
	case KindNoResult:
		return StatusZeroResults
	case KindRateLimited:
		return StatusOverQueryLimit
	case KindDenied:
		return StatusRequestDenied
	case KindInvalidRequest:
		return StatusInvalidRequest
	default:
		return StatusUnknown
	}
}

// GeocodeError is a classified, recoverable geocoding failure.
type GeocodeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewGeocodeError builds a GeocodeError wrapping err (which may be nil).
func NewGeocodeError(kind ErrorKind, message string, err error) *GeocodeError {
	return &GeocodeError{Kind: kind, Message: message, Err: err}
}

func (e *GeocodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the kind sentinels, e.g. errors.Is(err, ErrGeocodeNoResult).
func (e *GeocodeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// StatusForError picks the status to record for a failed lookup. Anything that
// is not a *GeocodeError is treated as a transport failure.
func StatusForError(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var geoErr *GeocodeError
	if errors.As(err, &geoErr) {
		return geoErr.Kind.Status()
	}
	return StatusUnknown
}

// ClassifyHTTPStatus turns a non-200 geocoder response into a GeocodeError.
func ClassifyHTTPStatus(statusCode int, body string) *GeocodeError {
	var kind ErrorKind
	switch statusCode {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindDenied
	case http.StatusBadRequest:
		kind = KindInvalidRequest
	case http.StatusNotFound:
		kind = KindNoResult
	default:
		kind = KindTransport
	}

	msg := fmt.Sprintf("geocoder API error: status %d", statusCode)
	if body != "" {
		msg += ": " + body
	}
	return &GeocodeError{Kind: kind, Message: msg}
}
