package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Coordinator performs forward lookups for stale records and classifies the
// outcome into the status taxonomy.
type Coordinator struct {
	geocoder Geocoder
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. A nil geocoder disables geocoding:
// every resolve then reports StatusGeocodeDisabled. A timeout <= 0 leaves the
// deadline to ctx and the geocoder's own client.
func NewCoordinator(geocoder Geocoder, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		geocoder: geocoder,
		timeout:  timeout,
		logger:   logger,
	}
}

// Enabled reports whether a geocoder is configured.
func (c *Coordinator) Enabled() bool {
	return c.geocoder != nil
}

// Resolve brings the record's coordinates up to date with its address.
//
// Skipped records return StatusGeocodeDisabled untouched. Fresh records return
// their cached status without a lookup. Otherwise the address is marked as
// attempted before the request goes out, so a repeated resolve cannot issue the
// same lookup twice. Failures zero the coordinates, clear the raw response and
// come back as a *GeocodeError alongside the recorded status; they are
// recoverable and never leave the record unsaveable.
//
// If ctx is cancelled while the lookup is in flight the result is discarded
// and the record is left exactly as it was before the call.
func (c *Coordinator) Resolve(ctx context.Context, r *LocationRecord) (StatusCode, error) {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()

	r.mu.Lock()
	if r.skipGeocode {
		r.mu.Unlock()
		return StatusGeocodeDisabled, nil
	}
	if !r.isStaleLocked() {
		status := r.status
		r.mu.Unlock()
		return status, nil
	}
	if c.geocoder == nil {
		r.mu.Unlock()
		return StatusGeocodeDisabled, nil
	}
	address := r.address
	prevAddress, prevAttempted := r.geocodedAddress, r.attempted
	r.geocodedAddress = address
	r.attempted = true
	r.mu.Unlock()

	if address == "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		return c.failLocked(r, address, NewGeocodeError(KindNoResult, "address is empty", nil))
	}

	lookupCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.geocoder.ForwardGeocode(lookupCtx, address)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		if r.attempted && r.geocodedAddress == address {
			r.geocodedAddress, r.attempted = prevAddress, prevAttempted
		}
		return r.status, fmt.Errorf("resolve %q: %w", address, ctx.Err())
	}

	if r.address != address {
		// Edited while the lookup was in flight; the record stays stale.
		c.logger.Debug("discarding geocode result for superseded address",
			"requested", address,
			"current", r.address,
		)
		return r.status, nil
	}

	if err != nil {
		var geoErr *GeocodeError
		if !errors.As(err, &geoErr) {
			err = NewGeocodeError(KindTransport, "forward geocode", err)
		}
		return c.failLocked(r, address, err)
	}

	if !result.Found || !finite(result.Lat) || !finite(result.Lon) {
		return c.failLocked(r, address, NewGeocodeError(KindNoResult, fmt.Sprintf("no result for %q", address), nil))
	}

	r.lat = validFloat(result.Lat)
	r.lng = validFloat(result.Lon)
	r.raw = string(result.Raw)
	r.status = StatusFromProvider("OK", result.Accuracy)
	r.geocodedAt = now()

	c.logger.Info("geocoded address",
		"address", address,
		"lat", result.Lat,
		"lon", result.Lon,
		"status", r.status.Label(),
	)
	return r.status, nil
}

// failLocked records a failed lookup: zero coordinates, empty raw response and
// the status matching err.
func (c *Coordinator) failLocked(r *LocationRecord, address string, err error) (StatusCode, error) {
	r.status = StatusForError(err)
	r.lat = validFloat(0)
	r.lng = validFloat(0)
	r.raw = ""
	r.geocodedAt = now()

	c.logger.Warn("forward geocoding failed",
		"address", address,
		"status", r.status.Label(),
		"error", err,
	)
	return r.status, err
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
