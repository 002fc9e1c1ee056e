package mapview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/map-marker-service/internal/domain"
)

// Session reconciles the two ways a user edits a location: typing an address
// (forward geocoded lazily) and dragging the marker (coordinates are
// authoritative, the address is filled in by a reverse lookup). A reverse
// lookup never overwrites an address typed after the drag started.
type Session struct {
	record  *domain.LocationRecord
	coord   *domain.Coordinator
	reverse domain.ReverseGeocoder
	options Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders user edits against reverse results. addressEdits and drags
	// count user events; a reverse result is applied only if neither moved
	// while it was in flight.
	mu           sync.Mutex
	addressEdits uint64
	drags        uint64
}

// NewSession starts an edit session for record. reverse may be nil, in which
// case marker drags only move the coordinates. Closing the session, or
// cancelling parent, abandons any lookup still in flight.
func NewSession(parent context.Context, record *domain.LocationRecord, coord *domain.Coordinator,
	reverse domain.ReverseGeocoder, options Options, logger *slog.Logger,
) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		record:  record,
		coord:   coord,
		reverse: reverse,
		options: options,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Record returns the record being edited.
func (s *Session) Record() *domain.LocationRecord {
	return s.record
}

// AddressTyped stores a typed address. Geocoding is re-enabled so the next
// Coordinates call looks it up.
func (s *Session) AddressTyped(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressEdits++
	s.record.SetSkipGeocode(false)
	return s.record.Set(domain.FieldAddress, address)
}

// MarkerDragged moves the coordinates and suppresses forward geocoding; the
// record reports Geocode OFF for the new position. If a reverse geocoder is
// configured the address is replaced by the reverse result, unless the user
// typed an address or dragged again meanwhile.
func (s *Session) MarkerDragged(lat, lng float64) error {
	s.mu.Lock()
	s.drags++
	edits, drag := s.addressEdits, s.drags
	err := s.placeLocked(lat, lng)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.reverse == nil {
		return nil
	}

	address, err := s.reverse.ReverseGeocode(s.ctx, lat, lng)
	if err != nil {
		s.logger.Warn("reverse geocoding failed", "lat", lat, "lng", lng, "error", err)
		return fmt.Errorf("reverse geocode marker position: %w", err)
	}
	if address == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addressEdits != edits || s.drags != drag {
		s.logger.Debug("discarding reverse geocode result superseded by a newer edit",
			"lat", lat, "lng", lng, "address", address)
		return nil
	}
	if err := s.record.Set(domain.FieldAddress, address); err != nil {
		return err
	}
	s.record.MarkPlaced()
	return nil
}

func (s *Session) placeLocked(lat, lng float64) error {
	if err := s.record.Set(domain.FieldLat, lat); err != nil {
		return err
	}
	if err := s.record.Set(domain.FieldLng, lng); err != nil {
		return err
	}
	s.record.SetSkipGeocode(true)
	s.record.MarkPlaced()
	return nil
}

// ZoomChanged records a zoom level reported by the map.
func (s *Session) ZoomChanged(zoom int) error {
	return s.record.Set(domain.FieldZoom, zoom)
}

// Coordinates resolves the record if needed and returns what the map should
// show. A geocode error is returned alongside a usable view.
func (s *Session) Coordinates() (View, domain.StatusCode, error) {
	status, err := s.coord.Resolve(s.ctx, s.record)
	return s.options.View(s.record), status, err
}

// Close cancels lookups still in flight. The record keeps its last state.
func (s *Session) Close() {
	s.cancel()
}
