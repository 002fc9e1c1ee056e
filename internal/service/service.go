// Package service is the request-facing layer over location records: it
// loads, edits, resolves and saves them, and announces geocode results.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/mapview"
	"github.com/couchcryptid/map-marker-service/internal/observability"
	"golang.org/x/sync/singleflight"
)

// ErrExists is returned by Create for an id that already has a record.
var ErrExists = errors.New("location already exists")

// Repository loads and stores records by content id. Load returns
// domain.ErrNotFound for unknown ids.
type Repository interface {
	Load(ctx context.Context, id string) (*domain.LocationRecord, error)
	Save(ctx context.Context, id string, rec *domain.LocationRecord) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// EventPublisher announces records whose coordinates were looked up.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LocationEvent) error
}

// Defaults seed newly created records.
type Defaults struct {
	Provider string
	Zoom     int
}

// Edit is a partial update. Values are applied in a fixed order (provider,
// zoom, lat, lng, address, status) whatever order the caller built them in.
type Edit struct {
	Values map[domain.Field]any
	// SkipGeocode declares the coordinates in this edit authoritative for the
	// edited address, as after a marker drag.
	SkipGeocode bool
}

var editOrder = []domain.Field{
	domain.FieldProvider,
	domain.FieldZoom,
	domain.FieldLat,
	domain.FieldLng,
	domain.FieldAddress,
	domain.FieldStatus,
}

// Result is the outcome of Resolve. Warning carries a recoverable geocode
// failure; the record was still saved.
type Result struct {
	Record   *domain.LocationRecord
	Status   domain.StatusCode
	LookedUp bool
	Warning  error
}

// LocationService coordinates repository, geocoder and publisher.
type LocationService struct {
	repo      Repository
	coord     *domain.Coordinator
	reverse   domain.ReverseGeocoder
	publisher EventPublisher
	defaults  Defaults
	logger    *slog.Logger
	metrics   *observability.Metrics

	inflight  singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight
}

// flight is the context shared by the callers waiting on one resolve. It is
// cancelled once the last of them has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a LocationService. publisher may be nil.
func New(repo Repository, coord *domain.Coordinator, publisher EventPublisher, defaults Defaults,
	logger *slog.Logger, metrics *observability.Metrics,
) *LocationService {
	return &LocationService{
		repo:      repo,
		coord:     coord,
		publisher: publisher,
		defaults:  defaults,
		logger:    logger,
		metrics:   metrics,
		flights:   make(map[string]*flight),
	}
}

// SetReverseGeocoder enables filling in the address after a marker drag.
func (s *LocationService) SetReverseGeocoder(r domain.ReverseGeocoder) {
	s.reverse = r
}

// CheckReadiness reports whether the repository is reachable.
func (s *LocationService) CheckReadiness(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository unavailable: %w", err)
	}
	return nil
}

// Create stores an empty record for id.
func (s *LocationService) Create(ctx context.Context, id string) (*domain.LocationRecord, error) {
	if _, err := s.repo.Load(ctx, id); err == nil {
		return nil, fmt.Errorf("create %q: %w", id, ErrExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	rec := domain.NewLocationRecord()
	if s.defaults.Provider != "" {
		if err := rec.Set(domain.FieldProvider, s.defaults.Provider); err != nil {
			return nil, err
		}
	}
	if s.defaults.Zoom > 0 {
		if err := rec.Set(domain.FieldZoom, s.defaults.Zoom); err != nil {
			return nil, err
		}
	}
	if err := s.save(ctx, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LocationService) Get(ctx context.Context, id string) (*domain.LocationRecord, error) {
	return s.repo.Load(ctx, id)
}

func (s *LocationService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Update applies edit and saves the record. It never geocodes; the next
// Resolve does that lazily. Unknown fields reject the whole edit.
func (s *LocationService) Update(ctx context.Context, id string, edit Edit) (*domain.LocationRecord, error) {
	if err := validateEdit(edit); err != nil {
		return nil, err
	}

	rec, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, field := range editOrder {
		v, ok := edit.Values[field]
		if !ok {
			continue
		}
		if err := rec.Set(field, v); err != nil {
			return nil, err
		}
	}
	if edit.SkipGeocode {
		rec.SetSkipGeocode(true)
		rec.MarkPlaced()
	}

	if err := s.save(ctx, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DragMarker places the marker at lat/lng. The coordinates become
// authoritative: the address is replaced by a reverse lookup when one is
// configured and succeeds, and the record is saved as resolved with status
// Geocode OFF so no forward lookup overwrites the drag. A failed reverse lookup
// keeps the old address.
func (s *LocationService) DragMarker(ctx context.Context, id string, lat, lng float64) (*domain.LocationRecord, error) {
	rec, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	session := mapview.NewSession(ctx, rec, s.coord, s.reverse, mapview.InputOptions(s.defaults.Provider), s.logger)
	defer session.Close()

	if err := session.MarkerDragged(lat, lng); err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("drag marker %q: %w", id, ctx.Err())
	}

	if err := s.save(ctx, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Resolve brings the record's coordinates up to date with its address,
// saving and publishing when a lookup happened. Concurrent resolves of one id
// share a single load and lookup; a caller that goes away stops waiting
// without failing the others, and the lookup itself is abandoned only when
// no caller is left. Geocode failures come back as Result.Warning; only
// repository errors and cancellation are returned as errors.
func (s *LocationService) Resolve(ctx context.Context, id string) (*Result, error) {
	f := s.joinFlight(ctx, id)
	defer s.leaveFlight(id, f)

	for retried := false; ; retried = true {
		ch := s.inflight.DoChan(id, func() (any, error) {
			return s.resolve(f.ctx, id)
		})
		select {
		case r := <-ch:
			if r.Err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("resolve %q: %w", id, ctx.Err())
				}
				if !retried && errors.Is(r.Err, context.Canceled) && f.ctx.Err() == nil {
					// Joined a call whose callers had all gone; run our own.
					continue
				}
				return nil, r.Err
			}
			if r.Shared {
				s.logger.Debug("resolve shared with concurrent caller", "content_id", id)
			}
			return r.Val.(*Result), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("resolve %q: %w", id, ctx.Err())
		}
	}
}

func (s *LocationService) joinFlight(ctx context.Context, id string) *flight {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	f, ok := s.flights[id]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[id] = f
	}
	f.waiters++
	return f
}

func (s *LocationService) leaveFlight(id string, f *flight) {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[id] == f {
		delete(s.flights, id)
	}
}

func (s *LocationService) resolve(ctx context.Context, id string) (*Result, error) {
	start := time.Now()
	defer func() {
		s.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}()

	rec, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	wasStale := rec.IsStale()
	status, geoErr := s.coord.Resolve(ctx, rec)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("resolve %q: %w", id, ctx.Err())
	}

	res := &Result{
		Record:   rec,
		Status:   status,
		LookedUp: wasStale && !rec.IsStale(),
		Warning:  geoErr,
	}
	s.metrics.ResolveTotal.WithLabelValues(status.Name()).Inc()

	if !res.LookedUp {
		return res, nil
	}
	if err := s.save(ctx, id, rec); err != nil {
		return nil, err
	}
	s.publish(ctx, id, rec)
	return res, nil
}

func (s *LocationService) save(ctx context.Context, id string, rec *domain.LocationRecord) error {
	if err := s.repo.Save(ctx, id, rec); err != nil {
		return fmt.Errorf("save %q: %w", id, err)
	}
	s.metrics.RecordsSaved.Inc()
	return nil
}

// publish logs and counts failures; the record is already saved by then.
func (s *LocationService) publish(ctx context.Context, id string, rec *domain.LocationRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.NewLocationEvent(id, rec)); err != nil {
		s.metrics.EventsPublished.WithLabelValues("error").Inc()
		s.logger.Error("publish location event failed", "content_id", id, "error", err)
		return
	}
	s.metrics.EventsPublished.WithLabelValues("success").Inc()
}

func validateEdit(edit Edit) error {
	for field := range edit.Values {
		if !slices.Contains(editOrder, field) {
			return fmt.Errorf("edit %q: %w", field, domain.ErrUnknownField)
		}
	}
	return nil
}

