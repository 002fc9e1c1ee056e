package domain

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultZoom is applied when a zoom level is unset or below 1.
const DefaultZoom = 9

// Field names a settable or readable attribute of a LocationRecord.
type Field string

const (
	FieldLat         Field = "lat"
	FieldLng         Field = "lng"
	FieldAddress     Field = "address"
	FieldZoom        Field = "zoom"
	FieldProvider    Field = "provider"
	FieldStatus      Field = "status"
	FieldRaw         Field = "raw"
	FieldStatusLabel Field = "statusLabel" // derived, read-only
)

// setters is the single normalization table behind Set. Each entry runs with
// the record lock held.
var setters = map[Field]func(r *LocationRecord, v any){
	FieldLat: func(r *LocationRecord, v any) {
		r.lat, _ = normalizeCoordinate(v)
	},
	FieldLng: func(r *LocationRecord, v any) {
		r.lng, _ = normalizeCoordinate(v)
	},
	FieldAddress: func(r *LocationRecord, v any) {
		r.address = SanitizeText(toString(v))
	},
	FieldZoom: func(r *LocationRecord, v any) {
		r.zoom = normalizeZoom(v)
	},
	FieldProvider: func(r *LocationRecord, v any) {
		r.provider = toString(v)
	},
	FieldStatus: func(r *LocationRecord, v any) {
		r.status = normalizeStatus(v)
	},
	FieldRaw: func(r *LocationRecord, v any) {
		r.raw = toString(v)
	},
}

// LocationRecord is the location stored on a content item: coordinates, zoom,
// free-text address and the outcome of the last geocode. It is safe for
// concurrent use; Coordinator.Resolve serializes lookups per record.
type LocationRecord struct {
	mu        sync.Mutex
	resolveMu sync.Mutex

	lat      sql.NullFloat64
	lng      sql.NullFloat64
	address  string
	zoom     int
	provider string
	status   StatusCode
	raw      string

	// geocodedAddress is the address at the last attempted lookup; it is only
	// meaningful when attempted is true.
	geocodedAddress string
	attempted       bool
	geocodedAt      time.Time

	skipGeocode bool
}

// NewLocationRecord returns an empty, never-geocoded record.
func NewLocationRecord() *LocationRecord {
	return &LocationRecord{zoom: DefaultZoom}
}

// Set normalizes value for field and stores it. Invalid coordinates clear the
// field instead of failing; only an unknown field name is an error.
func (r *LocationRecord) Set(field Field, value any) error {
	set, ok := setters[field]
	if !ok {
		return fmt.Errorf("set %q: %w", field, ErrUnknownField)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set(r, value)
	return nil
}

// Get returns the stored value of field. Empty coordinates are returned as nil.
func (r *LocationRecord) Get(field Field) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch field {
	case FieldLat:
		return nullableFloat(r.lat), nil
	case FieldLng:
		return nullableFloat(r.lng), nil
	case FieldAddress:
		return r.address, nil
	case FieldZoom:
		return r.zoom, nil
	case FieldProvider:
		return r.provider, nil
	case FieldStatus:
		return r.status, nil
	case FieldRaw:
		return r.raw, nil
	case FieldStatusLabel:
		return r.status.Label(), nil
	default:
		return nil, fmt.Errorf("get %q: %w", field, ErrUnknownField)
	}
}

func (r *LocationRecord) Lat() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lat.Float64, r.lat.Valid
}

func (r *LocationRecord) Lng() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lng.Float64, r.lng.Valid
}

func (r *LocationRecord) Address() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.address
}

func (r *LocationRecord) Zoom() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zoom
}

func (r *LocationRecord) Provider() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provider
}

func (r *LocationRecord) Status() StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *LocationRecord) StatusLabel() string {
	return r.Status().Label()
}

// Raw is the body of the last successful geocoder response.
func (r *LocationRecord) Raw() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw
}

// GeocodedAt is the time of the last attempted lookup, zero if none.
func (r *LocationRecord) GeocodedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.geocodedAt
}

func (r *LocationRecord) SkipGeocode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipGeocode
}

// SetSkipGeocode bypasses geocoding for the current edit cycle, typically
// because the coordinates were placed directly on the map.
func (r *LocationRecord) SetSkipGeocode(skip bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipGeocode = skip
}

// MarkResolved declares the current address to match the current coordinates,
// so a later resolve does not overwrite them with a forward lookup.
func (r *LocationRecord) MarkResolved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geocodedAddress = r.address
	r.attempted = true
}

// MarkPlaced commits coordinates that were placed on the map rather than
// looked up. Like MarkResolved it makes the current address fresh, and it
// records Geocode OFF with no raw response so the stored status never
// describes an earlier lookup for a different position.
func (r *LocationRecord) MarkPlaced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geocodedAddress = r.address
	r.attempted = true
	r.status = StatusGeocodeDisabled
	r.raw = ""
}

// IsStale reports whether the address changed since the last attempted lookup
// and geocoding is not being skipped. A record that was never looked up is
// stale.
func (r *LocationRecord) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isStaleLocked()
}

func (r *LocationRecord) isStaleLocked() bool {
	if r.skipGeocode {
		return false
	}
	return !r.attempted || r.address != r.geocodedAddress
}

// String renders "<address> (<lat>, <lng>, <zoom>) [<statusLabel>]".
func (r *LocationRecord) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s (%s, %s, %d) [%s]",
		r.address, formatCoordinate(r.lat), formatCoordinate(r.lng), r.zoom, r.status.Label())
}

// Snapshot is the flat, persistable form of a LocationRecord.
type Snapshot struct {
	Lat             sql.NullFloat64
	Lng             sql.NullFloat64
	Address         string
	Zoom            int
	Provider        string
	Status          StatusCode
	Raw             string
	GeocodedAddress sql.NullString // NULL when no lookup was ever attempted
	GeocodedAt      time.Time
}

// Snapshot copies the persistable state. Transient flags are not included.
func (r *LocationRecord) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Lat:             r.lat,
		Lng:             r.lng,
		Address:         r.address,
		Zoom:            r.zoom,
		Provider:        r.provider,
		Status:          r.status,
		Raw:             r.raw,
		GeocodedAddress: sql.NullString{String: r.geocodedAddress, Valid: r.attempted},
		GeocodedAt:      r.geocodedAt,
	}
}

// Restore rebuilds a record from storage. Coordinates, zoom and status pass
// through the same normalization as Set, so an unrecognized persisted status
// reads back as StatusUnknown. The address is trusted as already sanitized.
func Restore(s Snapshot) *LocationRecord {
	r := NewLocationRecord()
	r.mu.Lock()
	defer r.mu.Unlock()

	setters[FieldLat](r, s.Lat)
	setters[FieldLng](r, s.Lng)
	setters[FieldZoom](r, s.Zoom)
	setters[FieldProvider](r, s.Provider)
	setters[FieldStatus](r, int(s.Status))
	setters[FieldRaw](r, s.Raw)
	r.address = s.Address
	r.geocodedAddress = s.GeocodedAddress.String
	r.attempted = s.GeocodedAddress.Valid
	r.geocodedAt = s.GeocodedAt
	return r
}

// normalizeCoordinate accepts numbers and numeric strings, converting a comma
// decimal separator to a period. Anything else yields an empty value and
// ErrInvalidCoordinate.
func normalizeCoordinate(v any) (sql.NullFloat64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return sql.NullFloat64{}, nil
	case sql.NullFloat64:
		if !t.Valid {
			return sql.NullFloat64{}, nil
		}
		f = t.Float64
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		return parseCoordinate(t.String())
	case string:
		return parseCoordinate(t)
	default:
		return sql.NullFloat64{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidCoordinate, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}, fmt.Errorf("%w: %v", ErrInvalidCoordinate, f)
	}
	return sql.NullFloat64{Float64: f, Valid: true}, nil
}

func parseCoordinate(s string) (sql.NullFloat64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullFloat64{}, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	return sql.NullFloat64{Float64: f, Valid: true}, nil
}

func normalizeZoom(v any) int {
	z, ok := toInt(v)
	if !ok || z < 1 {
		return DefaultZoom
	}
	return z
}

func normalizeStatus(v any) StatusCode {
	n, ok := toInt(v)
	if !ok {
		return StatusUnknown
	}
	return CoerceStatus(n)
}

// toInt truncates numbers and parses numeric strings. nil and non-numeric
// strings read as 0. ok is false for values with no integer form in the
// int32 range: NaN, infinities, out-of-range numbers and unsupported types.
func toInt(v any) (n int, ok bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case int:
		return fromInt64(int64(t))
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return fromInt64(t)
	case uint:
		return fromUint64(uint64(t))
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return fromUint64(uint64(t))
	case uint64:
		return fromUint64(t)
	case StatusCode:
		return fromInt64(int64(t))
	case float64:
		return truncate(t)
	case float32:
		return truncate(float64(t))
	case json.Number:
		return toInt(t.String())
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromInt64(i)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return truncate(f)
		}
		return 0, !errors.Is(err, strconv.ErrRange)
	default:
		return 0, false
	}
}

func fromInt64(i int64) (int, bool) {
	if i > math.MaxInt32 || i < math.MinInt32 {
		return 0, false
	}
	return int(i), true
}

func fromUint64(u uint64) (int, bool) {
	if u > math.MaxInt32 {
		return 0, false
	}
	return int(u), true
}

func truncate(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func nullableFloat(f sql.NullFloat64) any {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

func formatCoordinate(f sql.NullFloat64) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}

func validFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}
