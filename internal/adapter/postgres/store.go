package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rows written before the status taxonomy was widened carry version 1; Save
// always writes version 2.
const (
	statusVersionLegacy    = 1
	statusVersionCanonical = 2
)

const schema = `
CREATE TABLE IF NOT EXISTS marker_locations (
	content_id       TEXT PRIMARY KEY,
	lat              DOUBLE PRECISION,
	lng              DOUBLE PRECISION,
	address          VARCHAR(255) NOT NULL DEFAULT '',
	zoom             INTEGER NOT NULL DEFAULT 9,
	provider         TEXT NOT NULL DEFAULT '',
	status           INTEGER NOT NULL DEFAULT 0,
	raw              TEXT NOT NULL DEFAULT '',
	geocoded_address VARCHAR(255),
	geocoded_at      TIMESTAMPTZ,
	status_version   SMALLINT NOT NULL DEFAULT 1,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store persists location records in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store over an existing pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the marker_locations table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Load returns the record stored under id, or domain.ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (*domain.LocationRecord, error) {
	const q = `
		SELECT lat, lng, address, zoom, provider, status, raw, geocoded_address, geocoded_at
		FROM marker_locations
		WHERE content_id = $1`

	var r row
	err := s.db.QueryRow(ctx, q, id).Scan(
		&r.Lat, &r.Lng, &r.Address, &r.Zoom, &r.Provider, &r.Status, &r.Raw,
		&r.GeocodedAddress, &r.GeocodedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: load %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load %q: %w", id, err)
	}
	return domain.Restore(r.snapshot()), nil
}

// Save upserts the record. Saved rows always use the canonical taxonomy.
func (s *Store) Save(ctx context.Context, id string, rec *domain.LocationRecord) error {
	const q = `
		INSERT INTO marker_locations
			(content_id, lat, lng, address, zoom, provider, status, raw,
			 geocoded_address, geocoded_at, status_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (content_id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			address = EXCLUDED.address,
			zoom = EXCLUDED.zoom,
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			raw = EXCLUDED.raw,
			geocoded_address = EXCLUDED.geocoded_address,
			geocoded_at = EXCLUDED.geocoded_at,
			status_version = EXCLUDED.status_version,
			updated_at = now()`

	r := rowFromSnapshot(rec.Snapshot())
	_, err := s.db.Exec(ctx, q,
		id, r.Lat, r.Lng, r.Address, r.Zoom, r.Provider, r.Status, r.Raw,
		r.GeocodedAddress, r.GeocodedAt, statusVersionCanonical,
	)
	if err != nil {
		return fmt.Errorf("postgres: save %q: %w", id, err)
	}
	return nil
}

// Delete removes the record; deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM marker_locations WHERE content_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", id, err)
	}
	return nil
}

// MigrateLegacyStatuses rewrites every legacy-taxonomy row in one
// transaction and returns the number of rows converted. Running it again is a
// no-op.
func (s *Store) MigrateLegacyStatuses(ctx context.Context) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	rows, err := tx.Query(ctx,
		`SELECT content_id, status FROM marker_locations WHERE status_version = $1 FOR UPDATE`,
		statusVersionLegacy)
	if err != nil {
		return 0, fmt.Errorf("postgres: select legacy rows: %w", err)
	}
	type legacy struct {
		id     string
		status int
	}
	var pending []legacy
	for rows.Next() {
		var l legacy
		if err := rows.Scan(&l.id, &l.status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: scan legacy row: %w", err)
		}
		pending = append(pending, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("postgres: iterate legacy rows: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range pending {
		batch.Queue(
			`UPDATE marker_locations SET status = $2, status_version = $3, updated_at = now() WHERE content_id = $1`,
			l.id, int(domain.MigrateLegacyStatus(l.status)), statusVersionCanonical,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("postgres: update legacy rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit migration: %w", err)
	}
	return len(pending), nil
}

// row is the column-level form of a domain.Snapshot.
type row struct {
	Lat             pgtype.Float8
	Lng             pgtype.Float8
	Address         string
	Zoom            int32
	Provider        string
	Status          int32
	Raw             string
	GeocodedAddress pgtype.Text
	GeocodedAt      pgtype.Timestamptz
}

func rowFromSnapshot(s domain.Snapshot) row {
	r := row{
		Lat:             pgtype.Float8{Float64: s.Lat.Float64, Valid: s.Lat.Valid},
		Lng:             pgtype.Float8{Float64: s.Lng.Float64, Valid: s.Lng.Valid},
		Address:         s.Address,
		Zoom:            int32(s.Zoom), //nolint:gosec // zoom is small and positive
		Provider:        s.Provider,
		Status:          int32(s.Status), //nolint:gosec // taxonomy codes fit in int32
		Raw:             s.Raw,
		GeocodedAddress: pgtype.Text{String: s.GeocodedAddress.String, Valid: s.GeocodedAddress.Valid},
	}
	if !s.GeocodedAt.IsZero() {
		r.GeocodedAt = pgtype.Timestamptz{Time: s.GeocodedAt, Valid: true}
	}
	return r
}

func (r row) snapshot() domain.Snapshot {
	s := domain.Snapshot{
		Address:  r.Address,
		Zoom:     int(r.Zoom),
		Provider: r.Provider,
		Status:   domain.StatusCode(r.Status),
		Raw:      r.Raw,
	}
	s.Lat.Float64, s.Lat.Valid = r.Lat.Float64, r.Lat.Valid
	s.Lng.Float64, s.Lng.Valid = r.Lng.Float64, r.Lng.Valid
	s.GeocodedAddress.String, s.GeocodedAddress.Valid = r.GeocodedAddress.String, r.GeocodedAddress.Valid
	if r.GeocodedAt.Valid {
		s.GeocodedAt = r.GeocodedAt.Time.UTC()
	}
	return s
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string, timeout time.Duration) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}
