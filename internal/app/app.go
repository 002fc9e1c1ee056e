// Package app wires configuration into the repository, geocoder, publisher
// and service shared by the daemon and the admin CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/adapter/kafka"
	"github.com/couchcryptid/map-marker-service/internal/adapter/memory"
	"github.com/couchcryptid/map-marker-service/internal/adapter/nominatim"
	"github.com/couchcryptid/map-marker-service/internal/adapter/postgres"
	"github.com/couchcryptid/map-marker-service/internal/config"
	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/observability"
	"github.com/couchcryptid/map-marker-service/internal/service"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jackc/pgx/v5/pgxpool"
)

const connectAttempts = 5

// App holds the wired components. Close releases them.
type App struct {
	Service  *service.LocationService
	Store    service.Repository
	Postgres *postgres.Store // nil when running in memory
	Reverse  domain.ReverseGeocoder

	pool   *pgxpool.Pool
	writer *kafka.Writer
	logger *slog.Logger
}

// Build connects to the configured backends and converts any rows still on the
// legacy status codes. Without DATABASE_URL records are
// kept in memory; without KAFKA_BROKERS no events are published; with
// GEOCODE_ENABLED=false every resolve reports Geocode OFF.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{logger: logger}

	if cfg.DatabaseURL != "" {
		pool, err := connectWithRetry(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Postgres = postgres.NewStore(pool)
		if err := a.Postgres.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		n, err := a.Postgres.MigrateLegacyStatuses(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		if n > 0 {
			metrics.LegacyMigrations.Add(float64(n))
			logger.Info("migrated legacy statuses", "rows", n)
		}
		a.Store = a.Postgres
		logger.Info("using postgres store")
	} else {
		a.Store = memory.NewStore()
		logger.Warn("DATABASE_URL not set, records are kept in memory")
	}

	var geocoder domain.Geocoder
	if cfg.GeocodeEnabled {
		client := nominatim.NewClient(cfg.GeocodeEndpoint, cfg.GeocodeUserAgent, cfg.GeocodeTimeout,
			cfg.GeocodeRateLimit, metrics, logger)
		cached := nominatim.NewCachedGeocoder(client, cfg.GeocodeCacheSize, metrics)
		geocoder = cached
		a.Reverse = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("geocoding enabled",
			"endpoint", cfg.GeocodeEndpoint,
			"cache_size", cfg.GeocodeCacheSize,
			"timeout", cfg.GeocodeTimeout,
		)
	} else {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("geocoding disabled")
	}

	var publisher service.EventPublisher
	if cfg.PublishEnabled() {
		a.writer = kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = a.writer
		logger.Info("publishing location events", "topic", cfg.KafkaTopic)
	}

	coord := domain.NewCoordinator(geocoder, cfg.GeocodeTimeout, logger)
	a.Service = service.New(a.Store, coord, publisher,
		service.Defaults{Provider: cfg.MapProvider, Zoom: cfg.MapDefaultZoom}, logger, metrics)
	if a.Reverse != nil {
		a.Service.SetReverseGeocoder(a.Reverse)
	}
	return a, nil
}

// Close releases the Kafka writer and the database pool.
func (a *App) Close() {
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// connectWithRetry retries the initial connection with exponential backoff:
// 500ms doubling up to 8s, for connectAttempts tries.
func connectWithRetry(ctx context.Context, url string, logger *slog.Logger) (*pgxpool.Pool, error) {
	return withRetry(ctx, connectAttempts, 500*time.Millisecond, 8*time.Second, logger,
		func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, url, 5*time.Second)
		})
}

// withRetry calls connect up to attempts times, sleeping between failures
// but not after the last one.
func withRetry[T any](ctx context.Context, attempts int, backoff, maxBackoff time.Duration, logger *slog.Logger,
	connect func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logger.Warn("database connection failed", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return zero, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	return zero, fmt.Errorf("connect database after %d attempts: %w", attempts, lastErr)
}
