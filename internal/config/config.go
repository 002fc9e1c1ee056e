package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Forward/reverse geocoding against a Nominatim-compatible endpoint.
	GeocodeEnabled   bool
	GeocodeEndpoint  string
	GeocodeUserAgent string
	GeocodeTimeout   time.Duration
	GeocodeCacheSize int
	// GeocodeRateLimit is requests per second; 0 disables limiting.
	GeocodeRateLimit float64

	MapProvider    string
	MapDefaultZoom int

	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string

	// KafkaBrokers is empty when change events are not published.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	geocodeTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("GEOCODE_TIMEOUT", "5s"))
	if err != nil || geocodeTimeout <= 0 {
		return nil, errors.New("invalid GEOCODE_TIMEOUT")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("GEOCODE_RATE_LIMIT", "1"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid GEOCODE_RATE_LIMIT: must be a non-negative number")
	}

	zoom, err := strconv.Atoi(sharedcfg.EnvOrDefault("MAP_DEFAULT_ZOOM", "9"))
	if err != nil || zoom < 1 {
		return nil, errors.New("invalid MAP_DEFAULT_ZOOM: must be a positive integer")
	}

	enabled := true
	if v := os.Getenv("GEOCODE_ENABLED"); v != "" {
		enabled, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid GEOCODE_ENABLED: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		GeocodeEnabled:   enabled,
		GeocodeEndpoint:  strings.TrimRight(sharedcfg.EnvOrDefault("GEOCODE_ENDPOINT", "https://nominatim.openstreetmap.org"), "/"),
		GeocodeUserAgent: sharedcfg.EnvOrDefault("GEOCODE_USER_AGENT", "map-marker-service/1.0"),
		GeocodeTimeout:   geocodeTimeout,
		GeocodeCacheSize: parseCacheSize(),
		GeocodeRateLimit: rateLimit,

		MapProvider:    sharedcfg.EnvOrDefault("MAP_PROVIDER", "OpenStreetMap.Mapnik"),
		MapDefaultZoom: zoom,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "location-changes"),
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// PublishEnabled reports whether change events go to Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseCacheSize() int {
	if s := os.Getenv("GEOCODE_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
