package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/config"
	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRetry_NoSleepAfterLastAttempt(t *testing.T) {
	calls := 0
	start := time.Now()

	_, err := withRetry(context.Background(), 1, time.Second, time.Second, discardLogger(),
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("connection refused")
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	dial := errors.New("connection refused")
	calls := 0
	start := time.Now()

	_, err := withRetry(context.Background(), 3, 100*time.Millisecond, 100*time.Millisecond, discardLogger(),
		func(context.Context) (int, error) {
			calls++
			return 0, dial
		})

	require.ErrorIs(t, err, dial)
	assert.Equal(t, 3, calls)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "sleeps between attempts")
	assert.Less(t, elapsed, 280*time.Millisecond, "no sleep after the final attempt")
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0

	v, err := withRetry(context.Background(), 5, time.Millisecond, time.Millisecond, discardLogger(),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("not yet")
			}
			return "pool", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "pool", v)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := withRetry(ctx, 5, time.Minute, time.Minute, discardLogger(),
		func(context.Context) (int, error) {
			return 0, errors.New("connection refused")
		})

	require.ErrorIs(t, err, context.Canceled)
}

func TestBuild_InMemoryWithoutGeocoding(t *testing.T) {
	cfg := &config.Config{
		GeocodeEnabled: false,
		MapProvider:    "OpenStreetMap.Mapnik",
		MapDefaultZoom: 9,
	}
	metrics := observability.NewMetricsForTesting()

	a, err := Build(context.Background(), cfg, discardLogger(), metrics)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Postgres)
	assert.Nil(t, a.Reverse)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.GeocodeEnabled), 0)

	ctx := context.Background()
	_, err = a.Service.Create(ctx, "node-1")
	require.NoError(t, err)
	res, err := a.Service.Resolve(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGeocodeDisabled, res.Status)
}
