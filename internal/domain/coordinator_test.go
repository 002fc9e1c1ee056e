package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock geocoder ---

type mockGeocoder struct {
	result    GeocodingResult
	err       error
	calls     atomic.Int32
	addresses []string
	mu        sync.Mutex
}

func (m *mockGeocoder) ForwardGeocode(_ context.Context, address string) (GeocodingResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.addresses = append(m.addresses, address)
	m.mu.Unlock()
	return m.result, m.err
}

// blockingGeocoder parks every lookup until release is closed or ctx ends.
type blockingGeocoder struct {
	started chan struct{}
	release chan struct{}
	result  GeocodingResult
	calls   atomic.Int32
}

func newBlockingGeocoder(result GeocodingResult) *blockingGeocoder {
	return &blockingGeocoder{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
		result:  result,
	}
}

func (b *blockingGeocoder) ForwardGeocode(ctx context.Context, _ string) (GeocodingResult, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
		return b.result, nil
	case <-ctx.Done():
		return GeocodingResult{}, ctx.Err()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func amphitheatreResult() GeocodingResult {
	return GeocodingResult{
		Found:            true,
		Lat:              37.4224,
		Lon:              -122.0841,
		FormattedAddress: "Google Building 40, 1600, Amphitheatre Parkway, Mountain View",
		Raw:              []byte(`[{"place_id":1,"lat":"37.4224","lon":"-122.0841"}]`),
	}
}

func recordWithAddress(t *testing.T, address string) *LocationRecord {
	t.Helper()
	r := NewLocationRecord()
	require.NoError(t, r.Set(FieldAddress, address))
	return r
}

// --- tests ---

func TestResolve_Success(t *testing.T) {
	geo := &mockGeocoder{result: amphitheatreResult()}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	status, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, status)
	assert.Equal(t, StatusOK, r.Status())
	lat, ok := r.Lat()
	assert.True(t, ok)
	assert.Equal(t, 37.4224, lat)
	lng, ok := r.Lng()
	assert.True(t, ok)
	assert.Equal(t, -122.0841, lng)
	assert.NotEmpty(t, r.Raw())
	assert.Equal(t, string(amphitheatreResult().Raw), r.Raw())
	assert.False(t, r.IsStale())
	assert.Equal(t, []string{testAddress}, geo.addresses)
}

func TestResolve_AccuracySpecificStatus(t *testing.T) {
	result := amphitheatreResult()
	result.Accuracy = "ROOFTOP"
	c := NewCoordinator(&mockGeocoder{result: result}, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	status, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StatusOKRooftop, status)
}

func TestResolve_Idempotent(t *testing.T) {
	geo := &mockGeocoder{result: amphitheatreResult()}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	first, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), geo.calls.Load(), "unchanged address must not hit the geocoder twice")
}

func TestResolve_IdempotentAfterFailure(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("connection refused")}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	first, err := c.Resolve(context.Background(), r)
	require.Error(t, err)
	second, err := c.Resolve(context.Background(), r)
	require.NoError(t, err, "cached failure is returned without a new warning")

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), geo.calls.Load())
}

func TestResolve_AddressChangeTriggersNewLookup(t *testing.T) {
	geo := &mockGeocoder{result: amphitheatreResult()}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	_, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)

	require.NoError(t, r.Set(FieldAddress, "1 Infinite Loop"))
	_, err = c.Resolve(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, int32(2), geo.calls.Load())
	assert.Equal(t, []string{testAddress, "1 Infinite Loop"}, geo.addresses)
}

func TestResolve_SkipGeocode(t *testing.T) {
	geo := &mockGeocoder{result: amphitheatreResult()}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)
	require.NoError(t, r.Set(FieldLat, 1.5))
	require.NoError(t, r.Set(FieldLng, 2.5))
	require.NoError(t, r.Set(FieldRaw, "previous"))
	r.SetSkipGeocode(true)

	status, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusGeocodeDisabled, status)
	assert.Equal(t, int32(0), geo.calls.Load())
	lat, _ := r.Lat()
	lng, _ := r.Lng()
	assert.Equal(t, 1.5, lat)
	assert.Equal(t, 2.5, lng)
	assert.Equal(t, "previous", r.Raw())
}

func TestResolve_NilGeocoderIsDisabled(t *testing.T) {
	c := NewCoordinator(nil, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	status, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StatusGeocodeDisabled, status)
	assert.True(t, r.IsStale(), "disabled geocoding does not consume the address")
	assert.False(t, c.Enabled())
}

func TestResolve_EmptyAddress(t *testing.T) {
	geo := &mockGeocoder{result: amphitheatreResult()}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := NewLocationRecord()

	status, err := c.Resolve(context.Background(), r)

	require.ErrorIs(t, err, ErrGeocodeNoResult)
	assert.Equal(t, StatusZeroResults, status)
	assert.Equal(t, int32(0), geo.calls.Load())
	lat, ok := r.Lat()
	assert.True(t, ok)
	assert.Zero(t, lat)
	lng, ok := r.Lng()
	assert.True(t, ok)
	assert.Zero(t, lng)
}

func TestResolve_TransportFailure(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("dial tcp: i/o timeout")}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)
	require.NoError(t, r.Set(FieldLat, 10))
	require.NoError(t, r.Set(FieldLng, 20))
	require.NoError(t, r.Set(FieldRaw, "stale body"))

	status, err := c.Resolve(context.Background(), r)

	require.ErrorIs(t, err, ErrGeocodeTransport)
	assert.Equal(t, StatusUnknown, status)
	lat, _ := r.Lat()
	lng, _ := r.Lng()
	assert.Zero(t, lat)
	assert.Zero(t, lng)
	assert.Empty(t, r.Raw())
	assert.False(t, r.IsStale())
}

func TestResolve_NoResult(t *testing.T) {
	geo := &mockGeocoder{result: GeocodingResult{Found: false, Raw: []byte("[]")}}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, "nowhere at all")

	status, err := c.Resolve(context.Background(), r)

	require.ErrorIs(t, err, ErrGeocodeNoResult)
	assert.Equal(t, StatusZeroResults, status)
	assert.Empty(t, r.Raw())
}

func TestResolve_ClassifiedProviderError(t *testing.T) {
	geo := &mockGeocoder{err: NewGeocodeError(KindRateLimited, "too many requests", nil)}
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	status, err := c.Resolve(context.Background(), r)

	require.ErrorIs(t, err, ErrGeocodeRateLimited)
	assert.Equal(t, StatusOverQueryLimit, status)
	assert.Equal(t, StatusOverQueryLimit, r.Status())
}

func TestResolve_StampsGeocodedAt(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC))
	t.Cleanup(SetClock(fake))

	c := NewCoordinator(&mockGeocoder{result: amphitheatreResult()}, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	_, err := c.Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, fake.Now(), r.GeocodedAt())
}

func TestResolve_TimeoutIsTransportFailure(t *testing.T) {
	geo := newBlockingGeocoder(amphitheatreResult())
	c := NewCoordinator(geo, 20*time.Millisecond, discardLogger())
	r := recordWithAddress(t, testAddress)

	status, err := c.Resolve(context.Background(), r)

	require.ErrorIs(t, err, ErrGeocodeTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusUnknown, status)
}

func TestResolve_CancelledLeavesRecordUntouched(t *testing.T) {
	geo := newBlockingGeocoder(amphitheatreResult())
	c := NewCoordinator(geo, 0, discardLogger())
	r := recordWithAddress(t, testAddress)
	before := r.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, r)
		done <- err
	}()

	<-geo.started
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, r.Snapshot())
	assert.True(t, r.IsStale(), "cancelled lookup must be retried later")
}

func TestResolve_ConcurrentResolvesIssueOneLookup(t *testing.T) {
	geo := newBlockingGeocoder(amphitheatreResult())
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	var wg sync.WaitGroup
	statuses := make([]StatusCode, 5)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _ = c.Resolve(context.Background(), r)
		}(i)
	}

	<-geo.started
	close(geo.release)
	wg.Wait()

	assert.Equal(t, int32(1), geo.calls.Load())
	for _, s := range statuses {
		assert.Equal(t, StatusOK, s)
	}
}

func TestResolve_AddressEditedInFlightDiscardsResult(t *testing.T) {
	geo := newBlockingGeocoder(amphitheatreResult())
	c := NewCoordinator(geo, time.Second, discardLogger())
	r := recordWithAddress(t, testAddress)

	done := make(chan StatusCode, 1)
	go func() {
		s, _ := c.Resolve(context.Background(), r)
		done <- s
	}()

	<-geo.started
	require.NoError(t, r.Set(FieldAddress, "1 Infinite Loop"))
	close(geo.release)

	assert.Equal(t, StatusNotGeocoded, <-done)
	_, ok := r.Lat()
	assert.False(t, ok, "coordinates for the old address must not be applied")
	assert.True(t, r.IsStale())
}
