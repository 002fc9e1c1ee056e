package nominatim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/observability"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds how much of a response is read and kept as the raw body.
const maxBodyBytes = 1 << 20

// Client implements domain.Geocoder and domain.ReverseGeocoder against a
// Nominatim-compatible search API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter // nil when unlimited
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a geocoding client. rateLimit is requests per second
// shared by forward and reverse lookups; 0 disables client-side limiting.
func NewClient(baseURL, userAgent string, timeout time.Duration, rateLimit float64,
	metrics *observability.Metrics, logger *slog.Logger,
) *Client {
	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode looks up the first candidate for address. An empty candidate
// list is not an error: the result comes back with Found false. Failures are
// *domain.GeocodeError.
func (c *Client) ForwardGeocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	params := url.Values{
		"q":              {address},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}

	body, err := c.doRequest(ctx, c.baseURL+"/search?"+params.Encode(), "forward")
	if err != nil {
		return domain.GeocodingResult{}, err
	}

	var candidates []candidate
	if err := json.Unmarshal(body, &candidates); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("forward", "error").Inc()
		return domain.GeocodingResult{}, domain.NewGeocodeError(domain.KindTransport, "decode search response", err)
	}

	for _, cand := range candidates {
		lon := cand.Lon
		if !lon.valid {
			lon = cand.Lng
		}
		if !cand.Lat.valid || !lon.valid {
			continue
		}
		c.metrics.GeocodeRequests.WithLabelValues("forward", "success").Inc()
		return domain.GeocodingResult{
			Found:            true,
			Lat:              cand.Lat.value,
			Lon:              lon.value,
			FormattedAddress: cand.DisplayName,
			Accuracy:         cand.LocationType,
			Raw:              body,
		}, nil
	}

	c.metrics.GeocodeRequests.WithLabelValues("forward", "empty").Inc()
	return domain.GeocodingResult{Raw: body}, nil
}

// ReverseGeocode returns the display name nearest to the coordinates, or ""
// when the service has nothing there.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	params := url.Values{
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lng, 'f', -1, 64)},
		"format": {"json"},
	}

	body, err := c.doRequest(ctx, c.baseURL+"/reverse?"+params.Encode(), "reverse")
	if err != nil {
		return "", err
	}

	var resp reverseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("reverse", "error").Inc()
		return "", domain.NewGeocodeError(domain.KindTransport, "decode reverse response", err)
	}
	if resp.DisplayName == "" {
		c.logger.Debug("reverse geocode returned nothing", "lat", lat, "lng", lng, "error", resp.Error)
		c.metrics.GeocodeRequests.WithLabelValues("reverse", "empty").Inc()
		return "", nil
	}

	c.metrics.GeocodeRequests.WithLabelValues("reverse", "success").Inc()
	return resp.DisplayName, nil
}

// doRequest waits for the rate limiter, performs the GET and returns the body
// of a 200 response. It records the error outcome itself; callers record the
// others once they have decoded the body.
func (c *Client) doRequest(ctx context.Context, fullURL, method string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
			return nil, domain.NewGeocodeError(domain.KindTransport, method+" geocode rate wait", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, domain.NewGeocodeError(domain.KindInvalidRequest, "create request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return nil, domain.NewGeocodeError(domain.KindTransport, method+" geocode request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return nil, domain.NewGeocodeError(domain.KindTransport, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return nil, domain.ClassifyHTTPStatus(resp.StatusCode, string(bytes.TrimSpace(body)))
	}
	return body, nil
}

// Nominatim API response types.

type candidate struct {
	Lat          flexFloat `json:"lat"`
	Lon          flexFloat `json:"lon"`
	Lng          flexFloat `json:"lng"`
	DisplayName  string    `json:"display_name"`
	LocationType string    `json:"location_type"`
	Class        string    `json:"class"`
	Type         string    `json:"type"`
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// flexFloat decodes a coordinate sent either as a JSON number or as a numeric
// string; Nominatim uses strings, several compatible services use numbers.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("coordinate %s: %w", data, err)
	}
	f.value, f.valid = v, true
	return nil
}
