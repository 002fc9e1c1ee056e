package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/map-marker-service/internal/adapter/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReadiness struct {
	err error
}

func (s stubReadiness) CheckReadiness(context.Context) error { return s.err }

func serve(t *testing.T, srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		readyErr error
		code     int
		body     map[string]string
	}{
		{"liveness", "/healthz", nil, http.StatusOK, map[string]string{"status": "healthy"}},
		{"liveness ignores repository", "/healthz", errors.New("db down"), http.StatusOK, map[string]string{"status": "healthy"}},
		{"ready", "/readyz", nil, http.StatusOK, map[string]string{"status": "ready"}},
		{"repository down", "/readyz", errors.New("repository unavailable: db down"), http.StatusServiceUnavailable,
			map[string]string{"status": "not ready", "error": "repository unavailable: db down"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httpadapter.NewServer(":0", stubReadiness{err: tt.readyErr}, nil, slog.Default())

			rec := serve(t, srv, tt.path)

			assert.Equal(t, tt.code, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			for k, v := range tt.body {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := httpadapter.NewServer(":0", stubReadiness{}, nil, slog.Default())

	rec := serve(t, srv, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLocationsRoutedToAPI(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Api", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httpadapter.NewServer(":0", stubReadiness{}, api, slog.Default())

	rec := serve(t, srv, "/locations/node-1/coordinates")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "/locations/node-1/coordinates", rec.Header().Get("X-Api"))
}

func TestLocationsNotFoundWithoutAPI(t *testing.T) {
	srv := httpadapter.NewServer(":0", stubReadiness{}, nil, slog.Default())

	rec := serve(t, srv, "/locations/node-1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
