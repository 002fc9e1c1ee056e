package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/mapview"
	"github.com/couchcryptid/map-marker-service/internal/service"
	"github.com/gin-gonic/gin"
)

// LocationService is the subset of service.LocationService the handlers use.
type LocationService interface {
	Create(ctx context.Context, id string) (*domain.LocationRecord, error)
	Get(ctx context.Context, id string) (*domain.LocationRecord, error)
	Update(ctx context.Context, id string, edit service.Edit) (*domain.LocationRecord, error)
	Delete(ctx context.Context, id string) error
	DragMarker(ctx context.Context, id string, lat, lng float64) (*domain.LocationRecord, error)
	Resolve(ctx context.Context, id string) (*service.Result, error)
}

// Handler serves the location JSON API.
type Handler struct {
	service  LocationService
	provider string
	logger   *slog.Logger
}

// NewHandler creates a Handler. provider is the map tile layer used in map
// views of records that do not name one.
func NewHandler(svc LocationService, provider string, logger *slog.Logger) *Handler {
	return &Handler{service: svc, provider: provider, logger: logger}
}

// Router returns a gin engine with all location routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.POST("/locations/:id", h.Create)
	r.GET("/locations/:id", h.Get)
	r.PUT("/locations/:id", h.Update)
	r.DELETE("/locations/:id", h.Delete)
	r.PUT("/locations/:id/marker", h.Marker)
	r.GET("/locations/:id/coordinates", h.Coordinates)
	r.GET("/locations/:id/map", h.Map)
	return r
}

// Create handles POST /locations/:id.
func (h *Handler) Create(c *gin.Context) {
	rec, err := h.service.Create(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newLocationResponse(c.Param("id"), rec))
}

// Get handles GET /locations/:id. It never geocodes.
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLocationResponse(c.Param("id"), rec))
}

// Update handles PUT /locations/:id. The body is a JSON object with any of
// lat, lng, address, zoom, provider, status and an optional skip_geocode flag.
func (h *Handler) Update(c *gin.Context) {
	edit, err := decodeEdit(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.service.Update(c.Request.Context(), c.Param("id"), edit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLocationResponse(c.Param("id"), rec))
}

// Delete handles DELETE /locations/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markerRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// Marker handles PUT /locations/:id/marker with {"lat":..,"lng":..}, the
// position a user dropped the marker at.
func (h *Handler) Marker(c *gin.Context) {
	var req markerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required numbers"})
		return
	}

	rec, err := h.service.DragMarker(c.Request.Context(), c.Param("id"), *req.Lat, *req.Lng)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLocationResponse(c.Param("id"), rec))
}

// Coordinates handles GET /locations/:id/coordinates, resolving the record
// first if its address changed. A geocode failure is reported as a warning
// next to a 200 response.
func (h *Handler) Coordinates(c *gin.Context) {
	res, err := h.service.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := coordinatesResponse{
		locationResponse: newLocationResponse(c.Param("id"), res.Record),
		LookedUp:         res.LookedUp,
	}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Map handles GET /locations/:id/map?mode=input|markup and returns the render
// descriptor for the map surface.
func (h *Handler) Map(c *gin.Context) {
	var opts mapview.Options
	switch c.DefaultQuery("mode", "markup") {
	case "input":
		opts = mapview.InputOptions(h.provider)
	case "markup":
		opts = mapview.MarkupOptions(h.provider)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be input or markup"})
		return
	}

	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, opts.View(rec))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
	case errors.Is(err, service.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": "location already exists"})
	case errors.Is(err, domain.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		h.logger.Error("location request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"content_id", c.Param("id"),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func decodeEdit(r *http.Request) (service.Edit, error) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return service.Edit{}, errors.New("body must be a JSON object")
	}

	edit := service.Edit{Values: make(map[domain.Field]any, len(body))}
	for key, v := range body {
		if key == "skip_geocode" {
			skip, ok := v.(bool)
			if !ok {
				return service.Edit{}, errors.New("skip_geocode must be a boolean")
			}
			edit.SkipGeocode = skip
			continue
		}
		edit.Values[domain.Field(key)] = v
	}
	return edit, nil
}

type locationResponse struct {
	ID          string     `json:"id"`
	Lat         *float64   `json:"lat"`
	Lng         *float64   `json:"lng"`
	Address     string     `json:"address"`
	Zoom        int        `json:"zoom"`
	Provider    string     `json:"provider"`
	Status      int        `json:"status"`
	StatusLabel string     `json:"status_label"`
	Stale       bool       `json:"stale"`
	GeocodedAt  *time.Time `json:"geocoded_at,omitempty"`
}

type coordinatesResponse struct {
	locationResponse
	LookedUp bool   `json:"looked_up"`
	Warning  string `json:"warning,omitempty"`
}

func newLocationResponse(id string, rec *domain.LocationRecord) locationResponse {
	e := domain.NewLocationEvent(id, rec)
	resp := locationResponse{
		ID:          id,
		Lat:         e.Lat,
		Lng:         e.Lng,
		Address:     e.Address,
		Zoom:        e.Zoom,
		Provider:    e.Provider,
		Status:      int(e.Status),
		StatusLabel: e.StatusLabel,
		Stale:       rec.IsStale(),
	}
	if !e.GeocodedAt.IsZero() {
		at := e.GeocodedAt
		resp.GeocodedAt = &at
	}
	return resp
}

// requestLogger logs one line per request at debug level, warn for 5xx.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
