// Package mapview describes what the map-rendering surface needs to draw a
// location and turns its edit events into record updates.
package mapview

import "github.com/couchcryptid/map-marker-service/internal/domain"

const (
	// DefaultInputZoom is the zoom of the editing widget.
	DefaultInputZoom = domain.DefaultZoom
	// DefaultMarkupZoom is the zoom of rendered front-end maps.
	DefaultMarkupZoom = 10
	// DefaultProvider is the tile layer used when neither the record nor the
	// options name one.
	DefaultProvider = "OpenStreetMap.Mapnik"
)

// Options configures a map surface. It is a value: the With methods return
// modified copies and never change the receiver.
type Options struct {
	provider        string
	zoom            int
	draggable       bool
	scrollWheelZoom bool
}

// InputOptions are the defaults for the admin editing widget.
func InputOptions(provider string) Options {
	return Options{
		provider:        orDefault(provider),
		zoom:            DefaultInputZoom,
		draggable:       true,
		scrollWheelZoom: true,
	}
}

// MarkupOptions are the defaults for read-only front-end maps.
func MarkupOptions(provider string) Options {
	return Options{
		provider: orDefault(provider),
		zoom:     DefaultMarkupZoom,
	}
}

func (o Options) Provider() string      { return o.provider }
func (o Options) Zoom() int             { return o.zoom }
func (o Options) Draggable() bool       { return o.draggable }
func (o Options) ScrollWheelZoom() bool { return o.scrollWheelZoom }

// WithZoom returns a copy with the given fallback zoom; values below 1 keep
// the current one.
func (o Options) WithZoom(zoom int) Options {
	if zoom >= 1 {
		o.zoom = zoom
	}
	return o
}

func (o Options) WithProvider(provider string) Options {
	o.provider = orDefault(provider)
	return o
}

func (o Options) WithDraggable(draggable bool) Options {
	o.draggable = draggable
	return o
}

func (o Options) WithScrollWheelZoom(enabled bool) Options {
	o.scrollWheelZoom = enabled
	return o
}

// View is the render descriptor consumed by the map surface.
type View struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Zoom            int     `json:"zoom"`
	Provider        string  `json:"provider"`
	Draggable       bool    `json:"draggable"`
	ScrollWheelZoom bool    `json:"scroll_wheel_zoom"`
	ShowMarker      bool    `json:"show_marker"`
}

// View renders r with these options. The record's own provider wins over the
// options provider. Records without coordinates use the options zoom and get
// no marker; a latitude of exactly 0 is treated as unset, as the map widgets
// always have.
func (o Options) View(r *domain.LocationRecord) View {
	lat, latOK := r.Lat()
	lng, lngOK := r.Lng()
	hasCoords := latOK && lngOK && lat != 0

	v := View{
		Lat:             lat,
		Lng:             lng,
		Zoom:            r.Zoom(),
		Provider:        o.provider,
		Draggable:       o.draggable,
		ScrollWheelZoom: o.scrollWheelZoom,
		ShowMarker:      hasCoords,
	}
	if p := r.Provider(); p != "" {
		v.Provider = p
	}
	if !hasCoords || v.Zoom < 1 {
		v.Zoom = o.zoom
	}
	return v
}

func orDefault(provider string) string {
	if provider == "" {
		return DefaultProvider
	}
	return provider
}
