package domain

import "time"

// LocationEvent is published after a resolve that talked to the geocoder.
type LocationEvent struct {
	ContentID   string     `json:"content_id"`
	Lat         *float64   `json:"lat"`
	Lng         *float64   `json:"lng"`
	Address     string     `json:"address"`
	Zoom        int        `json:"zoom"`
	Provider    string     `json:"provider"`
	Status      StatusCode `json:"status"`
	StatusLabel string     `json:"status_label"`
	GeocodedAt  time.Time  `json:"geocoded_at"`
}

// NewLocationEvent captures the current state of r for content id.
func NewLocationEvent(id string, r *LocationRecord) LocationEvent {
	s := r.Snapshot()
	e := LocationEvent{
		ContentID:   id,
		Address:     s.Address,
		Zoom:        s.Zoom,
		Provider:    s.Provider,
		Status:      s.Status,
		StatusLabel: s.Status.Label(),
		GeocodedAt:  s.GeocodedAt,
	}
	if s.Lat.Valid {
		lat := s.Lat.Float64
		e.Lat = &lat
	}
	if s.Lng.Valid {
		lng := s.Lng.Float64
		e.Lng = &lng
	}
	return e
}
