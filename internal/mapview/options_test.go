package mapview

import (
	"testing"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Defaults(t *testing.T) {
	in := InputOptions("")
	assert.Equal(t, DefaultProvider, in.Provider())
	assert.Equal(t, 9, in.Zoom())
	assert.True(t, in.Draggable())

	out := MarkupOptions("Stamen.Toner")
	assert.Equal(t, "Stamen.Toner", out.Provider())
	assert.Equal(t, 10, out.Zoom())
	assert.False(t, out.Draggable())
}

func TestOptions_WithReturnsCopy(t *testing.T) {
	base := InputOptions("")
	zoomed := base.WithZoom(15).WithDraggable(false).WithProvider("Esri.WorldImagery")

	assert.Equal(t, 9, base.Zoom(), "receiver must not change")
	assert.True(t, base.Draggable())
	assert.Equal(t, DefaultProvider, base.Provider())

	assert.Equal(t, 15, zoomed.Zoom())
	assert.False(t, zoomed.Draggable())
	assert.Equal(t, "Esri.WorldImagery", zoomed.Provider())

	assert.Equal(t, 15, zoomed.WithZoom(0).Zoom(), "zoom below 1 is ignored")
}

func TestView_WithCoordinates(t *testing.T) {
	r := domain.NewLocationRecord()
	require.NoError(t, r.Set(domain.FieldLat, 37.4224))
	require.NoError(t, r.Set(domain.FieldLng, -122.0841))
	require.NoError(t, r.Set(domain.FieldZoom, 14))
	require.NoError(t, r.Set(domain.FieldProvider, "CartoDB.Positron"))

	v := MarkupOptions("").View(r)

	assert.Equal(t, View{
		Lat:        37.4224,
		Lng:        -122.0841,
		Zoom:       14,
		Provider:   "CartoDB.Positron",
		ShowMarker: true,
	}, v)
}

func TestView_WithoutCoordinates(t *testing.T) {
	r := domain.NewLocationRecord()

	v := MarkupOptions("").View(r)

	assert.False(t, v.ShowMarker)
	assert.Equal(t, DefaultMarkupZoom, v.Zoom)
	assert.Equal(t, DefaultProvider, v.Provider)
}

func TestView_ZeroLatitudeHidesMarker(t *testing.T) {
	r := domain.NewLocationRecord()
	require.NoError(t, r.Set(domain.FieldLat, 0))
	require.NoError(t, r.Set(domain.FieldLng, 0))

	assert.False(t, InputOptions("").View(r).ShowMarker)
}
