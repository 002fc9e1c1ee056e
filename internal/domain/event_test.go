package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocationEvent(t *testing.T) {
	r := NewLocationRecord()
	require.NoError(t, r.Set(FieldAddress, testAddress))
	require.NoError(t, r.Set(FieldLat, 37.4224))
	require.NoError(t, r.Set(FieldStatus, int(StatusOKRooftop)))

	e := NewLocationEvent("node-7", r)

	assert.Equal(t, "node-7", e.ContentID)
	require.NotNil(t, e.Lat)
	assert.InDelta(t, 37.4224, *e.Lat, 0)
	assert.Nil(t, e.Lng, "empty coordinate stays null")
	assert.Equal(t, "OK ROOFTOP", e.StatusLabel)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lng":null`)
	assert.Contains(t, string(data), `"status":2`)
}
