package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPointValidation(t *testing.T) {
	_, ok := NewPoint(51.5, -0.1)
	assert.True(t, ok)
	_, ok = NewPoint(91, 0)
	assert.False(t, ok)
	_, ok = NewPoint(0, 181)
	assert.False(t, ok)
}

func TestDistance(t *testing.T) {
	paddington, ok := NewPoint(51.5154, -0.1755)
	require.True(t, ok)
	oxfordCircus, ok := NewPoint(51.5152, -0.1418)
	require.True(t, ok)

	km := DistanceKm(paddington, oxfordCircus)
	assert.InDelta(t, 2.3, km, 0.3)
	assert.InDelta(t, km*1000, DistanceMeters(paddington, oxfordCircus), 1e-6)
}

func TestCentroidAndSpread(t *testing.T) {
	a, _ := NewPoint(51.50, -0.10)
	b, _ := NewPoint(51.52, -0.12)
	center := Centroid([]Point{a, b})
	assert.InDelta(t, 51.51, center.Lat, 1e-9)
	assert.InDelta(t, -0.11, center.Lng, 1e-9)

	assert.False(t, WithinMeters([]Point{a, b}, 500))
	assert.True(t, WithinMeters([]Point{a, a}, 1))
	assert.True(t, WithinMeters(nil, 1))
}

func TestMinutesAtSpeed(t *testing.T) {
	assert.Equal(t, 1, MinutesAtSpeed(0.01, 3.6))
	assert.Equal(t, 2, MinutesAtSpeed(0.1, 3.6))
	assert.Equal(t, 17, MinutesAtSpeed(1.0, 3.6))
	assert.Equal(t, 1, MinutesAtSpeed(1.0, 0))
}
