package geo

import (
	"testing"

	"bloodmatch/pkg/model"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     model.Position
		expected float64
		delta    float64
	}{
		{
			name:     "same point",
			a:        model.Position{Latitude: 32.08, Longitude: 34.78},
			b:        model.Position{Latitude: 32.08, Longitude: 34.78},
			expected: 0,
			delta:    1e-9,
		},
		{
			name:     "one degree of latitude",
			a:        model.Position{Latitude: 0, Longitude: 0},
			b:        model.Position{Latitude: 1, Longitude: 0},
			expected: 111194.93,
			delta:    1,
		},
		{
			name:     "across the antimeridian",
			a:        model.Position{Latitude: 0, Longitude: 179.9},
			b:        model.Position{Latitude: 0, Longitude: -179.9},
			expected: 22238.99,
			delta:    1,
		},
		{
			name:     "antipodal points",
			a:        model.Position{Latitude: 0, Longitude: 0},
			b:        model.Position{Latitude: 0, Longitude: 180},
			expected: 20015086.8,
			delta:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Distance(tt.a, tt.b), tt.delta)
			assert.InDelta(t, Distance(tt.a, tt.b), Distance(tt.b, tt.a), 1e-6, "distance must be symmetric")
		})
	}
}

func TestBoundingBox(t *testing.T) {
	t.Run("contains points at the radius", func(t *testing.T) {
		center := model.Position{Latitude: 45, Longitude: 10}
		box := BoundingBox(center, 50000)
		assert.False(t, box.FullLongitude)
		assert.Less(t, box.MinLat, center.Latitude)
		assert.Greater(t, box.MaxLat, center.Latitude)
		assert.Less(t, box.MinLon, center.Longitude)
		assert.Greater(t, box.MaxLon, center.Longitude)

		east := model.Position{Latitude: 45, Longitude: box.MaxLon}
		assert.GreaterOrEqual(t, Distance(center, east), 50000-1e-6, "box edge lies on or beyond the radius")
	})

	t.Run("near the pole covers every longitude", func(t *testing.T) {
		box := BoundingBox(model.Position{Latitude: 89.9, Longitude: 0}, 50000)
		assert.True(t, box.FullLongitude)
		assert.Equal(t, 90.0, box.MaxLat)
	})

	t.Run("crossing the antimeridian extends past 180", func(t *testing.T) {
		box := BoundingBox(model.Position{Latitude: 0, Longitude: 179.95}, 20000)
		assert.False(t, box.FullLongitude)
		assert.Greater(t, box.MaxLon, 180.0)
	})

	t.Run("huge radius covers the globe", func(t *testing.T) {
		box := BoundingBox(model.Position{Latitude: 10, Longitude: 10}, 15000000)
		assert.True(t, box.FullLongitude)
		assert.Equal(t, -90.0, box.MinLat)
		assert.Equal(t, 90.0, box.MaxLat)
	})
}
