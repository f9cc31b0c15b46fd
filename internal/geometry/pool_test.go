package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/internal/models"
)

func at(id, market string, lon, lat float64) models.Property {
	return models.Property{ID: id, Market: market, Longitude: &lon, Latitude: &lat}
}

func TestConvexHull(t *testing.T) {
	hull := ConvexHull([]orb.Point{{0, 0}, {0, 1}, {0.5, 0.5}, {1, 0}, {1, 1}, {1, 1}})
	require.NotNil(t, hull)
	assert.Len(t, hull, 5)
	assert.True(t, hull.Closed())
	assert.Equal(t, orb.Point{0, 0}, hull[0])
	assert.NotContains(t, hull, orb.Point{0.5, 0.5})
}

func TestConvexHull_Degenerate(t *testing.T) {
	assert.Nil(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}}))
	assert.Nil(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}, {2, 2}}))
	assert.Nil(t, ConvexHull([]orb.Point{{3, 3}, {3, 3}, {3, 3}}))
}

func TestPoolCollection(t *testing.T) {
	price := int64(300000)
	properties := []models.Property{
		at("a", "Columbus", -83.0, 40.0),
		at("b", "Columbus", -82.9, 40.0),
		at("c", "Columbus", -82.95, 40.1),
		at("d", "Austin", -97.7, 30.3),
		{ID: "no-coords", Market: "Austin", Price: &price},
	}
	properties[0].Price = &price

	fc := PoolCollection(properties)
	require.Len(t, fc.Features, 6)

	points := 0
	areas := make(map[string]string)
	for _, f := range fc.Features {
		switch f.Properties["geometry_type"] {
		case "property":
			points++
		default:
			areas[f.Properties.MustString("market")] = f.Properties.MustString("geometry_type")
		}
	}
	assert.Equal(t, 4, points)
	assert.Equal(t, map[string]string{"Columbus": "hull", "Austin": "bound"}, areas)

	assert.Equal(t, int64(300000), fc.Features[0].Properties["price"])
	_, ok := fc.Features[0].Geometry.(orb.Point)
	assert.True(t, ok)
}
