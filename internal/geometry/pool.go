package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"nextplace/validator/internal/models"
)

// PoolCollection builds a feature collection with one point per geocoded
// property followed by one area per market.
func PoolCollection(properties []models.Property) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	byMarket := make(map[string][]orb.Point)
	for _, p := range properties {
		point, ok := location(p)
		if !ok {
			continue
		}

		feature := geojson.NewFeature(point)
		feature.ID = p.ID
		feature.Properties = geojson.Properties{
			"nextplace_id":  p.ID,
			"market":        p.Market,
			"address":       p.Address,
			"geometry_type": "property",
		}
		if p.Price != nil {
			feature.Properties["price"] = *p.Price
		}
		fc.Append(feature)

		byMarket[p.Market] = append(byMarket[p.Market], point)
	}

	for _, area := range MarketAreas(byMarket) {
		fc.Append(area)
	}
	return fc
}

// MarketAreas outlines each market's points with a convex hull, or with the
// bounding box when the points do not span an area.
func MarketAreas(byMarket map[string][]orb.Point) []*geojson.Feature {
	markets := make([]string, 0, len(byMarket))
	for market := range byMarket {
		markets = append(markets, market)
	}
	sort.Strings(markets)

	features := make([]*geojson.Feature, 0, len(markets))
	for _, market := range markets {
		points := byMarket[market]
		if len(points) == 0 {
			continue
		}

		var feature *geojson.Feature
		if hull := ConvexHull(points); hull != nil {
			feature = geojson.NewFeature(orb.Polygon{hull})
			feature.Properties = geojson.Properties{"geometry_type": "hull", "hull_type": "convex"}
		} else {
			feature = geojson.NewFeature(orb.MultiPoint(points).Bound().ToPolygon())
			feature.Properties = geojson.Properties{"geometry_type": "bound"}
		}
		feature.Properties["market"] = market
		feature.Properties["point_count"] = len(points)
		features = append(features, feature)
	}
	return features
}

// ConvexHull returns the closed counter-clockwise hull ring of points, or nil
// when fewer than three points are not collinear.
func ConvexHull(points []orb.Point) orb.Ring {
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	sorted = dedupe(sorted)
	if len(sorted) < 3 {
		return nil
	}

	// Monotone chain: lower hull then upper hull
	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// The last point repeats the first and closes the ring
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

func location(p models.Property) (orb.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return orb.Point{}, false
	}
	if *p.Latitude == 0 && *p.Longitude == 0 {
		return orb.Point{}, false
	}
	return orb.Point{*p.Longitude, *p.Latitude}, true
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func dedupe(sorted []orb.Point) []orb.Point {
	out := make([]orb.Point, 0, len(sorted))
	for _, p := range sorted {
		if len(out) > 0 && p.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
