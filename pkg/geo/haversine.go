// Package geo holds the spherical-earth distance used for every radius
// decision in the service. Index bucketing and query filtering must agree on
// the formula, so nothing else computes distances.
package geo

import (
	"math"

	"bloodmatch/pkg/model"
)

// EarthRadiusMeters is the mean earth radius.
const EarthRadiusMeters = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b model.Position) float64 {
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h marginally past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Box is a latitude/longitude window guaranteed to contain every point within
// a radius of its center. When FullLongitude is set the longitude bounds are
// meaningless and every longitude qualifies.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	FullLongitude  bool
}

// BoundingBox computes the smallest lat/lon window covering a spherical cap.
// MinLon may be below -180 or MaxLon above 180 when the cap crosses the
// antimeridian; callers wrap as needed.
func BoundingBox(center model.Position, radiusMeters float64) Box {
	angular := radiusMeters / EarthRadiusMeters
	dLat := toDeg(angular)

	box := Box{
		MinLat: center.Latitude - dLat,
		MaxLat: center.Latitude + dLat,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 || angular >= math.Pi/2 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		box.FullLongitude = true
		return box
	}

	ratio := math.Sin(angular) / math.Cos(toRad(center.Latitude))
	if ratio >= 1 {
		box.FullLongitude = true
		return box
	}
	dLon := toDeg(math.Asin(ratio))
	box.MinLon = center.Longitude - dLon
	box.MaxLon = center.Longitude + dLon
	if box.MaxLon-box.MinLon >= 360 {
		box.FullLongitude = true
	}
	return box
}
