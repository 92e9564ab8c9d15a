package geocode

import "math"

const earthRadiusKm = 6371

// DistanceKm is the great-circle (haversine) distance between two points.
func DistanceKm(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * (math.Pi / 180)
	dLng := (b.Lng - a.Lng) * (math.Pi / 180)
	lat1 := a.Lat * (math.Pi / 180)
	lat2 := b.Lat * (math.Pi / 180)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
