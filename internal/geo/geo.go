package geo

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// kmToMiles converts kilometres to statute miles.
const kmToMiles = 0.621371

// DistanceMiles returns the haversine great-circle distance in miles between
// two coordinates given in decimal degrees.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c * kmToMiles
}

// IsWithinOneMile reports whether the two coordinates are at most one mile
// apart. The boundary is inclusive: exactly one mile counts as within. NaN
// inputs propagate through the distance and the comparison yields false.
func IsWithinOneMile(lat1, lon1, lat2, lon2 float64) bool {
	return DistanceMiles(lat1, lon1, lat2, lon2) <= 1
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
