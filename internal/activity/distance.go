package activity

import (
	"math"

	"example.com/heartstream/internal/domain"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two points in kilometres.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// PathDistanceKM sums the distances between consecutive waypoints.
func PathDistanceKM(waypoints []domain.Waypoint) float64 {
	total := 0.0
	for i := 1; i < len(waypoints); i++ {
		prev, cur := waypoints[i-1], waypoints[i]
		total += HaversineKM(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}
	return total
}
