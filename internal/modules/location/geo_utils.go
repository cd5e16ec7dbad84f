// README: Pure geographic helpers: haversine distance, ETA and distance sorting.
package location

import (
	"math"

	"speedyfood/internal/types"
)

const earthRadiusKm = 6371.0

// DefaultETAMinutesPerKm is the fixed average-speed proxy (about 20 km/h).
const DefaultETAMinutesPerKm = 3.0

// Distance returns the great-circle distance between a and b in kilometres,
// rounded to two decimals.
func Distance(a, b types.Point) float64 {
	return round2(haversineKm(a.Lat, a.Lng, b.Lat, b.Lng))
}

// ETAMinutes converts a straight-line distance into whole minutes.
// A non-positive perKm falls back to DefaultETAMinutesPerKm.
func ETAMinutes(km, perKm float64) int {
	if perKm <= 0 {
		perKm = DefaultETAMinutesPerKm
	}
	return int(math.Floor(km * perKm))
}

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SortByDistance is a stable insertion sort (fine for small N) on any slice
// where each element exposes a distance and a tie-break key.
func SortByDistance[T any](items []T, dist func(T) float64, key func(T) string) {
	less := func(a, b T) bool {
		da, db := dist(a), dist(b)
		if da != db {
			return da < db
		}
		return key(a) < key(b)
	}
	for i := 1; i < len(items); i++ {
		cur := items[i]
		j := i - 1
		for j >= 0 && less(cur, items[j]) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = cur
	}
}
