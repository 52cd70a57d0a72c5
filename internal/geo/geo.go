package geo

import (
	"math"

	"github.com/shelfsight/shelfsight-backend/internal/types"
)

const earthRadiusMeters = 6371000.0

// ValidateCoordinates rejects out-of-range points before any query is
// issued. Violations are permanent errors, never retried.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return types.NewValidationError("latitude must be within [-90, 90]", map[string]any{"latitude": lat})
	}
	if lon < -180 || lon > 180 {
		return types.NewValidationError("longitude must be within [-180, 180]", map[string]any{"longitude": lon})
	}
	return nil
}

func ValidateRadius(radiusMeters float64) error {
	if radiusMeters <= 0 {
		return types.NewValidationError("radius must be positive", map[string]any{"radius_meters": radiusMeters})
	}
	return nil
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BoundingBox returns a lat/lon envelope that contains the circle of
// radiusMeters around the point, used as a cheap SQL prefilter before
// the exact haversine check.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusMeters / earthRadiusMeters * 180 / math.Pi
	minLat = lat - dLat
	maxLat = lat + dLat

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-6 {
		// polar query; the longitude band degenerates to the full range
		return minLat, maxLat, -180, 180
	}
	dLon := dLat / cos
	minLon = lon - dLon
	maxLon = lon + dLon
	return minLat, maxLat, minLon, maxLon
}
