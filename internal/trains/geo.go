package trains

import "math"

const (
	earthRadiusMiles = 3958.8

	// maxBearingDelta is inclusive.
	maxBearingDelta = 45.0
	bearingEpsilon  = 1e-9
)

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// haversineMiles is the great-circle distance between two points.
func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

// initialBearing is the compass heading from point 1 toward point 2, in [0, 360).
func initialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLon := toRadians(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	return normalizeBearing(toDegrees(math.Atan2(y, x)))
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// angularDifference is the smallest angle between two headings, in [0, 180].
func angularDifference(a, b float64) float64 {
	d := math.Abs(normalizeBearing(a) - normalizeBearing(b))
	return math.Min(d, 360-d)
}

// withinBearing reports whether two headings differ by at most 45 degrees.
// The epsilon absorbs rounding from the trigonometry, not real deviation.
func withinBearing(a, b float64) bool {
	return angularDifference(a, b) <= maxBearingDelta+bearingEpsilon
}
