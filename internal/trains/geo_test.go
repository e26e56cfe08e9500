package trains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMiles(t *testing.T) {
	assert.Zero(t, haversineMiles(41.88, -87.63, 41.88, -87.63))

	// One degree of latitude is about 69.1 miles.
	assert.InDelta(t, 69.09, haversineMiles(41, -87, 42, -87), 0.05)

	// A and B of the reference scenario are a few miles apart.
	d := haversineMiles(41.88, -87.63, 41.90, -87.70)
	assert.InDelta(t, 3.86, d, 0.02)
}

func TestInitialBearing(t *testing.T) {
	assert.InDelta(t, 0, initialBearing(41, -87, 42, -87), 1e-9)
	assert.InDelta(t, 180, initialBearing(42, -87, 41, -87), 1e-9)
	assert.InDelta(t, 90, initialBearing(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 270, initialBearing(0, 1, 0, 0), 1e-9)

	b := initialBearing(41.88, -87.63, 41.90, -87.70)
	assert.True(t, b >= 0 && b < 360)
	assert.InDelta(t, 290, b, 2)
}

func TestAngularDifferenceWraps(t *testing.T) {
	assert.InDelta(t, 20, angularDifference(350, 10), 1e-9)
	assert.InDelta(t, 20, angularDifference(10, 350), 1e-9)
	assert.InDelta(t, 180, angularDifference(0, 180), 1e-9)
	assert.InDelta(t, 0, angularDifference(360, 0), 1e-9)
	assert.InDelta(t, 45, angularDifference(-30, 15), 1e-9)
}

func TestWithinBearingBoundary(t *testing.T) {
	assert.True(t, withinBearing(90, 135))
	assert.True(t, withinBearing(90, 45))
	assert.False(t, withinBearing(90, 135.0001))
	assert.False(t, withinBearing(90, 44.9999))

	// Across north.
	assert.True(t, withinBearing(350, 35))
	assert.False(t, withinBearing(350, 35.0001))
}
