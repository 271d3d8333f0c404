package proximity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var dhaka = Point{Lat: 23.7104, Lng: 90.4074}

func TestDistance(t *testing.T) {
	t.Run("distance between a point and itself is 0", func(t *testing.T) {
		assert.Equal(t, 0.0, Distance(dhaka, dhaka))
	})

	t.Run("distance is symmetric", func(t *testing.T) {
		other := Point{Lat: 23.8103, Lng: 90.4125}
		assert.Equal(t, Distance(dhaka, other), Distance(other, dhaka))
	})

	t.Run("one degree along the equator", func(t *testing.T) {
		d := Distance(Point{0, 0}, Point{0, 1})
		assert.InDelta(t, EarthRadiusKm*math.Pi/180, d, 1e-9)
	})

	t.Run("antipodal points", func(t *testing.T) {
		d := Distance(Point{0, 0}, Point{0, 180})
		assert.InDelta(t, EarthRadiusKm*math.Pi, d, 1e-6)
	})

	t.Run("near-antipodal pairs stay finite", func(t *testing.T) {
		d := Distance(Point{Lat: -88.911, Lng: 10.01}, Point{Lat: 88.911, Lng: -169.99})
		assert.False(t, math.IsNaN(d))
		assert.InDelta(t, MaxRadiusKm, d, 1e-3)

		for lat := -90.0; lat <= 90; lat += 0.137 {
			for lng := -180.0; lng <= 0; lng += 7.31 {
				a := Point{Lat: lat, Lng: lng}
				b := Point{Lat: -lat, Lng: lng + 180}
				d := Distance(a, b)
				if !assert.False(t, math.IsNaN(d), "%v -> %v", a, b) {
					return
				}
				assert.InDelta(t, MaxRadiusKm, d, 1e-3)
			}
		}
	})

	t.Run("known city pair", func(t *testing.T) {
		// Dhaka -> Chittagong is roughly 206 km as the crow flies
		d := Distance(dhaka, Point{Lat: 22.3569, Lng: 91.7832})
		assert.InDelta(t, 206, d, 5)
	})
}

func TestPointValid(t *testing.T) {
	assert.True(t, dhaka.Valid())
	assert.True(t, Point{-90, 180}.Valid())
	assert.False(t, Point{91, 0}.Valid())
	assert.False(t, Point{0, -181}.Valid())
	assert.False(t, Point{math.NaN(), 0}.Valid())
	assert.False(t, Point{0, math.Inf(1)}.Valid())
}

func TestBoundingBox(t *testing.T) {
	radius := 10.0
	box := BoundingBox(dhaka, radius)
	assert.False(t, box.AllLongitudes)

	angular := radius / EarthRadiusKm * 180 / math.Pi
	edges := []Point{
		{dhaka.Lat + angular, dhaka.Lng},
		{dhaka.Lat - angular, dhaka.Lng},
	}
	for _, p := range edges {
		assert.True(t, box.Contains(p), "expected %v inside %+v", p, box)
	}

	// Points due east/west at exactly the radius
	for _, sign := range []float64{1, -1} {
		lo, hi := 0.0, 1.0
		for i := 0; i < 60; i++ {
			mid := (lo + hi) / 2
			if Distance(dhaka, Point{dhaka.Lat, dhaka.Lng + sign*mid}) < radius {
				lo = mid
			} else {
				hi = mid
			}
		}
		p := Point{dhaka.Lat, dhaka.Lng + sign*lo}
		assert.True(t, box.Contains(p), "expected %v inside %+v", p, box)
	}

	assert.False(t, box.Contains(Point{dhaka.Lat + 1, dhaka.Lng}))
	assert.False(t, box.Contains(Point{dhaka.Lat, dhaka.Lng + 1}))
}

func TestBoundingBoxDegenerates(t *testing.T) {
	nearPole := BoundingBox(Point{Lat: 89.99, Lng: 0}, 10)
	assert.True(t, nearPole.AllLongitudes)
	assert.Equal(t, 90.0, nearPole.MaxLat)

	antimeridian := BoundingBox(Point{Lat: 0, Lng: 179.99}, 10)
	assert.True(t, antimeridian.AllLongitudes)
	assert.True(t, antimeridian.Contains(Point{Lat: 0, Lng: -179.99}))
}
