// Package proximity ranks candidate records by great-circle distance from a
// requester.
package proximity

import (
	"math"
)

// EarthRadiusKm is the mean earth radius used for every distance computation.
const EarthRadiusKm = 6371.0

// MaxRadiusKm is half the earth's circumference. Every point on the globe
// lies within it.
const MaxRadiusKm = math.Pi * EarthRadiusKm

// boxPadDegrees keeps points sitting exactly on the radius inside the
// store-side prefilter despite floating point rounding.
const boxPadDegrees = 1e-9

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate pair within range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the haversine distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push h just outside [0, 1] for near-antipodal points.
	h = math.Min(math.Max(h, 0), 1)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Box is a lat/lng rectangle containing every point within some radius of a
// center. When AllLongitudes is set the longitude bounds must be ignored.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	AllLongitudes  bool
}

// BoundingBox returns the smallest lat/lng rectangle that contains the circle
// of radiusKm around center. Near the poles, or when the circle crosses the
// antimeridian, the box degenerates to a latitude band.
func BoundingBox(center Point, radiusKm float64) Box {
	angular := radiusKm / EarthRadiusKm
	dLat := toDegrees(angular) + boxPadDegrees

	box := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
	}

	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.AllLongitudes = true
		return box
	}

	ratio := math.Sin(angular) / math.Cos(toRadians(center.Lat))
	if ratio >= 1 {
		box.AllLongitudes = true
		return box
	}

	dLng := toDegrees(math.Asin(ratio)) + boxPadDegrees
	box.MinLng = center.Lng - dLng
	box.MaxLng = center.Lng + dLng
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.AllLongitudes = true
	}

	return box
}

// Contains reports whether p falls inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	return b.AllLongitudes || (p.Lng >= b.MinLng && p.Lng <= b.MaxLng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
