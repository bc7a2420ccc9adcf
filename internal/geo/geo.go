// Package geo wraps paulmach/orb with the handful of helpers the network
// assembler needs: decimal-degree points, Haversine distance, and a
// centroid/spread check for unifying stations reported with slightly
// different coordinates across line documents.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a WGS84 (lat, lng) pair. It is converted to an orb.Point, which
// is (lng, lat) order, only inside this package when a distance is taken;
// NewPoint builds one with its range checked.
type Point struct {
	Lat float64
	Lng float64
}

// NewPoint builds a Point, validating the coordinate is in range.
func NewPoint(lat, lng float64) (Point, bool) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// DistanceMeters returns the Haversine great-circle distance between two
// points, in meters.
func DistanceMeters(a, b Point) float64 {
	return geo.Distance(a.orb(), b.orb())
}

// DistanceKm is DistanceMeters scaled to kilometers.
func DistanceKm(a, b Point) float64 {
	return DistanceMeters(a, b) / 1000.0
}

// Centroid returns the arithmetic mean of a set of points. An empty slice
// yields NaN coordinates; callers are expected to have already checked
// length.
func Centroid(points []Point) Point {
	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	n := float64(len(points))
	return Point{Lat: sumLat / n, Lng: sumLng / n}
}

// MaxSpreadMeters returns the largest distance from any point in the set to
// the given center.
func MaxSpreadMeters(points []Point, center Point) float64 {
	max := 0.0
	for _, p := range points {
		if d := DistanceMeters(p, center); d > max {
			max = d
		}
	}
	return max
}

// WithinMeters reports whether every point in the set lies within radius
// meters of the centroid of the set.
func WithinMeters(points []Point, radius float64) bool {
	if len(points) == 0 {
		return true
	}
	center := Centroid(points)
	return MaxSpreadMeters(points, center) <= radius
}

// MinutesAtSpeed converts a distance in kilometers to a whole number of
// minutes of travel at the given speed (km/h), rounded up and floored at 1.
func MinutesAtSpeed(km, kmh float64) int {
	if kmh <= 0 {
		return 1
	}
	minutes := int(math.Ceil(km / kmh * 60.0))
	if minutes < 1 {
		return 1
	}
	return minutes
}
