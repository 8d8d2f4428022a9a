package domain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const (
	// KilometersPerMile is the fixed statute mile conversion used for all
	// distance thresholds.
	KilometersPerMile = 1.60934

	// FeetPerMeter converts SondeHub altitudes to feet at ingestion.
	FeetPerMeter = 3.28084
)

// Point is a WGS-84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinates are finite and within range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) orb() orb.Point {
	// orb uses lon,lat order.
	return orb.Point{p.Lon, p.Lat}
}

// Distance returns the great-circle distance between a and b in kilometres,
// using the haversine formula on a spherical earth. Results for invalid
// coordinates are undefined; validate with Point.Valid first.
func Distance(a, b Point) float64 {
	return geo.DistanceHaversine(a.orb(), b.orb()) / 1000
}

// KilometersToMiles converts kilometres to statute miles.
func KilometersToMiles(km float64) float64 {
	return km / KilometersPerMile
}

// DistanceMiles returns the great-circle distance between a and b in statute miles.
func DistanceMiles(a, b Point) float64 {
	return KilometersToMiles(Distance(a, b))
}

// MetersToFeet converts metres to feet.
func MetersToFeet(m float64) float64 {
	return m * FeetPerMeter
}
