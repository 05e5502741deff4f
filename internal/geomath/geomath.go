// Package geomath provides great-circle helpers shared by the locate
// pipeline and the region geocoder.
package geomath

import "math"

const (
	// EarthRadius is the approximate mean earth radius in meters, matching
	// the value the crowd-sourced station data was aggregated with.
	EarthRadius = 6371000.0

	// EarthCircumference is the approximate earth circumference in meters.
	EarthCircumference = 40000000.0
)

// Distance returns the great-circle distance in meters between two
// positions, computed with the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// LatitudeDelta returns the latitude change in degrees for a north/south
// movement of the given distance in meters.
func LatitudeDelta(meters float64) float64 {
	return degrees(meters / EarthRadius)
}

// LongitudeDelta returns the longitude change in degrees for an east/west
// movement of the given distance in meters at the given latitude.
func LongitudeDelta(meters, lat float64) float64 {
	return degrees(meters / (EarthRadius * math.Cos(radians(lat))))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
