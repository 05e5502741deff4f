package locate

import (
	"math"
	"time"

	"github.com/meridian-geo/meridian/internal/geomath"
)

// DataAccuracy classifies how precise a query or result is. Values are
// upper bounds in meters, so better accuracy compares as smaller.
type DataAccuracy float64

const (
	// AccuracyHigh is street level precision, typically Wi-Fi based.
	AccuracyHigh DataAccuracy = 500.0

	// AccuracyMedium is city level precision, typically cell based.
	AccuracyMedium DataAccuracy = 40000.0

	// AccuracyLow is region level precision, from large cells, cell
	// areas or GeoIP.
	AccuracyLow DataAccuracy = DataAccuracy(geomath.EarthCircumference / 2)

	// AccuracyNone means no location precision at all.
	AccuracyNone DataAccuracy = DataAccuracy(math.MaxFloat64)
)

// AccuracyFromMeters maps a radius in meters onto its accuracy class.
func AccuracyFromMeters(meters float64) DataAccuracy {
	switch {
	case meters <= float64(AccuracyHigh):
		return AccuracyHigh
	case meters <= float64(AccuracyMedium):
		return AccuracyMedium
	case meters <= float64(AccuracyLow):
		return AccuracyLow
	}
	return AccuracyNone
}

func (a DataAccuracy) String() string {
	switch a {
	case AccuracyHigh:
		return "high"
	case AccuracyMedium:
		return "medium"
	case AccuracyLow:
		return "low"
	}
	return "none"
}

// DataSource identifies where a result came from. The names are used
// as metric label values.
type DataSource string

const (
	// SourceInternal is our own crowd-sourced station data.
	SourceInternal DataSource = "internal"

	// SourceFallback is the external fallback web service.
	SourceFallback DataSource = "fallback"

	// SourceGeoIP is the GeoIP database.
	SourceGeoIP DataSource = "geoip"
)

const (
	// MinWifisInQuery is the minimum number of unique valid Wi-Fi
	// networks required before Wi-Fi data is used at all. Queries with
	// fewer networks could be used to track individual access points.
	MinWifisInQuery = 2

	// maxWifisInCluster caps how many access points contribute to a
	// single aggregate position.
	maxWifisInCluster = 5

	// stationStaleAge is how long a stored station fix stays usable
	// without being re-observed.
	stationStaleAge = 365 * 24 * time.Hour
)
