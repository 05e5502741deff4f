// Package geoip answers IP address lookups from a MaxMind City
// database. Records are bounded by the region dataset's radii so a
// GeoIP estimate never claims more precision than the region allows.
package geoip

// Database looks up IP addresses.
type Database interface {
	// Lookup returns the record for an IP address, or nil when the
	// address is unknown or the database is not usable.
	Lookup(ip string) *Record

	// Ping reports whether the database is loaded and readable.
	Ping() bool

	// AgeInDays returns the age of the database build, -1 when
	// unknown.
	AgeInDays() int

	Close() error
}

// Record is a successful GeoIP lookup.
type Record struct {
	Latitude  float64
	Longitude float64

	// Radius is the position accuracy estimate in meters.
	Radius float64

	// RegionRadius is the accuracy estimate when the record is used
	// as a region answer, in meters.
	RegionRadius float64

	RegionCode string
	RegionName string

	// City is true when the record resolved to city granularity.
	City bool

	// Score ranks GeoIP results against other sources.
	Score float64
}

// Regions provides region metadata used to bound lookup radii. The
// region geocoder implements it.
type Regions interface {
	// RegionMaxRadius returns the maximum radius of the region in
	// meters. The second value is false for unknown codes.
	RegionMaxRadius(code string) (float64, bool)

	// RegionName returns the English name for a region code, or the
	// empty string for unknown codes.
	RegionName(code string) string
}

const (
	// cityRadius caps records that resolve to a city.
	cityRadius = 25000.0

	// subdivisionRadius caps records that resolve to a country
	// subdivision but not a city.
	subdivisionRadius = 200000.0

	// defaultRegionRadius is used for regions missing from the
	// dataset.
	defaultRegionRadius = 5000000.0

	// recordScore is the fixed score of GeoIP records. Below any
	// station based estimate, above nothing at all.
	recordScore = 0.9
)

// aliasMap translates ISO alpha-2 codes used by the database onto the
// codes of the region dataset.
var aliasMap = map[string]string{
	"AX": "FI",
	"PS": "XW",
	"SJ": "NO",
	"UM": "US",
}

// Null is a Database without data, used when no database file is
// configured. Lookups miss and pings fail.
type Null struct{}

func (Null) Lookup(string) *Record { return nil }
func (Null) Ping() bool            { return false }
func (Null) AgeInDays() int        { return -1 }
func (Null) Close() error          { return nil }
