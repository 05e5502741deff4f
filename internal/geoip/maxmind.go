package geoip

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// cityRecord mirrors the parts of the MaxMind City schema we decode.
type cityRecord struct {
	City struct {
		GeoNameID uint64            `maxminddb:"geoname_id"`
		Names     map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"subdivisions"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// Reader is a hot swappable MaxMind database handle. Reload replaces
// the database in place so long running processes can pick up fresh
// data files without a restart.
type Reader struct {
	path    string
	regions Regions
	db      atomic.Pointer[maxminddb.Reader]
}

// Open memory maps the database at path. The regions source bounds
// lookup radii and resolves region names.
func Open(path string, regions Regions) (*Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	r := &Reader{path: path, regions: regions}
	r.db.Store(db)
	return r, nil
}

// Reload opens the database file again and swaps it in atomically.
// The old handle stays open for a grace period so in-flight lookups
// finish against valid memory.
func (r *Reader) Reload() error {
	db, err := maxminddb.Open(r.path)
	if err != nil {
		return fmt.Errorf("reload geoip database %s: %w", r.path, err)
	}
	old := r.db.Swap(db)
	if old != nil {
		time.AfterFunc(time.Minute, func() { _ = old.Close() })
	}
	return nil
}

// Lookup resolves an IP address to a record, or nil when the address
// is not covered, malformed, or the record lacks usable coordinates.
func (r *Reader) Lookup(ip string) *Record {
	db := r.db.Load()
	if db == nil {
		return nil
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil
	}
	offset, err := db.LookupOffset(addr)
	if err != nil || offset == maxminddb.NotFound {
		return nil
	}
	var rec cityRecord
	if err := db.Decode(offset, &rec); err != nil {
		return nil
	}
	return r.buildRecord(rec)
}

func (r *Reader) buildRecord(rec cityRecord) *Record {
	code := rec.Country.ISOCode
	if alias, ok := aliasMap[code]; ok {
		code = alias
	}
	lat := rec.Location.Latitude
	lon := rec.Location.Longitude
	if code == "" || lat == 0 || lon == 0 {
		return nil
	}
	name := r.regions.RegionName(code)
	if name == "" {
		return nil
	}

	regionRadius, ok := r.regions.RegionMaxRadius(code)
	if !ok {
		regionRadius = defaultRegionRadius
	}
	city := rec.City.GeoNameID != 0 || len(rec.City.Names) > 0
	radius := regionRadius
	if len(rec.Subdivisions) > 0 {
		radius = min(radius, subdivisionRadius)
	}
	if city {
		radius = min(radius, cityRadius)
	}

	return &Record{
		Latitude:     lat,
		Longitude:    lon,
		Radius:       radius,
		RegionRadius: regionRadius,
		RegionCode:   code,
		RegionName:   name,
		City:         city,
		Score:        recordScore,
	}
}

// Ping reports whether the database is loaded and structurally
// readable. A miss for the probe address still counts as healthy.
func (r *Reader) Ping() bool {
	db := r.db.Load()
	if db == nil {
		return false
	}
	_, err := db.LookupOffset(net.IPv4(127, 0, 0, 1))
	return err == nil
}

// AgeInDays is the age of the database build.
func (r *Reader) AgeInDays() int {
	db := r.db.Load()
	if db == nil {
		return -1
	}
	built := time.Unix(int64(db.Metadata.BuildEpoch), 0)
	return int(time.Since(built).Hours() / 24)
}

// Close releases the database. Further lookups miss.
func (r *Reader) Close() error {
	if db := r.db.Swap(nil); db != nil {
		return db.Close()
	}
	return nil
}
