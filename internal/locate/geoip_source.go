package locate

import "context"

// GeoIPSource answers queries from the GeoIP record resolved at query
// construction time. It never does I/O of its own.
type GeoIPSource struct {
	kind ResultKind
}

// NewGeoIPPositionSource builds the GeoIP source for position queries.
func NewGeoIPPositionSource() *GeoIPSource {
	return &GeoIPSource{kind: KindPosition}
}

// NewGeoIPRegionSource builds the GeoIP source for region queries.
func NewGeoIPRegionSource() *GeoIPSource {
	return &GeoIPSource{kind: KindRegion}
}

// Name implements Source.
func (s *GeoIPSource) Name() DataSource {
	return SourceGeoIP
}

// ShouldSearch implements Source. Clients can opt out of IP based
// estimates per query.
func (s *GeoIPSource) ShouldSearch(q *Query, results *ResultList) bool {
	return q.Fallback().IPF
}

// Search implements Source. Source stats count every query that
// carried an IP, whether or not the database knew it.
func (s *GeoIPSource) Search(ctx context.Context, q *Query) *ResultList {
	results := NewResultList(s.kind)
	result := emptyResult(s.kind)
	if record := q.GeoIP(); record != nil {
		if s.kind == KindRegion {
			result = NewRegion(SourceGeoIP, record.RegionCode, record.RegionName, record.RegionRadius, record.Score)
		} else {
			result = NewPosition(SourceGeoIP, record.Latitude, record.Longitude, record.Radius, record.Score)
			result.RegionCode = record.RegionCode
			result.RegionName = record.RegionName
		}
		result.Fallback = "ipf"
	}
	results.Add(result)
	if q.IP() != "" {
		q.EmitSourceStats(SourceGeoIP, result)
	}
	return results
}
