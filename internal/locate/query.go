package locate

import (
	"fmt"
	"net"

	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/storage"
)

// QueryType names the API a query arrived on. It decides accuracy
// expectations and metric routing.
type QueryType string

const (
	// TypeNone marks internal queries that never report metrics.
	TypeNone QueryType = ""
	// TypeLocate is the position API.
	TypeLocate QueryType = "locate"
	// TypeRegion is the region API.
	TypeRegion QueryType = "region"
)

// Params carries everything needed to build a Query. Raw observations
// are validated and de-duplicated during construction.
type Params struct {
	APIKey   storage.APIKey
	Type     QueryType
	IP       string
	GeoIP    geoip.Database
	Fallback *FallbackObservation
	Cells    []CellObservation
	Wifis    []WifiObservation
}

// Query is one canonicalized location request. All data is validated;
// sources can consume it without further checks.
type Query struct {
	apiKey  storage.APIKey
	apiType QueryType

	ip     string
	geoip  *geoip.Record
	region string

	fallback  FallbackLookup
	cells     []CellLookup
	cellAreas []CellAreaLookup
	wifis     []WifiLookup

	// rawWifiCount is the pre-validation network count, used for
	// query metrics.
	rawWifiCount int
}

// NewQuery canonicalizes raw request data into a Query. The GeoIP
// lookup for the client IP happens here, once.
func NewQuery(p Params) (*Query, error) {
	switch p.Type {
	case TypeNone, TypeLocate, TypeRegion:
	default:
		return nil, fmt.Errorf("locate: invalid api type %q", p.Type)
	}
	q := &Query{
		apiKey:       p.APIKey,
		apiType:      p.Type,
		fallback:     NewFallbackLookup(p.Fallback),
		rawWifiCount: len(p.Wifis),
	}
	if p.IP != "" {
		if addr := net.ParseIP(p.IP); addr != nil {
			q.ip = addr.String()
			if p.GeoIP != nil {
				if record := p.GeoIP.Lookup(q.ip); record != nil {
					q.geoip = record
					q.region = record.RegionCode
				}
			}
		}
	}
	q.cellAreas, q.cells = filterCells(p.Cells)
	q.wifis = filterWifis(p.Wifis)
	return q, nil
}

// APIKey returns the key the query runs under.
func (q *Query) APIKey() storage.APIKey {
	return q.apiKey
}

// Type returns the API the query arrived on.
func (q *Query) Type() QueryType {
	return q.apiType
}

// IP returns the canonical client IP, empty when absent or malformed.
func (q *Query) IP() string {
	return q.ip
}

// GeoIP returns the record for the client IP, nil on a miss.
func (q *Query) GeoIP() *geoip.Record {
	return q.geoip
}

// Region returns the GeoIP derived region hint, empty when unknown.
func (q *Query) Region() string {
	return q.region
}

// Fallback returns the query's fallback toggles.
func (q *Query) Fallback() FallbackLookup {
	return q.fallback
}

// Cells returns the validated cell lookups.
func (q *Query) Cells() []CellLookup {
	return q.cells
}

// CellAreas returns the validated area lookups, but only when the
// query allows cell area estimates.
func (q *Query) CellAreas() []CellAreaLookup {
	if !q.fallback.LACF {
		return nil
	}
	return q.cellAreas
}

// Wifis returns the validated Wi-Fi lookups. Below the privacy
// minimum this is empty.
func (q *Query) Wifis() []WifiLookup {
	return q.wifis
}

// ExpectedAccuracy is the best accuracy class the query's data can
// support. Sources stop searching once a result reaches it.
func (q *Query) ExpectedAccuracy() DataAccuracy {
	best := AccuracyNone
	consider := func(a DataAccuracy) {
		if a < best {
			best = a
		}
	}
	if len(q.wifis) > 0 && q.apiType != TypeRegion {
		// Wi-Fi data does not help region queries.
		consider(AccuracyHigh)
	}
	if len(q.cells) > 0 {
		if q.apiType == TypeRegion {
			consider(AccuracyLow)
		} else {
			consider(AccuracyMedium)
		}
	}
	if len(q.CellAreas()) > 0 || (q.ip != "" && q.fallback.IPF) {
		consider(AccuracyLow)
	}
	return best
}

// InternalQuery is the canonical internal form of a query, used for
// forwarding and caching.
type InternalQuery struct {
	Cell      []CellLookup   `json:"cell,omitempty"`
	Wifi      []WifiLookup   `json:"wifi,omitempty"`
	Fallbacks FallbackLookup `json:"fallbacks"`
}

// InternalQuery returns the canonical internal form of the query.
func (q *Query) InternalQuery() InternalQuery {
	return InternalQuery{Cell: q.cells, Wifi: q.wifis, Fallbacks: q.fallback}
}

// Status classifies a result against this query for metrics: a hit
// reaches the expected accuracy, everything else is a miss. A query
// without usable data expects nothing, so an empty result counts as
// a hit for it.
func (q *Query) Status(result Result) string {
	if result.DataAccuracy() <= q.ExpectedAccuracy() {
		return "hit"
	}
	return "miss"
}

// CollectMetrics reports whether this query contributes to locate
// metrics. Keys opt in per API, and queries that cannot possibly
// produce a result stay out of the stats.
func (q *Query) CollectMetrics() bool {
	return q.apiKey.Valid() &&
		q.apiKey.ShouldLog(string(q.apiType)) &&
		q.ExpectedAccuracy() != AccuracyNone
}

// EmitQueryStats counts the query itself, bucketed by the data it
// carried. The Wi-Fi bucket intentionally uses the raw network count:
// queries below the privacy minimum still arrive with Wi-Fi data.
func (q *Query) EmitQueryStats() {
	if !q.CollectMetrics() {
		return
	}
	metrics.LocateQueryTotal.WithLabelValues(
		string(q.apiType),
		q.apiKey.Name,
		q.metricRegion(),
		boolLabel(q.ip != ""),
		countBucket(len(q.cells)),
		countBucket(q.rawWifiCount),
	).Inc()
}

// EmitResultStats counts the final result of a query.
func (q *Query) EmitResultStats(result Result) {
	if !q.CollectMetrics() {
		return
	}
	status := q.Status(result)
	source := "none"
	if status == "hit" {
		source = string(result.Source)
	}
	metrics.LocateResultTotal.WithLabelValues(
		string(q.apiType),
		q.apiKey.Name,
		q.metricRegion(),
		boolLabel(q.apiKey.AllowFallback),
		q.ExpectedAccuracy().String(),
		status,
		source,
	).Inc()
}

// EmitSourceStats counts the outcome of a single source.
func (q *Query) EmitSourceStats(source DataSource, result Result) {
	if !q.CollectMetrics() {
		return
	}
	metrics.LocateSourceTotal.WithLabelValues(
		string(q.apiType),
		q.apiKey.Name,
		q.metricRegion(),
		string(source),
		q.ExpectedAccuracy().String(),
		q.Status(result),
	).Inc()
}

func (q *Query) metricRegion() string {
	if q.region == "" {
		return "none"
	}
	return q.region
}

func countBucket(n int) string {
	switch {
	case n <= 0:
		return "none"
	case n == 1:
		return "one"
	}
	return "many"
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
