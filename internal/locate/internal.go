package locate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/geocode"
	"github.com/meridian-geo/meridian/internal/geomath"
	"github.com/meridian-geo/meridian/internal/storage"
)

const (
	// DefaultMaxWifiClusterKM is the default cluster diameter for
	// Wi-Fi positioning. Access points further apart than this from
	// the strongest network cannot describe a single position.
	DefaultMaxWifiClusterKM = 0.5

	// wifiMinAccuracy keeps Wi-Fi estimates from claiming better
	// precision than consumer hardware delivers.
	wifiMinAccuracy = 100.0

	// stationFixScore ranks any direct station match above GeoIP.
	stationFixScore = 1.0

	// storeTimeout bounds every station store round trip.
	storeTimeout = 2 * time.Second

	// missingSignal stands in for absent signal readings when ranking
	// stations, weaker than anything a radio can report.
	missingSignal = -255
)

// InternalPositionSource estimates positions from our own
// crowd-sourced station data: Wi-Fi clusters first, cell towers and
// cell areas second.
type InternalPositionSource struct {
	stations         storage.StationStore
	maxClusterMeters float64
	now              func() time.Time
}

// NewInternalPositionSource builds the source. A non-positive cluster
// size falls back to DefaultMaxWifiClusterKM.
func NewInternalPositionSource(stations storage.StationStore, maxClusterKM float64) *InternalPositionSource {
	if maxClusterKM <= 0 {
		maxClusterKM = DefaultMaxWifiClusterKM
	}
	return &InternalPositionSource{
		stations:         stations,
		maxClusterMeters: maxClusterKM * 1000,
		now:              time.Now,
	}
}

// Name implements Source.
func (s *InternalPositionSource) Name() DataSource {
	return SourceInternal
}

// ShouldSearch implements Source.
func (s *InternalPositionSource) ShouldSearch(q *Query, results *ResultList) bool {
	return len(q.Wifis()) > 0 || len(q.Cells()) > 0 || len(q.CellAreas()) > 0
}

// Search implements Source. Wi-Fi estimates are tried before cell
// estimates and searching stops early once the query is satisfied.
func (s *InternalPositionSource) Search(ctx context.Context, q *Query) *ResultList {
	results := NewResultList(KindPosition)
	steps := []struct {
		should bool
		search func(context.Context, *Query) Result
	}{
		{len(q.Wifis()) > 0, s.searchWifi},
		{len(q.Cells()) > 0 || len(q.CellAreas()) > 0, s.searchCell},
	}
	for _, step := range steps {
		if !step.should {
			continue
		}
		results.Add(step.search(ctx, q))
		if results.Satisfies(q) {
			break
		}
	}
	q.EmitSourceStats(SourceInternal, results.Best())
	return results
}

type wifiMember struct {
	lookup WifiLookup
	fix    storage.StationFix
}

func (s *InternalPositionSource) searchWifi(ctx context.Context, q *Query) Result {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	lookups := q.Wifis()
	macs := make([]string, len(lookups))
	for i, l := range lookups {
		macs[i] = l.MAC
	}
	fixes, err := s.stations.LoadWifis(ctx, macs)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("wifi station load failed")
		return EmptyPosition()
	}

	members := make([]wifiMember, 0, len(lookups))
	for _, l := range lookups {
		fix, ok := fixes[l.MAC]
		if !ok || !s.fresh(fix) {
			continue
		}
		members = append(members, wifiMember{lookup: l, fix: fix})
	}
	if len(members) < MinWifisInQuery {
		return EmptyPosition()
	}

	cluster := s.cluster(members)
	if len(cluster) < MinWifisInQuery {
		return EmptyPosition()
	}

	// Signal-weighted centroid. Signals are dBm, so the linear weight
	// is the received power.
	var sumW, sumLat, sumLon float64
	for _, m := range cluster {
		w := signalWeight(wifiSignal(m.lookup))
		sumW += w
		sumLat += w * m.fix.Lat
		sumLon += w * m.fix.Lon
	}
	lat := sumLat / sumW
	lon := sumLon / sumW

	var spread, weakestRadius float64
	weakest := math.MaxInt
	for _, m := range cluster {
		if d := geomath.Distance(lat, lon, m.fix.Lat, m.fix.Lon); d > spread {
			spread = d
		}
		if sig := wifiSignal(m.lookup); sig < weakest {
			weakest = sig
			weakestRadius = m.fix.Radius
		}
	}
	accuracy := math.Max(math.Max(spread, weakestRadius), wifiMinAccuracy)

	// Diminishing returns per extra network.
	var score float64
	for i := 1; i <= len(cluster); i++ {
		score += 1 / float64(i)
	}

	return NewPosition(SourceInternal, lat, lon, accuracy, score)
}

// cluster seeds on the strongest network and greedily keeps the
// nearest members within the cluster range, capped at
// maxWifisInCluster.
func (s *InternalPositionSource) cluster(members []wifiMember) []wifiMember {
	sort.SliceStable(members, func(i, j int) bool {
		return wifiSignal(members[i].lookup) > wifiSignal(members[j].lookup)
	})
	seed := members[0]

	rest := make([]wifiMember, len(members)-1)
	copy(rest, members[1:])
	dist := func(m wifiMember) float64 {
		return geomath.Distance(seed.fix.Lat, seed.fix.Lon, m.fix.Lat, m.fix.Lon)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return dist(rest[i]) < dist(rest[j])
	})

	cluster := []wifiMember{seed}
	for _, m := range rest {
		if len(cluster) == maxWifisInCluster {
			break
		}
		if dist(m) > s.maxClusterMeters {
			break
		}
		cluster = append(cluster, m)
	}
	return cluster
}

func (s *InternalPositionSource) searchCell(ctx context.Context, q *Query) Result {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if fix, ok := s.bestCellFix(ctx, q); ok {
		return NewPosition(SourceInternal, fix.Lat, fix.Lon, fix.Radius, stationFixScore)
	}
	if fix, ok := s.bestAreaFix(ctx, q); ok {
		result := NewPosition(SourceInternal, fix.Lat, fix.Lon, fix.Radius, stationFixScore)
		result.Fallback = "lacf"
		return result
	}
	return EmptyPosition()
}

func (s *InternalPositionSource) bestCellFix(ctx context.Context, q *Query) (storage.StationFix, bool) {
	cells := q.Cells()
	if len(cells) == 0 {
		return storage.StationFix{}, false
	}
	ids := make([]string, len(cells))
	for i, c := range cells {
		ids[i] = c.CellID()
	}
	fixes, err := s.stations.LoadCells(ctx, ids)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("cell station load failed")
		return storage.StationFix{}, false
	}
	ranked := make([]rankedFix, 0, len(cells))
	for i, c := range cells {
		if fix, ok := fixes[ids[i]]; ok && s.fresh(fix) {
			ranked = append(ranked, rankedFix{fix: fix, signal: c.Signal})
		}
	}
	return pickStrongest(ranked)
}

func (s *InternalPositionSource) bestAreaFix(ctx context.Context, q *Query) (storage.StationFix, bool) {
	areas := q.CellAreas()
	if len(areas) == 0 {
		return storage.StationFix{}, false
	}
	ids := make([]string, len(areas))
	for i, a := range areas {
		ids[i] = a.AreaID()
	}
	fixes, err := s.stations.LoadCellAreas(ctx, ids)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("cell area load failed")
		return storage.StationFix{}, false
	}
	ranked := make([]rankedFix, 0, len(areas))
	for i, a := range areas {
		if fix, ok := fixes[ids[i]]; ok && s.fresh(fix) {
			ranked = append(ranked, rankedFix{fix: fix, signal: a.Signal})
		}
	}
	return pickStrongest(ranked)
}

func (s *InternalPositionSource) fresh(fix storage.StationFix) bool {
	return fix.LastSeen.IsZero() || s.now().Sub(fix.LastSeen) < stationStaleAge
}

type rankedFix struct {
	fix    storage.StationFix
	signal *int
}

// pickStrongest returns the fix with the best signal, earlier entries
// winning ties so the outcome is stable.
func pickStrongest(items []rankedFix) (storage.StationFix, bool) {
	best := -1
	for i := range items {
		if best < 0 || fixSignal(items[i].signal) > fixSignal(items[best].signal) {
			best = i
		}
	}
	if best < 0 {
		return storage.StationFix{}, false
	}
	return items[best].fix, true
}

func fixSignal(signal *int) int {
	if signal == nil {
		return missingSignal
	}
	return *signal
}

func wifiSignal(l WifiLookup) int {
	if l.Signal == nil {
		return -100
	}
	return *l.Signal
}

func signalWeight(signal int) float64 {
	return math.Pow(10, float64(signal)/10)
}

// InternalRegionSource resolves the region a query originates in from
// cell data: a stored tower position when we have one, the tower MCCs
// otherwise.
type InternalRegionSource struct {
	stations storage.StationStore
	geocoder *geocode.Geocoder
	now      func() time.Time
}

// NewInternalRegionSource builds the source.
func NewInternalRegionSource(stations storage.StationStore, geocoder *geocode.Geocoder) *InternalRegionSource {
	return &InternalRegionSource{stations: stations, geocoder: geocoder, now: time.Now}
}

// Name implements Source.
func (s *InternalRegionSource) Name() DataSource {
	return SourceInternal
}

// ShouldSearch implements Source.
func (s *InternalRegionSource) ShouldSearch(q *Query, results *ResultList) bool {
	return len(q.Cells()) > 0 || len(q.CellAreas()) > 0
}

// Search implements Source.
func (s *InternalRegionSource) Search(ctx context.Context, q *Query) *ResultList {
	results := NewResultList(KindRegion)
	if len(q.Cells()) > 0 || len(q.CellAreas()) > 0 {
		results.Add(s.searchRegion(ctx, q))
		q.EmitSourceStats(SourceInternal, results.Best())
	} else {
		results.Add(EmptyRegion())
	}
	return results
}

func (s *InternalRegionSource) searchRegion(ctx context.Context, q *Query) Result {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if result, ok := s.regionFromCellFix(ctx, q); ok {
		return result
	}
	return s.regionFromMCC(q)
}

// regionFromCellFix resolves the region via a stored position of one
// of the query's towers.
func (s *InternalRegionSource) regionFromCellFix(ctx context.Context, q *Query) (Result, bool) {
	cells := q.Cells()
	if len(cells) == 0 {
		return Result{}, false
	}
	ids := make([]string, len(cells))
	for i, c := range cells {
		ids[i] = c.CellID()
	}
	fixes, err := s.stations.LoadCells(ctx, ids)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("cell station load failed")
		return Result{}, false
	}

	best := -1
	for i, c := range cells {
		fix, ok := fixes[ids[i]]
		if !ok || !s.fresh(fix) {
			continue
		}
		if best < 0 || fixSignal(c.Signal) > fixSignal(cells[best].Signal) {
			best = i
		}
	}
	if best < 0 {
		return Result{}, false
	}

	fix := fixes[ids[best]]
	code := s.geocoder.RegionForCell(fix.Lat, fix.Lon, cells[best].MCC)
	if code == "" {
		return Result{}, false
	}
	return s.regionResult(code, q), true
}

// regionFromMCC resolves the region from the tower MCCs alone. Only
// an unambiguous answer counts: a single candidate region across all
// networks.
func (s *InternalRegionSource) regionFromMCC(q *Query) Result {
	candidates := make(map[string]geocode.Region)
	for _, mcc := range s.queryMCCs(q) {
		for _, region := range s.geocoder.RegionsForMCCInfo(mcc) {
			candidates[region.Code] = region
		}
	}
	if len(candidates) != 1 {
		return EmptyRegion()
	}
	for code := range candidates {
		return s.regionResult(code, q)
	}
	return EmptyRegion()
}

func (s *InternalRegionSource) regionResult(code string, q *Query) Result {
	radius, ok := s.geocoder.RegionMaxRadius(code)
	if !ok {
		radius = float64(AccuracyLow)
	}
	score := float64(s.supporters(code, q))
	return NewRegion(SourceInternal, code, s.geocoder.RegionName(code), radius, score)
}

// supporters counts the query networks whose MCC is consistent with
// the region, at least one. A tower and its own area lookup are one
// network.
func (s *InternalRegionSource) supporters(code string, q *Query) int {
	match := func(mcc int) bool {
		for _, candidate := range s.geocoder.RegionsForMCC(mcc) {
			if candidate == code {
				return true
			}
		}
		return false
	}
	counted := make(map[string]bool)
	count := 0
	for _, c := range q.Cells() {
		if match(c.MCC) {
			count++
			counted[c.AreaID()] = true
		}
	}
	for _, a := range q.CellAreas() {
		if !counted[a.AreaID()] && match(a.MCC) {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

func (s *InternalRegionSource) queryMCCs(q *Query) []int {
	seen := make(map[int]bool)
	var mccs []int
	add := func(mcc int) {
		if !seen[mcc] {
			seen[mcc] = true
			mccs = append(mccs, mcc)
		}
	}
	for _, c := range q.Cells() {
		add(c.MCC)
	}
	for _, a := range q.CellAreas() {
		add(a.MCC)
	}
	return mccs
}

func (s *InternalRegionSource) fresh(fix storage.StationFix) bool {
	return fix.LastSeen.IsZero() || s.now().Sub(fix.LastSeen) < stationStaleAge
}
