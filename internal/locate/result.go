package locate

import "math"

// ResultKind distinguishes position estimates from region estimates.
type ResultKind int

const (
	KindPosition ResultKind = iota
	KindRegion
)

func (k ResultKind) String() string {
	if k == KindRegion {
		return "region"
	}
	return "position"
}

// Result is a single location estimate produced by a source. Position
// results carry coordinates and an accuracy radius, region results a
// region code and name. A zero accuracy or empty region code marks the
// result as empty.
type Result struct {
	Kind   ResultKind
	Source DataSource

	// Position fields.
	Lat      float64
	Lon      float64
	Accuracy float64

	// Region fields. Position results may also carry them when the
	// source knows the region, for example GeoIP.
	RegionCode string
	RegionName string

	// Score ranks results of the same kind against each other. Higher
	// scores win.
	Score float64

	// Fallback names the query fallback that produced this result,
	// "lacf" or "ipf", and is echoed in responses.
	Fallback string
}

// NewPosition builds a non-empty position result. Coordinates are
// rounded to seven decimal places, about centimeter precision.
func NewPosition(source DataSource, lat, lon, accuracy, score float64) Result {
	return Result{
		Kind:     KindPosition,
		Source:   source,
		Lat:      roundDegrees(lat),
		Lon:      roundDegrees(lon),
		Accuracy: accuracy,
		Score:    score,
	}
}

// NewRegion builds a non-empty region result. The accuracy is the
// region radius in meters.
func NewRegion(source DataSource, code, name string, accuracy, score float64) Result {
	return Result{
		Kind:       KindRegion,
		Source:     source,
		RegionCode: code,
		RegionName: name,
		Accuracy:   accuracy,
		Score:      score,
	}
}

// EmptyPosition is the no-answer position result.
func EmptyPosition() Result {
	return Result{Kind: KindPosition}
}

// EmptyRegion is the no-answer region result.
func EmptyRegion() Result {
	return Result{Kind: KindRegion}
}

// Empty reports whether the result carries no usable answer.
func (r Result) Empty() bool {
	if r.Kind == KindRegion {
		return r.RegionCode == ""
	}
	return r.Accuracy <= 0
}

// DataAccuracy classifies the result's precision. Empty results have
// none. Region results are at best region precision.
func (r Result) DataAccuracy() DataAccuracy {
	if r.Empty() {
		return AccuracyNone
	}
	if r.Kind == KindRegion {
		return AccuracyLow
	}
	return AccuracyFromMeters(r.Accuracy)
}

func roundDegrees(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}

// ResultList accumulates the results of one search in insertion order.
type ResultList struct {
	kind  ResultKind
	items []Result
}

// NewResultList returns an empty list for results of the given kind.
func NewResultList(kind ResultKind) *ResultList {
	return &ResultList{kind: kind}
}

// Kind returns the kind of results the list holds.
func (l *ResultList) Kind() ResultKind {
	return l.kind
}

// Add appends a result, empty or not.
func (l *ResultList) Add(results ...Result) {
	l.items = append(l.items, results...)
}

// Extend appends every result of another list.
func (l *ResultList) Extend(other *ResultList) {
	if other != nil {
		l.items = append(l.items, other.items...)
	}
}

// Len counts all accumulated results, including empty ones.
func (l *ResultList) Len() int {
	return len(l.items)
}

// Results returns the accumulated results in insertion order.
func (l *ResultList) Results() []Result {
	return l.items
}

// Best picks the non-empty result with the highest score, earliest
// insertion winning ties. An empty result of the list's kind is
// returned when nothing qualifies.
func (l *ResultList) Best() Result {
	best := -1
	for i, item := range l.items {
		if item.Empty() {
			continue
		}
		if best < 0 || item.Score > l.items[best].Score {
			best = i
		}
	}
	if best < 0 {
		return emptyResult(l.kind)
	}
	return l.items[best]
}

func emptyResult(kind ResultKind) Result {
	return Result{Kind: kind}
}

// Satisfies reports whether the best result so far is at least as
// accurate as the query expects.
func (l *ResultList) Satisfies(q *Query) bool {
	return l.Best().DataAccuracy() <= q.ExpectedAccuracy()
}
