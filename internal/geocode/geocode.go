// Package geocode maps coordinates and mobile country codes onto
// region codes. It works from an embedded, simplified region dataset:
// polygons are deliberately coarse, and every containment test runs
// against a buffered boundary to absorb the lost coastline detail.
package geocode

import (
	"bytes"
	"compress/gzip"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"

	"github.com/meridian-geo/meridian/internal/geomath"
)

//go:embed data/regions.geojson.gz
var embeddedRegions []byte

// bufferDegrees widens every region boundary for containment tests.
const bufferDegrees = 0.5

// Region describes one entry of the region dataset.
type Region struct {
	Code   string
	Name   string
	Radius float64
}

// Geocoder resolves coordinates and mobile country codes to regions.
// It is immutable after construction and safe for concurrent use.
type Geocoder struct {
	polys map[string]orb.MultiPolygon
	radii map[string]float64
	codes []string
	tree  rtree.RTreeG[string]
}

// New loads the region dataset from path, or the embedded dataset
// when path is empty.
func New(path string) (*Geocoder, error) {
	if path == "" {
		return FromData(embeddedRegions)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region dataset %s: %w", path, err)
	}
	return FromData(raw)
}

// FromData parses a region dataset, a GeoJSON FeatureCollection that
// may be gzip compressed. Features need alpha2 and radius properties;
// regions without a known name are dropped.
func FromData(raw []byte) (*Geocoder, error) {
	if len(raw) > 1 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("region dataset: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("region dataset: %w", err)
		}
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("region dataset: %w", err)
	}

	g := &Geocoder{
		polys: make(map[string]orb.MultiPolygon, len(fc.Features)),
		radii: make(map[string]float64, len(fc.Features)),
	}
	for _, feature := range fc.Features {
		code := feature.Properties.MustString("alpha2", "")
		radius := feature.Properties.MustFloat64("radius", 0)
		if code == "" || radius <= 0 {
			return nil, fmt.Errorf("region dataset: feature missing alpha2 or radius")
		}
		if RegionName(code) == "" {
			continue
		}

		var shape orb.MultiPolygon
		switch geom := feature.Geometry.(type) {
		case orb.Polygon:
			shape = orb.MultiPolygon{geom}
		case orb.MultiPolygon:
			shape = geom
		default:
			return nil, fmt.Errorf("region dataset: region %s has geometry %T", code, geom)
		}

		g.polys[code] = shape
		g.radii[code] = radius
		g.codes = append(g.codes, code)
		for _, part := range shape {
			bound := part.Bound()
			g.tree.Insert(
				[2]float64{
					math.Max(bound.Min[0]-bufferDegrees, -180),
					math.Max(bound.Min[1]-bufferDegrees, -90),
				},
				[2]float64{
					math.Min(bound.Max[0]+bufferDegrees, 180),
					math.Min(bound.Max[1]+bufferDegrees, 90),
				},
				code,
			)
		}
	}
	sort.Strings(g.codes)
	return g, nil
}

// Region returns the region code containing the position, or the
// empty string for positions in international waters. Positions near
// several borders are resolved deterministically by boundary
// distance.
func (g *Geocoder) Region(lat, lon float64) string {
	point := orb.Point{lon, lat}

	var buffered []string
	for _, code := range g.probe(point) {
		if g.bufferedContains(code, point) {
			buffered = append(buffered, code)
		}
	}
	if len(buffered) == 0 {
		return ""
	}
	if len(buffered) == 1 {
		return buffered[0]
	}

	var precise []string
	for _, code := range buffered {
		if g.contains(code, point) {
			precise = append(precise, code)
		}
	}
	if len(precise) == 1 {
		return precise[0]
	}

	// Tie-break on distance to the region boundaries. A point inside
	// no region belongs to the nearest one, a point inside several to
	// the one whose boundary is farthest away.
	if len(precise) == 0 {
		return g.byBoundaryDistance(buffered, point, false)
	}
	return g.byBoundaryDistance(precise, point, true)
}

// AnyRegion reports whether the position falls in any known region.
func (g *Geocoder) AnyRegion(lat, lon float64) bool {
	point := orb.Point{lon, lat}
	for _, code := range g.probe(point) {
		if g.bufferedContains(code, point) {
			return true
		}
	}
	return false
}

// InRegion reports whether the position falls inside the given
// region. Unknown codes are never matched.
func (g *Geocoder) InRegion(lat, lon float64, code string) bool {
	if _, ok := g.polys[code]; !ok {
		return false
	}
	return g.bufferedContains(code, orb.Point{lon, lat})
}

// RegionForCell resolves the region for a cell tower position,
// narrowing the candidates to the regions of the tower's mobile
// country code. An unambiguous single match wins; otherwise the MCC
// hint is discarded and the plain position lookup decides.
func (g *Geocoder) RegionForCell(lat, lon float64, mcc int) string {
	point := orb.Point{lon, lat}
	var matches []string
	for _, code := range g.RegionsForMCC(mcc) {
		if g.bufferedContains(code, point) {
			matches = append(matches, code)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return g.Region(lat, lon)
}

// RegionsForMCC returns the dataset regions assigned to a mobile
// country code, sorted by code.
func (g *Geocoder) RegionsForMCC(mcc int) []string {
	var codes []string
	for _, code := range regionsForMCC(mcc) {
		if _, ok := g.polys[code]; ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// RegionsForMCCInfo is RegionsForMCC with names and radii attached.
func (g *Geocoder) RegionsForMCCInfo(mcc int) []Region {
	var regions []Region
	for _, code := range g.RegionsForMCC(mcc) {
		regions = append(regions, Region{
			Code:   code,
			Name:   RegionName(code),
			Radius: g.radii[code],
		})
	}
	return regions
}

// RegionMaxRadius returns the maximum radius of the region in meters.
// The second value is false for codes missing from the dataset.
func (g *Geocoder) RegionMaxRadius(code string) (float64, bool) {
	radius, ok := g.radii[code]
	return radius, ok
}

// RegionName returns the English name for a region code, or the empty
// string. The name table covers more regions than the shape dataset.
func (g *Geocoder) RegionName(code string) string {
	return RegionName(code)
}

// ValidRegions returns the sorted codes of all dataset regions.
func (g *Geocoder) ValidRegions() []string {
	return append([]string(nil), g.codes...)
}

// probe returns the sorted, de-duplicated codes whose padded bounds
// contain the point.
func (g *Geocoder) probe(point orb.Point) []string {
	seen := make(map[string]struct{})
	var codes []string
	g.tree.Search(
		[2]float64{point[0], point[1]},
		[2]float64{point[0], point[1]},
		func(_, _ [2]float64, code string) bool {
			if _, ok := seen[code]; !ok {
				seen[code] = struct{}{}
				codes = append(codes, code)
			}
			return true
		},
	)
	sort.Strings(codes)
	return codes
}

func (g *Geocoder) contains(code string, point orb.Point) bool {
	return planar.MultiPolygonContains(g.polys[code], point)
}

// bufferedContains widens the region by bufferDegrees. Equivalent to
// testing containment in a buffered polygon: inside the exact shape,
// or within the buffer of its boundary.
func (g *Geocoder) bufferedContains(code string, point orb.Point) bool {
	if g.contains(code, point) {
		return true
	}
	return g.boundaryDegreeDistance(code, point) <= bufferDegrees
}

// boundaryDegreeDistance is the planar distance in degrees from the
// point to the nearest boundary segment of the region.
func (g *Geocoder) boundaryDegreeDistance(code string, point orb.Point) float64 {
	best := math.MaxFloat64
	for _, part := range g.polys[code] {
		for _, ring := range part {
			for i := 0; i+1 < len(ring); i++ {
				if d := segmentDistance(point, ring[i], ring[i+1]); d < best {
					best = d
				}
			}
		}
	}
	return best
}

// byBoundaryDistance picks a region by great-circle distance from the
// point to the boundary vertices: nearest when outside every shape,
// farthest when inside several. Codes must arrive sorted; equal
// distances resolve to the later code.
func (g *Geocoder) byBoundaryDistance(codes []string, point orb.Point, farthest bool) string {
	distances := make(map[float64]string)
	for _, code := range codes {
		for _, part := range g.polys[code] {
			for _, ring := range part {
				for _, vertex := range ring {
					d := geomath.Distance(point[1], point[0], vertex[1], vertex[0])
					distances[d] = code
				}
			}
		}
	}
	best := math.NaN()
	for d := range distances {
		if math.IsNaN(best) || (farthest && d > best) || (!farthest && d < best) {
			best = d
		}
	}
	return distances[best]
}

// segmentDistance is the planar distance from p to the segment a-b.
func segmentDistance(p, a, b orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	if dx == 0 && dy == 0 {
		return planar.Distance(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	switch {
	case t < 0:
		return planar.Distance(p, a)
	case t > 1:
		return planar.Distance(p, b)
	}
	return planar.Distance(p, orb.Point{a[0] + t*dx, a[1] + t*dy})
}
