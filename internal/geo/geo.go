// Package geo computes the distance metrics used for scoring: great-circle
// distance between geographic points, planar distance between image pixels,
// and polygon containment for country-style targets.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrOutOfRange is returned for coordinates outside valid lat/lng bounds.
var ErrOutOfRange = errors.New("coordinates out of range")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrOutOfRange, p.Lat, p.Lng)
	}
	return nil
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b Point) float64 {
	if a == b {
		return 0
	}
	return orbgeo.Distance(a.orb(), b.orb()) / 1000
}

// pixelScaleKm converts image pixels to the kilometer unit the scoring
// formulas expect: 92 pixels correspond to 10 meters.
const pixelScaleKm = 10.0 / 92.0 / 1000.0

// PixelDistanceKm returns the planar distance between two image-pixel
// positions, expressed in the equivalent kilometer unit.
func PixelDistanceKm(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx+dy*dy) * pixelScaleKm
}

// Region is a country-style target: a polygon with a labeled center point
// used as the distance fallback when a guess lands outside it.
type Region struct {
	CountryCode string
	Center      Point
	polygons    []orb.Polygon
}

// ParseRegion decodes a GeoJSON Polygon or MultiPolygon geometry.
func ParseRegion(countryCode string, center Point, rawGeoJSON []byte) (*Region, error) {
	g, err := geojson.UnmarshalGeometry(rawGeoJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding region geometry: %w", err)
	}

	r := &Region{CountryCode: countryCode, Center: center}
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		r.polygons = []orb.Polygon{geom}
	case orb.MultiPolygon:
		r.polygons = geom
	default:
		return nil, fmt.Errorf("unsupported region geometry %q", g.Type)
	}
	return r, nil
}

// Contains reports whether p falls inside the region's polygon.
func (r *Region) Contains(p Point) bool {
	for _, poly := range r.polygons {
		if planar.PolygonContains(poly, p.orb()) {
			return true
		}
	}
	return false
}

// DistanceToKm returns the scoring distance from guess to the region:
// zero when the guess is inside the polygon, otherwise the great-circle
// distance to the labeled center.
func (r *Region) DistanceToKm(guess Point) (km float64, inside bool) {
	if r.Contains(guess) {
		return 0, true
	}
	return DistanceKm(guess, r.Center), false
}
