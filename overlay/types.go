// Package overlay compares two attributed polygon layers of the same
// geography ("before" and "after"), intersects them, and reports where and
// how a chosen attribute changed.
package overlay

import (
	"encoding/json"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultSliverThreshold is the minimum intersection area (square meters)
// that is kept. Anything smaller is treated as a clipping artifact.
const DefaultSliverThreshold = 0.0001

// DefaultMaxDistinctValues caps the number of distinct attribute values
// accepted for one analysis.
const DefaultMaxDistinctValues = 100

// AreaMode selects how areas are measured.
type AreaMode string

const (
	// AreaGeodesic treats coordinates as longitude/latitude and returns
	// square meters on the WGS84 sphere.
	AreaGeodesic AreaMode = "geodesic"
	// AreaPlanar measures in squared coordinate units.
	AreaPlanar AreaMode = "planar"
)

// EqualityMode selects how before/after attribute values are compared.
type EqualityMode string

const (
	// EqualityStrict compares raw values; 1 and "1" differ.
	EqualityStrict EqualityMode = "strict"
	// EqualityString formats both values as strings before comparing.
	EqualityString EqualityMode = "string"
)

// Status classifies a change record.
type Status string

const (
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
)

// AttributedPolygon is one input feature. Geometry holds one or more
// polygons; in each polygon the first ring is the exterior and the rest are
// holes.
type AttributedPolygon struct {
	Geometry   orb.MultiPolygon
	Properties map[string]any
}

// NewAttributedPolygon wraps an orb Polygon or MultiPolygon. Other geometry
// types yield an empty geometry.
func NewAttributedPolygon(g orb.Geometry, props map[string]any) AttributedPolygon {
	if props == nil {
		props = make(map[string]any)
	}
	mp, _ := asMultiPolygon(g)
	return AttributedPolygon{Geometry: mp, Properties: props}
}

// Bound returns the polygon's bounding box.
func (p AttributedPolygon) Bound() orb.Bound {
	return p.Geometry.Bound()
}

// PolygonSet is one temporal snapshot.
type PolygonSet struct {
	Name     string
	Polygons []AttributedPolygon
}

// Len returns the number of polygons in the set.
func (s PolygonSet) Len() int { return len(s.Polygons) }

// CandidatePair links a before polygon to an after polygon whose bounding
// boxes overlap.
type CandidatePair struct {
	Before int
	After  int
}

// TransitionKey is the ordered (from, to) pair of a changed record.
type TransitionKey struct {
	From any
	To   any
}

// Label renders the key the way legends show it.
func (k TransitionKey) Label() string {
	return FormatValue(k.From) + " → " + FormatValue(k.To)
}

// ChangeRecord is one kept intersection between a before and an after
// polygon.
type ChangeRecord struct {
	Pair        CandidatePair
	Geometry    orb.MultiPolygon
	BeforeValue any
	AfterValue  any
	Status      Status
	Area        float64
}

// Transition returns the record's transition key.
func (r ChangeRecord) Transition() TransitionKey {
	return TransitionKey{From: r.BeforeValue, To: r.AfterValue}
}

// OutputGeometry returns a Polygon for single-part records and a
// MultiPolygon otherwise.
func (r ChangeRecord) OutputGeometry() orb.Geometry {
	if len(r.Geometry) == 1 {
		return r.Geometry[0]
	}
	return r.Geometry
}

// MarshalJSON writes the record in the changeFeatures wire shape.
func (r ChangeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Geometry    *geojson.Geometry `json:"geometry"`
		BeforeValue any               `json:"beforeValue"`
		AfterValue  any               `json:"afterValue"`
		Status      Status            `json:"status"`
		AreaM2      float64           `json:"areaM2"`
	}{
		Geometry:    geojson.NewGeometry(r.OutputGeometry()),
		BeforeValue: r.BeforeValue,
		AfterValue:  r.AfterValue,
		Status:      r.Status,
		AreaM2:      r.Area,
	})
}

// ChangeMatrixEntry aggregates every changed record of one transition.
type ChangeMatrixEntry struct {
	From  any     `json:"fromValue"`
	To    any     `json:"toValue"`
	Area  float64 `json:"areaM2"`
	Count int     `json:"count"`
}

// Key returns the entry's transition key.
func (e ChangeMatrixEntry) Key() TransitionKey {
	return TransitionKey{From: e.From, To: e.To}
}

// Diagnostics counts what happened during a run.
type Diagnostics struct {
	BeforeCount      int      `json:"beforeCount"`
	AfterCount       int      `json:"afterCount"`
	CandidatePairs   int      `json:"candidatePairs"`
	Intersections    int      `json:"intersections"`
	SliversDiscarded int      `json:"sliversDiscarded"`
	GeometryErrors   int      `json:"geometryErrors"`
	SampleErrors     []string `json:"sampleErrors,omitempty"`
}

// AnalysisResult is the immutable outcome of one analysis run.
type AnalysisResult struct {
	Attribute        string              `json:"attribute"`
	TotalArea        float64             `json:"totalArea"`
	ChangedArea      float64             `json:"changedArea"`
	UnchangedArea    float64             `json:"unchangedArea"`
	ChangePercentage float64             `json:"changePercentage"`
	ChangeMatrix     []ChangeMatrixEntry `json:"changeMatrix"`
	ChangeFeatures   []ChangeRecord      `json:"changeFeatures"`
	Categories       []any               `json:"categories"`
	ValueColors      *ColorMap           `json:"valueColors"`
	TransitionColors *ColorMap           `json:"transitionColors"`
	Diagnostics      Diagnostics         `json:"diagnostics"`
}

// Options configures an analysis run.
type Options struct {
	// Attribute is the property compared between before and after.
	Attribute string
	// SliverThreshold drops intersections smaller than this (m², or squared
	// units in planar mode). Zero means DefaultSliverThreshold.
	SliverThreshold float64
	// MaxDistinctValues rejects attributes with more distinct values. Zero
	// means DefaultMaxDistinctValues.
	MaxDistinctValues int
	AreaMode          AreaMode
	Equality          EqualityMode
	// Workers bounds concurrent before-polygon processing. Zero means
	// runtime.NumCPU().
	Workers int
	// Intersector overrides the clipping engine, mainly for tests.
	Intersector Intersector
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.SliverThreshold == 0 {
		o.SliverThreshold = DefaultSliverThreshold
	}
	if o.MaxDistinctValues == 0 {
		o.MaxDistinctValues = DefaultMaxDistinctValues
	}
	if o.AreaMode == "" {
		o.AreaMode = AreaGeodesic
	}
	if o.Equality == "" {
		o.Equality = EqualityStrict
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Intersector == nil {
		o.Intersector = ClipIntersector{}
	}
	return o
}
