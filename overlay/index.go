package overlay

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// R-tree node fan-out.
const (
	indexMinChildren = 25
	indexMaxChildren = 50
)

// indexEntry wraps one polygon's bounding box for R-tree storage.
type indexEntry struct {
	index int
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *indexEntry) Bounds() rtreego.Rect {
	return e.rect
}

// SpatialIndex answers "which polygons might overlap this box" for one
// PolygonSet. It is built once and read-only afterwards, so concurrent
// queries are safe.
type SpatialIndex struct {
	tree *rtreego.Rtree
	size int
}

// NewSpatialIndex indexes every polygon of set that has a usable bounding
// box. Polygons with empty or non-finite geometry are left out; they can
// never produce an intersection.
func NewSpatialIndex(set PolygonSet) *SpatialIndex {
	tree := rtreego.NewTree(2, indexMinChildren, indexMaxChildren)
	size := 0
	for i, p := range set.Polygons {
		if len(p.Geometry) == 0 {
			continue
		}
		rect, ok := boundToRect(p.Bound())
		if !ok {
			continue
		}
		tree.Insert(&indexEntry{index: i, rect: rect})
		size++
	}
	return &SpatialIndex{tree: tree, size: size}
}

// Len returns the number of indexed polygons.
func (si *SpatialIndex) Len() int { return si.size }

// CandidatesFor returns, in ascending order, the indices of polygons whose
// bounding boxes intersect b. The result may contain false positives but
// never misses a polygon whose box touches b.
func (si *SpatialIndex) CandidatesFor(b orb.Bound) []int {
	rect, ok := boundToRect(b)
	if !ok || si.size == 0 {
		return nil
	}
	hits := si.tree.SearchIntersect(rect)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexEntry).index)
	}
	sort.Ints(out)
	return out
}

// boundToRect converts b into an R-tree rectangle. Boxes are padded by a
// small relative margin: rtreego rejects zero-length sides and treats
// touching boxes as disjoint, and both would drop true candidates.
func boundToRect(b orb.Bound) (rtreego.Rect, bool) {
	if !finitePoint(b.Min) || !finitePoint(b.Max) || b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return rtreego.Rect{}, false
	}
	scale := math.Max(1, math.Max(
		math.Max(math.Abs(b.Min[0]), math.Abs(b.Max[0])),
		math.Max(math.Abs(b.Min[1]), math.Abs(b.Max[1])),
	))
	pad := scale * 1e-9
	rect, err := rtreego.NewRect(
		rtreego.Point{b.Min[0] - pad, b.Min[1] - pad},
		[]float64{b.Max[0] - b.Min[0] + 2*pad, b.Max[1] - b.Min[1] + 2*pad},
	)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
