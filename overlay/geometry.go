package overlay

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Area returns the area of a polygonal geometry. Geodesic mode returns square
// meters; planar mode returns squared coordinate units. Degenerate rings
// contribute nothing and non-polygonal geometries have zero area.
func Area(g orb.Geometry, mode AreaMode) float64 {
	mp, ok := asMultiPolygon(g)
	if !ok {
		return 0
	}
	var total float64
	for _, poly := range mp {
		total += polygonArea(poly, mode)
	}
	return total
}

// BoundingBox returns (minX, minY, maxX, maxY) of g.
func BoundingBox(g orb.Geometry) (minX, minY, maxX, maxY float64) {
	if g == nil {
		return 0, 0, 0, 0
	}
	b := g.Bound()
	return b.Min[0], b.Min[1], b.Max[0], b.Max[1]
}

func polygonArea(p orb.Polygon, mode AreaMode) float64 {
	if len(p) == 0 {
		return 0
	}
	area := ringArea(p[0], mode)
	if area == 0 {
		return 0
	}
	for _, hole := range p[1:] {
		area -= ringArea(hole, mode)
	}
	if area < 0 {
		return 0
	}
	return area
}

func ringArea(r orb.Ring, mode AreaMode) float64 {
	r = cleanRing(r)
	if r == nil {
		return 0
	}
	var a float64
	if mode == AreaPlanar {
		a = planar.Area(r)
	} else {
		a = geo.Area(r)
	}
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	return math.Abs(a)
}

// asMultiPolygon flattens polygonal geometries into a MultiPolygon.
func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, child := range v {
			if sub, ok := asMultiPolygon(child); ok {
				mp = append(mp, sub...)
			}
		}
		return mp, len(mp) > 0
	}
	return nil, false
}

// cleanRing drops repeated vertices and returns a closed ring, or nil when
// fewer than three distinct vertices or no area remain.
func cleanRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	for _, p := range r {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])
	if planar.Area(out) == 0 {
		return nil
	}
	return out
}

// selfCancelling reports whether r spans real area yet has zero signed
// area, as a symmetric bowtie does. Collinear and repeated vertices are
// degenerate, not self-cancelling.
func selfCancelling(r orb.Ring) bool {
	var pts []orb.Point
	for _, p := range r {
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	for len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return false
	}
	if planar.Area(append(orb.Ring(pts), pts[0])) != 0 {
		return false
	}
	a := pts[0]
	for _, b := range pts[1:] {
		if b == a {
			continue
		}
		for _, c := range pts {
			if (b[0]-a[0])*(c[1]-a[1])-(b[1]-a[1])*(c[0]-a[0]) != 0 {
				return true
			}
		}
		return false
	}
	return false
}

func finitePoint(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// finiteGeometry reports whether every coordinate of mp is a finite number.
func finiteGeometry(mp orb.MultiPolygon) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for _, p := range ring {
				if !finitePoint(p) {
					return false
				}
			}
		}
	}
	return true
}

// boundContains reports whether inner lies within outer (edges inclusive).
func boundContains(outer, inner orb.Bound) bool {
	return outer.Min[0] <= inner.Min[0] && outer.Min[1] <= inner.Min[1] &&
		outer.Max[0] >= inner.Max[0] && outer.Max[1] >= inner.Max[1]
}

// ringSide reports 1 when pt is strictly inside r, -1 when outside and 0
// when it lies on the boundary.
func ringSide(r orb.Ring, pt orb.Point) int {
	inside := false
	n := len(r)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r[i], r[j]
		if onSegment(a, b, pt) {
			return 0
		}
		if (a[1] > pt[1]) != (b[1] > pt[1]) {
			x := (b[0]-a[0])*(pt[1]-a[1])/(b[1]-a[1]) + a[0]
			if pt[0] < x {
				inside = !inside
			}
		}
	}
	if inside {
		return 1
	}
	return -1
}

func onSegment(a, b, p orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// ringWithin decides whether inner sits inside outer. The rings must not
// cross; vertices on the shared boundary are ignored and the remaining
// vertices vote.
func ringWithin(inner, outer orb.Ring) bool {
	in, out := 0, 0
	for _, p := range inner[:len(inner)-1] {
		switch ringSide(outer, p) {
		case 1:
			in++
		case -1:
			out++
		}
	}
	if in != out {
		return in > out
	}
	// every vertex touches the boundary or the vote tied: probe an edge midpoint
	for i := 0; i+1 < len(inner); i++ {
		mid := orb.Point{(inner[i][0] + inner[i+1][0]) / 2, (inner[i][1] + inner[i+1][1]) / 2}
		if side := ringSide(outer, mid); side != 0 {
			return side > 0
		}
	}
	return false
}

// assemblePolygons turns a flat list of non-crossing rings (as produced by
// the clipper or by shapefile parts) into polygons with holes using
// even-odd nesting. Exteriors come out counter-clockwise and holes
// clockwise; every ring is closed.
func assemblePolygons(rings []orb.Ring) orb.MultiPolygon {
	type ringInfo struct {
		ring   orb.Ring
		area   float64
		bound  orb.Bound
		parent int
		depth  int
	}

	infos := make([]ringInfo, 0, len(rings))
	for _, r := range rings {
		c := cleanRing(r)
		if c == nil {
			continue
		}
		infos = append(infos, ringInfo{ring: c, area: math.Abs(planar.Area(c)), bound: c.Bound(), parent: -1})
	}
	if len(infos) == 0 {
		return nil
	}

	order := make([]int, len(infos))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return infos[order[a]].area > infos[order[b]].area
	})

	for pos, i := range order {
		// the smallest containing ring is the direct parent; candidates are
		// visited from largest to smallest so the last match wins
		for _, j := range order[:pos] {
			if !boundContains(infos[j].bound, infos[i].bound) {
				continue
			}
			if ringWithin(infos[i].ring, infos[j].ring) {
				infos[i].parent = j
			}
		}
		if p := infos[i].parent; p >= 0 {
			infos[i].depth = infos[p].depth + 1
		}
	}

	polyIndex := make(map[int]int)
	var mp orb.MultiPolygon
	for i := range infos {
		if infos[i].depth%2 != 0 {
			continue
		}
		ext := orientRing(infos[i].ring, orb.CCW)
		polyIndex[i] = len(mp)
		mp = append(mp, orb.Polygon{ext})
	}
	for i := range infos {
		if infos[i].depth%2 == 0 {
			continue
		}
		pi, ok := polyIndex[infos[i].parent]
		if !ok {
			continue
		}
		mp[pi] = append(mp[pi], orientRing(infos[i].ring, orb.CW))
	}
	return mp
}

func orientRing(r orb.Ring, want orb.Orientation) orb.Ring {
	if r.Orientation() == want {
		return r
	}
	out := r.Clone()
	out.Reverse()
	return out
}
