package overlay

import (
	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Intersector computes the overlap of two polygonal geometries. A nil
// result with a nil error means the inputs are disjoint or only touch.
type Intersector interface {
	Intersect(a, b orb.MultiPolygon) (orb.MultiPolygon, error)
}

// ClipIntersector is the default Intersector, built on the Martinez-Rueda
// sweep-line clipper. Holes and multi-part inputs are handled with even-odd
// fill, so slightly invalid input (overlapping parts, self-touching rings)
// still produces a result instead of failing.
type ClipIntersector struct{}

// Intersect returns the exact overlap of a and b. Clipper panics are turned
// into errors so a single bad pair cannot abort a batch.
func (ClipIntersector) Intersect(a, b orb.MultiPolygon) (result orb.MultiPolygon, err error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	if !finiteGeometry(a) || !finiteGeometry(b) {
		return nil, eris.New("overlay: non-finite coordinate")
	}
	if !a.Bound().Intersects(b.Bound()) {
		return nil, nil
	}

	subject, err := toClipPolygon(a)
	if err != nil {
		return nil, err
	}
	clipping, err := toClipPolygon(b)
	if err != nil {
		return nil, err
	}
	if len(subject) == 0 || len(clipping) == 0 {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = eris.Errorf("overlay: clipper panic: %v", r)
		}
	}()

	out := subject.Construct(polyclip.INTERSECTION, clipping)

	rings := make([]orb.Ring, 0, len(out))
	for _, contour := range out {
		ring := make(orb.Ring, 0, len(contour)+1)
		for _, p := range contour {
			pt := orb.Point{p.X, p.Y}
			if !finitePoint(pt) {
				return nil, eris.New("overlay: clipper produced non-finite coordinate")
			}
			ring = append(ring, pt)
		}
		rings = append(rings, ring)
	}

	mp := assemblePolygons(rings)
	if len(mp) == 0 {
		return nil, nil
	}
	return mp, nil
}

// toClipPolygon flattens every ring of mp into clipper contours. Rings are
// cleaned first; the clipper wants open contours. A ring whose lobes cancel
// to zero signed area would otherwise vanish, so it is an error.
func toClipPolygon(mp orb.MultiPolygon) (polyclip.Polygon, error) {
	var out polyclip.Polygon
	for k, poly := range mp {
		for i, ring := range poly {
			c := cleanRing(ring)
			if c == nil {
				if selfCancelling(ring) {
					return nil, eris.Errorf("overlay: polygon %d ring %d crosses itself with zero net area", k, i)
				}
				if i == 0 {
					// without an exterior the holes mean nothing
					break
				}
				continue
			}
			contour := make(polyclip.Contour, 0, len(c)-1)
			for _, p := range c[:len(c)-1] {
				contour = append(contour, polyclip.Point{X: p[0], Y: p[1]})
			}
			out = append(out, contour)
		}
	}
	return out, nil
}
