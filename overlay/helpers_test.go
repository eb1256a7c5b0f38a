package overlay

import (
	"github.com/paulmach/orb"
)

// rect returns an axis-aligned counter-clockwise square polygon.
func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

// feature builds an attributed polygon with a single property.
func feature(g orb.Geometry, key string, value any) AttributedPolygon {
	return NewAttributedPolygon(g, map[string]any{key: value})
}

func polygonSet(name string, polys ...AttributedPolygon) PolygonSet {
	return PolygonSet{Name: name, Polygons: polys}
}

// planarOptions are the options used by tests working in coordinate units.
func planarOptions(attr string) Options {
	return Options{Attribute: attr, AreaMode: AreaPlanar}
}

// gridSet tiles an n×n grid of unit*unit cells starting at (x0, y0). The
// value of each cell is chosen by label(col, row).
func gridSet(name string, n int, x0, y0, unit float64, label func(col, row int) any) PolygonSet {
	set := PolygonSet{Name: name}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			minX := x0 + float64(col)*unit
			minY := y0 + float64(row)*unit
			set.Polygons = append(set.Polygons,
				feature(rect(minX, minY, minX+unit, minY+unit), "landuse", label(col, row)))
		}
	}
	return set
}
