package overlay

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// shapeReader is the part of shp.Reader and shp.ZipReader we need.
type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
}

// LoadShapefile reads a .shp file (with its .dbf alongside) or a .zip
// bundle holding one shapefile.
func LoadShapefile(path string) (PolygonSet, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		zr, err := shp.OpenZip(path)
		if err != nil {
			return PolygonSet{Name: name}, eris.Wrapf(err, "shapefile: open zip %s", path)
		}
		defer func() { _ = zr.Close() }()
		return readShapes(name, zr), nil
	}

	reader, err := shp.Open(path)
	if err != nil {
		return PolygonSet{Name: name}, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()
	return readShapes(name, reader), nil
}

func readShapes(name string, r shapeReader) PolygonSet {
	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	set := PolygonSet{Name: name}
	skipped := 0
	for r.Next() {
		_, shape := r.Shape()
		mp := shapeToMultiPolygon(shape)
		if len(mp) == 0 {
			skipped++
			continue
		}
		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[names[i]] = parseField(f.Fieldtype, r.Attribute(i))
		}
		set.Polygons = append(set.Polygons, AttributedPolygon{Geometry: mp, Properties: props})
	}

	if skipped > 0 {
		zap.L().Warn("shapefile: skipped non-polygon records",
			zap.String("set", name),
			zap.Int("skipped", skipped),
			zap.Int("kept", set.Len()))
	}
	return set
}

// parseField converts a DBF attribute to a typed value. Numeric columns
// become float64, logical columns bool, everything else a trimmed string.
// Blank values are nil.
func parseField(kind byte, raw string) any {
	val := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if val == "" {
		return nil
	}
	switch kind {
	case 'N', 'F':
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case 'L':
		switch strings.ToUpper(val) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		case "?":
			return nil
		}
	}
	return val
}

// shapeToMultiPolygon groups the parts of a polygon shape into exteriors
// with their holes. Other shape types yield nil.
func shapeToMultiPolygon(s shp.Shape) orb.MultiPolygon {
	var parts []int32
	var points []shp.Point
	switch p := s.(type) {
	case *shp.Polygon:
		parts, points = p.Parts, p.Points
	case *shp.PolygonZ:
		parts, points = p.Parts, p.Points
	case *shp.PolygonM:
		parts, points = p.Parts, p.Points
	default:
		return nil
	}
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	rings := make([]orb.Ring, 0, len(parts))
	var crossed orb.MultiPolygon
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || int(end) > len(points) {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		// kept whole so the overlay reports it instead of losing it here
		if selfCancelling(ring) {
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			crossed = append(crossed, orb.Polygon{ring})
			continue
		}
		rings = append(rings, ring)
	}
	return append(assemblePolygons(rings), crossed...)
}
