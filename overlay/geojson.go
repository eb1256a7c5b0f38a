package overlay

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Change feature property names.
const (
	PropBeforeValue = "before_value"
	PropAfterValue  = "after_value"
	PropStatus      = "status"
	PropAreaM2      = "area_m2"
	PropTransition  = "transition"
	PropColor       = "color"
)

// PolygonSetFromFeatureCollection keeps the Polygon and MultiPolygon
// features of fc, in order. It returns the set and the number of features
// skipped for having no polygonal geometry.
func PolygonSetFromFeatureCollection(name string, fc *geojson.FeatureCollection) (PolygonSet, int) {
	set := PolygonSet{Name: name}
	if fc == nil {
		return set, 0
	}
	skipped := 0
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			skipped++
			continue
		}
		mp, ok := asMultiPolygon(f.Geometry)
		if !ok {
			skipped++
			continue
		}
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		set.Polygons = append(set.Polygons, AttributedPolygon{Geometry: mp, Properties: props})
	}
	return set, skipped
}

// ReadGeoJSON decodes a FeatureCollection from r into a PolygonSet.
func ReadGeoJSON(name string, r io.Reader) (PolygonSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PolygonSet{Name: name}, eris.Wrapf(err, "geojson: read %s", name)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return PolygonSet{Name: name}, eris.Wrapf(err, "geojson: decode %s", name)
	}
	set, skipped := PolygonSetFromFeatureCollection(name, fc)
	if skipped > 0 {
		zap.L().Warn("skipped non-polygon features",
			zap.String("set", name),
			zap.Int("skipped", skipped),
			zap.Int("kept", set.Len()))
	}
	return set, nil
}

// LoadGeoJSONFile reads a .geojson or .json file. The set is named after
// the file's base name.
func LoadGeoJSONFile(path string) (PolygonSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return PolygonSet{}, eris.Wrapf(err, "geojson: open %s", path)
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadGeoJSON(name, f)
}

// ChangeFeatureCollection renders the result's change records as GeoJSON.
// Each feature carries the before and after values, status, area, the
// transition label and the fill color used by the change map.
func ChangeFeatureCollection(r *AnalysisResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if r == nil {
		return fc
	}
	for _, rec := range r.ChangeFeatures {
		f := geojson.NewFeature(rec.OutputGeometry())
		f.Properties[PropBeforeValue] = rec.BeforeValue
		f.Properties[PropAfterValue] = rec.AfterValue
		f.Properties[PropStatus] = string(rec.Status)
		f.Properties[PropAreaM2] = rec.Area
		if rec.Status == StatusChanged {
			f.Properties[PropTransition] = rec.Transition().Label()
		}
		f.Properties[PropColor] = r.RecordColor(rec)
		fc.Append(f)
	}
	return fc
}

// WriteChangeGeoJSON writes the change feature collection to w.
func WriteChangeGeoJSON(w io.Writer, r *AnalysisResult) error {
	data, err := ChangeFeatureCollection(r).MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "geojson: encode changes")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "geojson: write changes")
	}
	return nil
}
