package overlay

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LoadPolygonSet reads a polygon layer from disk, choosing the decoder by
// file extension: .geojson and .json for GeoJSON, .shp and .zip for
// shapefiles.
func LoadPolygonSet(path string) (PolygonSet, error) {
	var (
		set PolygonSet
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		set, err = LoadGeoJSONFile(path)
	case ".shp", ".zip":
		set, err = LoadShapefile(path)
	default:
		return PolygonSet{}, eris.Errorf("loader: unsupported file type %q for %s", ext, path)
	}
	if err != nil {
		return set, err
	}
	zap.L().Debug("polygon set loaded",
		zap.String("path", path),
		zap.String("set", set.Name),
		zap.Int("polygons", set.Len()))
	return set, nil
}
