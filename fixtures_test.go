package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwv/changemesh/overlay"
)

// squareFeature renders one GeoJSON polygon feature for an axis-aligned
// square.
func squareFeature(minX, minY, maxX, maxY float64, key, value string) string {
	return fmt.Sprintf(`{"type":"Feature","properties":{%q:%q},"geometry":{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}}`,
		key, value, minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)
}

func collection(features ...string) string {
	out := `{"type":"FeatureCollection","features":[`
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out + "]}"
}

var (
	beforeFixture = collection(squareFeature(0, 0, 10, 10, "landuse", "forest"))
	afterFixture  = collection(
		squareFeature(5, 5, 15, 15, "landuse", "urban"),
		squareFeature(-5, -5, 2, 2, "landuse", "forest"),
	)
)

// planarConfig is the default config measuring in coordinate units.
func planarConfig() *overlay.Config {
	cfg := overlay.DefaultConfig()
	cfg.Analysis.AreaMode = string(overlay.AreaPlanar)
	cfg.Analysis.Workers = 2
	return cfg
}

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func loadFixtures(t *testing.T) (overlay.PolygonSet, overlay.PolygonSet) {
	t.Helper()
	dir := t.TempDir()
	before, err := overlay.LoadPolygonSet(writeFixture(t, dir, "before.geojson", beforeFixture))
	require.NoError(t, err)
	after, err := overlay.LoadPolygonSet(writeFixture(t, dir, "after.geojson", afterFixture))
	require.NoError(t, err)
	return before, after
}
