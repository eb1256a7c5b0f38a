package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolygonSet(t *testing.T) {
	dir := t.TempDir()

	geo := filepath.Join(dir, "before.GeoJSON")
	require.NoError(t, os.WriteFile(geo, []byte(sampleCollection), 0o644))
	set, err := LoadPolygonSet(geo)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	js := filepath.Join(dir, "after.json")
	require.NoError(t, os.WriteFile(js, []byte(sampleCollection), 0o644))
	set, err = LoadPolygonSet(js)
	require.NoError(t, err)
	assert.Equal(t, "after", set.Name)

	set, err = LoadPolygonSet(writeTestShapefile(t, dir))
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestLoadPolygonSet_Unsupported(t *testing.T) {
	_, err := LoadPolygonSet("parcels.kml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
