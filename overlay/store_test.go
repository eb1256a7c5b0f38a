package overlay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := OpenResultStore(filepath.Join(t.TempDir(), "changemesh.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storedSample is sampleResult with geometries and diagnostics filled in.
func storedSample() *AnalysisResult {
	r := sampleResult()
	r.ChangeFeatures[0].Geometry = orb.MultiPolygon{rect(0, 0, 1, 1)}
	r.ChangeFeatures[1].Geometry = orb.MultiPolygon{rect(2, 0, 3, 1), rect(4, 0, 5, 1)}
	r.ChangeFeatures[2].Geometry = orb.MultiPolygon{{rect(0, 0, 10, 10)[0], rect(2, 2, 8, 8)[0]}}
	r.Diagnostics = Diagnostics{BeforeCount: 3, AfterCount: 2, CandidatePairs: 4, GeometryErrors: 1, SampleErrors: []string{"boom"}}
	return r
}

func TestResultStore_MigrateIsIdempotent(t *testing.T) {
	store := newTestResultStore(t)
	assert.NoError(t, store.Migrate(context.Background()))
}

func TestResultStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestResultStore(t)
	orig := storedSample()

	id, err := store.SaveResult(ctx, "", orig)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "landuse", run.Attribute)
	assert.Equal(t, orig.TotalArea, run.TotalArea)
	assert.Equal(t, orig.ChangePercentage, run.ChangePercentage)
	assert.Equal(t, 1, run.GeometryErrors)
	assert.False(t, run.CreatedAt.IsZero())

	loaded, err := store.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, orig.Attribute, loaded.Attribute)
	assert.Equal(t, orig.ChangedArea, loaded.ChangedArea)
	assert.Equal(t, orig.UnchangedArea, loaded.UnchangedArea)
	assert.Equal(t, orig.Categories, loaded.Categories)
	assert.Equal(t, orig.ChangeMatrix, loaded.ChangeMatrix)
	assert.Equal(t, orig.Diagnostics, loaded.Diagnostics)

	require.Len(t, loaded.ChangeFeatures, len(orig.ChangeFeatures))
	for i, rec := range loaded.ChangeFeatures {
		want := orig.ChangeFeatures[i]
		assert.Equal(t, want.Status, rec.Status)
		assert.Equal(t, want.BeforeValue, rec.BeforeValue)
		assert.Equal(t, want.AfterValue, rec.AfterValue)
		assert.Equal(t, want.Area, rec.Area)
		assert.Equal(t, want.Geometry, rec.Geometry)
	}

	assert.Equal(t, orig.ValueColors.Entries(), loaded.ValueColors.Entries())
	assert.Equal(t, orig.TransitionColors.Entries(), loaded.TransitionColors.Entries())
	assert.Equal(t, orig.Legend(), loaded.Legend())
}

func TestResultStore_ExplicitIDAndDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestResultStore(t)

	id, err := store.SaveResult(ctx, "run-a", storedSample())
	require.NoError(t, err)
	assert.Equal(t, "run-a", id)

	_, err = store.SaveResult(ctx, "run-a", storedSample())
	assert.Error(t, err, "ids are unique")

	loaded, err := store.LoadResult(ctx, "run-a")
	require.NoError(t, err)
	assert.Len(t, loaded.ChangeFeatures, 3, "failed save rolled back")
}

func TestResultStore_NumericValuesKeepType(t *testing.T) {
	ctx := context.Background()
	store := newTestResultStore(t)

	r := &AnalysisResult{
		Attribute:      "code",
		Categories:     []any{1.0, "1"},
		ChangeMatrix:   []ChangeMatrixEntry{{From: 1.0, To: "1", Area: 2, Count: 1}},
		ChangeFeatures: []ChangeRecord{{Geometry: orb.MultiPolygon{rect(0, 0, 1, 1)}, BeforeValue: 1.0, AfterValue: "1", Status: StatusChanged, Area: 2}},
	}
	id, err := store.SaveResult(ctx, "", r)
	require.NoError(t, err)

	loaded, err := store.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, loaded.ChangeMatrix[0].From)
	assert.Equal(t, "1", loaded.ChangeMatrix[0].To)
	assert.Equal(t, []any{1.0, "1"}, loaded.Categories)
}

func TestResultStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestResultStore(t)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, err := store.SaveResult(ctx, "", storedSample())
		require.NoError(t, err)
		ids[id] = true
	}

	runs, err = store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.True(t, ids[r.ID])
	}
	for i := 1; i < len(runs); i++ {
		assert.False(t, runs[i].CreatedAt.After(runs[i-1].CreatedAt), "newest first")
	}

	limited, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	victim := runs[0].ID
	require.NoError(t, store.DeleteRun(ctx, victim))
	_, err = store.GetRun(ctx, victim)
	assert.True(t, eris.Is(err, ErrRunNotFound))

	var features int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_features WHERE run_id = ?`, victim).Scan(&features))
	assert.Equal(t, 0, features, "features cascade with their run")

	err = store.DeleteRun(ctx, victim)
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestResultStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestResultStore(t)

	_, err := store.GetRun(ctx, "nope")
	assert.True(t, eris.Is(err, ErrRunNotFound))

	_, err = store.LoadResult(ctx, "nope")
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestWKBRoundTrip(t *testing.T) {
	mp := orb.MultiPolygon{
		{rect(0, 0, 10, 10)[0], rect(2, 2, 8, 8)[0]},
		rect(20, 20, 21.5, 22.25),
	}
	data, err := EncodeWKB(mp)
	require.NoError(t, err)
	assert.Equal(t, byte(1), data[0], "little endian")

	got, err := DecodeWKB(data)
	require.NoError(t, err)
	assert.Equal(t, mp, got)

	_, err = DecodeWKB([]byte{0x01, 0x02})
	assert.Error(t, err)
}
