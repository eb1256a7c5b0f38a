package overlay

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestSpatialIndex_CandidatesFor(t *testing.T) {
	set := polygonSet("after",
		feature(rect(0, 0, 10, 10), "v", "a"),
		feature(rect(20, 20, 30, 30), "v", "b"),
		feature(rect(5, 5, 25, 25), "v", "c"),
		feature(rect(100, 100, 101, 101), "v", "d"),
	)
	idx := NewSpatialIndex(set)
	assert.Equal(t, 4, idx.Len())

	tests := []struct {
		name  string
		query orb.Bound
		want  []int
	}{
		{"overlaps two", orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{6, 6}}, []int{0, 2}},
		{"overlaps three", orb.Bound{Min: orb.Point{8, 8}, Max: orb.Point{22, 22}}, []int{0, 1, 2}},
		{"disjoint", orb.Bound{Min: orb.Point{50, 50}, Max: orb.Point{60, 60}}, []int{}},
		{"touching edge", orb.Bound{Min: orb.Point{101, 100}, Max: orb.Point{102, 101}}, []int{3}},
		{"degenerate point query", orb.Bound{Min: orb.Point{100.5, 100.5}, Max: orb.Point{100.5, 100.5}}, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.CandidatesFor(tt.query)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpatialIndex_NoFalseNegatives(t *testing.T) {
	after := gridSet("after", 8, 0, 0, 1, func(col, row int) any { return col })
	idx := NewSpatialIndex(after)

	query := rect(2.5, 2.5, 4.5, 4.5)
	got := idx.CandidatesFor(query.Bound())

	// every cell whose box intersects the query must be present
	for i, p := range after.Polygons {
		if p.Bound().Intersects(query.Bound()) {
			assert.Contains(t, got, i)
		}
	}
	assert.IsIncreasing(t, got)
}

func TestSpatialIndex_SkipsUnusableGeometry(t *testing.T) {
	set := polygonSet("after",
		AttributedPolygon{Properties: map[string]any{"v": 1}},
		feature(orb.Polygon{orb.Ring{{math.NaN(), 0}, {1, 0}, {1, 1}, {math.NaN(), 0}}}, "v", 2),
		feature(rect(0, 0, 1, 1), "v", 3),
	)
	idx := NewSpatialIndex(set)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, []int{2}, idx.CandidatesFor(rect(0, 0, 2, 2).Bound()))
}

func TestSpatialIndex_Empty(t *testing.T) {
	idx := NewSpatialIndex(PolygonSet{})
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.CandidatesFor(rect(0, 0, 1, 1).Bound()))
}
