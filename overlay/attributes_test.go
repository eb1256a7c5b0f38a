package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttributeColumns(t *testing.T) {
	set := polygonSet("s",
		NewAttributedPolygon(rect(0, 0, 1, 1), map[string]any{"zone": "a", "code": 1, "area": 2.0}),
		NewAttributedPolygon(rect(0, 0, 1, 1), map[string]any{"other": "x"}),
	)
	assert.Equal(t, []string{"area", "code", "zone"}, AttributeColumns(set))
	assert.Nil(t, AttributeColumns(PolygonSet{}))
}

func TestHasAttribute(t *testing.T) {
	set := polygonSet("s",
		NewAttributedPolygon(rect(0, 0, 1, 1), map[string]any{"zone": "a"}),
		NewAttributedPolygon(rect(0, 0, 1, 1), map[string]any{"other": nil}),
	)
	assert.True(t, HasAttribute(set, "zone"))
	assert.True(t, HasAttribute(set, "other"), "a present nil value still counts")
	assert.False(t, HasAttribute(set, "missing"))
}

func TestDistinctValues_FirstSeenOrder(t *testing.T) {
	set := polygonSet("s",
		feature(rect(0, 0, 1, 1), "v", "urban"),
		feature(rect(0, 0, 1, 1), "v", "forest"),
		feature(rect(0, 0, 1, 1), "v", "urban"),
		NewAttributedPolygon(rect(0, 0, 1, 1), map[string]any{"x": 1}),
		feature(rect(0, 0, 1, 1), "v", 3),
		feature(rect(0, 0, 1, 1), "v", 3.0),
	)
	assert.Equal(t, []any{"urban", "forest", 3.0}, DistinctValues(set, "v"))
}

func TestCombinedDistinctValues(t *testing.T) {
	before := polygonSet("before",
		feature(rect(0, 0, 1, 1), "v", "forest"),
		feature(rect(0, 0, 1, 1), "v", 1),
	)
	after := polygonSet("after",
		feature(rect(0, 0, 1, 1), "v", "urban"),
		feature(rect(0, 0, 1, 1), "v", "forest"),
		feature(rect(0, 0, 1, 1), "v", "1"),
	)

	assert.Equal(t, []any{"forest", 1.0, "urban", "1"},
		CombinedDistinctValues(before, after, "v", EqualityStrict))
	assert.Equal(t, []any{"forest", "1", "urban"},
		CombinedDistinctValues(before, after, "v", EqualityString))
}
