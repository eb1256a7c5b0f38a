package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *AnalysisResult {
	records := []ChangeRecord{
		record("forest", "urban", 30000),
		record("water", "urban", 10000),
		record("forest", "forest", 60000),
	}
	agg := NewAggregator()
	for _, r := range records {
		agg.Add(r)
	}
	return &AnalysisResult{
		Attribute:        "landuse",
		TotalArea:        agg.TotalArea(),
		ChangedArea:      agg.ChangedArea(),
		UnchangedArea:    agg.UnchangedArea(),
		ChangePercentage: agg.ChangePercentage(),
		ChangeMatrix:     agg.Matrix(),
		ChangeFeatures:   agg.Records(),
		Categories:       []any{"forest", "water", "urban"},
		ValueColors:      ValueColorMap([]any{"forest", "water", "urban"}),
		TransitionColors: TransitionColorMap(agg.Records()),
	}
}

func TestFormatArea(t *testing.T) {
	assert.Equal(t, "0.00 ha", FormatArea(0))
	assert.Equal(t, "1.00 ha", FormatArea(10000))
	assert.Equal(t, "12.35 ha", FormatArea(123456))
	assert.Equal(t, 2.5, Hectares(25000))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "40.0%", FormatPercent(40))
	assert.Equal(t, "33.3%", FormatPercent(100.0/3))
}

func TestResultPercentages(t *testing.T) {
	r := sampleResult()
	assert.InDelta(t, 40.0, r.ChangePercentage, 1e-9)
	assert.InDelta(t, 60.0, r.UnchangedPercentage(), 1e-9)
	assert.InDelta(t, 75.0, r.ShareOfChanges(r.ChangeMatrix[0]), 1e-9)

	empty := &AnalysisResult{}
	assert.Equal(t, 0.0, empty.UnchangedPercentage())
	assert.Equal(t, 0.0, empty.ShareOfChanges(ChangeMatrixEntry{Area: 5}))
}

func TestTopChanges(t *testing.T) {
	r := sampleResult()
	assert.Len(t, r.TopChanges(1), 1)
	assert.Len(t, r.TopChanges(10), 2)
	assert.Len(t, r.TopChanges(-1), 2)
	assert.Equal(t, "forest", r.TopChanges(1)[0].From)
}

func TestSummarize(t *testing.T) {
	r := sampleResult()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	s := r.Summarize(DefaultTopChanges, now)
	assert.Equal(t, "landuse", s.Attribute)
	assert.Equal(t, "10.00 ha", s.TotalHectares)
	assert.Equal(t, "4.00 ha", s.ChangedHectares)
	assert.Equal(t, "6.00 ha", s.UnchangedHectares)
	assert.Equal(t, time.UTC, s.GeneratedAt.Location())
	assert.True(t, s.GeneratedAt.Equal(now))

	require.Len(t, s.TopChanges, 2)
	first := s.TopChanges[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "forest", first.From)
	assert.Equal(t, "urban", first.To)
	assert.Equal(t, "3.00 ha", first.Hectares)
	assert.InDelta(t, 75.0, first.Share, 1e-9)
	assert.Equal(t, Palette(2)[0].Hex, first.Color)
	assert.Equal(t, 2, s.TopChanges[1].Rank)
}
