package overlay

import (
	"fmt"
	"time"
)

// SquareMetersPerHectare converts m² to hectares.
const SquareMetersPerHectare = 10000

// Hectares converts square meters to hectares.
func Hectares(m2 float64) float64 { return m2 / SquareMetersPerHectare }

// FormatArea renders an area in square meters as hectares with two
// decimals, e.g. "12.34 ha".
func FormatArea(m2 float64) string {
	return fmt.Sprintf("%.2f ha", Hectares(m2))
}

// FormatPercent renders a percentage with one decimal.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// UnchangedPercentage is unchanged/total*100, or 0 for an empty result.
func (r *AnalysisResult) UnchangedPercentage() float64 {
	if r.TotalArea <= 0 {
		return 0
	}
	return r.UnchangedArea / r.TotalArea * 100
}

// ShareOfChanges is the entry's share of the total changed area, in percent.
func (r *AnalysisResult) ShareOfChanges(e ChangeMatrixEntry) float64 {
	if r.ChangedArea <= 0 {
		return 0
	}
	return e.Area / r.ChangedArea * 100
}

// TopChanges returns at most n of the largest transitions.
func (r *AnalysisResult) TopChanges(n int) []ChangeMatrixEntry {
	if n < 0 || n > len(r.ChangeMatrix) {
		n = len(r.ChangeMatrix)
	}
	return r.ChangeMatrix[:n]
}

// TransitionSummary is one ranked change matrix row in display form.
type TransitionSummary struct {
	Rank     int     `json:"rank"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	AreaM2   float64 `json:"areaM2"`
	Hectares string  `json:"hectares"`
	Count    int     `json:"count"`
	Share    float64 `json:"shareOfChanges"`
	Color    string  `json:"color"`
}

// Summary is the compact report published to downstream consumers.
type Summary struct {
	Attribute           string              `json:"attribute"`
	TotalArea           float64             `json:"totalArea"`
	ChangedArea         float64             `json:"changedArea"`
	UnchangedArea       float64             `json:"unchangedArea"`
	ChangePercentage    float64             `json:"changePercentage"`
	UnchangedPercentage float64             `json:"unchangedPercentage"`
	TotalHectares       string              `json:"totalHectares"`
	ChangedHectares     string              `json:"changedHectares"`
	UnchangedHectares   string              `json:"unchangedHectares"`
	TopChanges          []TransitionSummary `json:"topChanges"`
	GeometryErrors      int                 `json:"geometryErrors"`
	GeneratedAt         time.Time           `json:"generatedAt"`
}

// DefaultTopChanges is how many transitions a summary lists.
const DefaultTopChanges = 10

// Summarize builds the report for the top n transitions.
func (r *AnalysisResult) Summarize(n int, now time.Time) Summary {
	top := r.TopChanges(n)
	rows := make([]TransitionSummary, len(top))
	for i, e := range top {
		rows[i] = TransitionSummary{
			Rank:     i + 1,
			From:     FormatValue(e.From),
			To:       FormatValue(e.To),
			AreaM2:   e.Area,
			Hectares: FormatArea(e.Area),
			Count:    e.Count,
			Share:    r.ShareOfChanges(e),
			Color:    r.transitionColor(e.Key()),
		}
	}
	return Summary{
		Attribute:           r.Attribute,
		TotalArea:           r.TotalArea,
		ChangedArea:         r.ChangedArea,
		UnchangedArea:       r.UnchangedArea,
		ChangePercentage:    r.ChangePercentage,
		UnchangedPercentage: r.UnchangedPercentage(),
		TotalHectares:       FormatArea(r.TotalArea),
		ChangedHectares:     FormatArea(r.ChangedArea),
		UnchangedHectares:   FormatArea(r.UnchangedArea),
		TopChanges:          rows,
		GeometryErrors:      r.Diagnostics.GeometryErrors,
		GeneratedAt:         now.UTC(),
	}
}

func (r *AnalysisResult) transitionColor(k TransitionKey) string {
	if c, ok := r.TransitionColors.Lookup(k.Label()); ok {
		return c.Hex
	}
	return FallbackTransitionColor
}
