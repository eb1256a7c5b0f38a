package overlay

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	paletteSaturationPct = 70
	paletteLightnessPct  = 60

	// UnchangedColor fills areas whose value did not change.
	UnchangedColor = "#10b981"
	// FallbackTransitionColor is used for a transition missing from the map.
	FallbackTransitionColor = "#f59e0b"
	// FallbackValueColor is used for a value missing from the map.
	FallbackValueColor = "#888888"

	// UnchangedLegendKey identifies the unchanged entry in a legend.
	UnchangedLegendKey = "__UNCHANGED__"
)

// Color is one palette slot in both CSS HSL and hex notation.
type Color struct {
	HSL string `json:"hsl"`
	Hex string `json:"hex"`
}

// Palette returns n colors evenly spaced around the hue circle at fixed
// saturation and lightness. Slot i always has hue i*360/n.
func Palette(n int) []Color {
	if n <= 0 {
		return nil
	}
	colors := make([]Color, n)
	step := 360 / float64(n)
	for i := 0; i < n; i++ {
		hue := math.Mod(float64(i)*step, 360)
		colors[i] = Color{
			HSL: fmt.Sprintf("hsl(%s, %d%%, %d%%)",
				strconv.FormatFloat(hue, 'f', -1, 64),
				paletteSaturationPct, paletteLightnessPct),
			Hex: colorful.Hsl(hue, paletteSaturationPct/100.0, paletteLightnessPct/100.0).Clamped().Hex(),
		}
	}
	return colors
}

// ColorEntry maps one category label to its color.
type ColorEntry struct {
	Key   string `json:"key"`
	Color Color  `json:"color"`
}

// ColorMap is an ordered, deterministic category-to-color mapping.
type ColorMap struct {
	entries []ColorEntry
	index   map[string]int
}

// NewColorMap assigns palette slots to keys in the given order. Duplicate
// keys keep their first slot.
func NewColorMap(keys []string) *ColorMap {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, k)
	}

	palette := Palette(len(unique))
	m := &ColorMap{
		entries: make([]ColorEntry, len(unique)),
		index:   make(map[string]int, len(unique)),
	}
	for i, k := range unique {
		m.entries[i] = ColorEntry{Key: k, Color: palette[i]}
		m.index[k] = i
	}
	return m
}

// Lookup returns the color for key.
func (m *ColorMap) Lookup(key string) (Color, bool) {
	if m == nil {
		return Color{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Color{}, false
	}
	return m.entries[i].Color, true
}

// Entries returns the mapping in slot order.
func (m *ColorMap) Entries() []ColorEntry {
	if m == nil {
		return nil
	}
	out := make([]ColorEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of categories.
func (m *ColorMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// MarshalJSON writes the ordered entries.
func (m *ColorMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.entries)
}

// ValueColorMap colors distinct attribute values in the given order.
func ValueColorMap(values []any) *ColorMap {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = FormatValue(v)
	}
	return NewColorMap(keys)
}

// TransitionColorMap colors the changed transitions of records in the order
// they first occur.
func TransitionColorMap(records []ChangeRecord) *ColorMap {
	var keys []string
	for _, r := range records {
		if r.Status != StatusChanged {
			continue
		}
		keys = append(keys, r.Transition().Label())
	}
	return NewColorMap(keys)
}

// ValueColor returns the hex color for an attribute value.
func (r *AnalysisResult) ValueColor(v any) string {
	if c, ok := r.ValueColors.Lookup(FormatValue(v)); ok {
		return c.Hex
	}
	return FallbackValueColor
}

// RecordColor returns the hex fill color for a change record.
func (r *AnalysisResult) RecordColor(rec ChangeRecord) string {
	if rec.Status != StatusChanged {
		return UnchangedColor
	}
	if c, ok := r.TransitionColors.Lookup(rec.Transition().Label()); ok {
		return c.Hex
	}
	return FallbackTransitionColor
}

// LegendEntry is one row of a change-map legend.
type LegendEntry struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Color  string `json:"color"`
	Status Status `json:"status"`
}

// Legend lists the unchanged entry followed by every transition in color
// order.
func (r *AnalysisResult) Legend() []LegendEntry {
	legend := []LegendEntry{{
		Key:    UnchangedLegendKey,
		Label:  "Unchanged",
		Color:  UnchangedColor,
		Status: StatusUnchanged,
	}}
	for _, e := range r.TransitionColors.Entries() {
		legend = append(legend, LegendEntry{
			Key:    e.Key,
			Label:  e.Key,
			Color:  e.Color.Hex,
			Status: StatusChanged,
		})
	}
	return legend
}
