package overlay

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
)

// Classifier turns an intersection into a ChangeRecord. The equality policy
// is fixed when the classifier is built so every comparison in a run uses
// the same semantics.
type Classifier struct {
	Threshold float64
	Equality  EqualityMode
}

// NewClassifier returns a classifier with the given sliver threshold and
// equality policy.
func NewClassifier(threshold float64, equality EqualityMode) Classifier {
	if equality == "" {
		equality = EqualityStrict
	}
	return Classifier{Threshold: threshold, Equality: equality}
}

// Normalize maps a raw attribute value to the form used for comparison and
// grouping. Under strict equality numbers become float64 and the type is
// otherwise preserved; under string equality everything becomes a string.
func (c Classifier) Normalize(v any) any {
	s := normalizeScalar(v)
	if c.Equality == EqualityString {
		if s == nil {
			return ""
		}
		return FormatValue(s)
	}
	return s
}

// Equal compares two raw values under the classifier's policy.
func (c Classifier) Equal(a, b any) bool {
	return c.Normalize(a) == c.Normalize(b)
}

// Classify returns the record for an intersection of the given area, or
// false when the area is below the sliver threshold. Values should already
// be normalized; the stored record keeps them as given.
func (c Classifier) Classify(pair CandidatePair, geom orb.MultiPolygon, before, after any, area float64) (ChangeRecord, bool) {
	if area <= 0 || area < c.Threshold {
		return ChangeRecord{}, false
	}
	status := StatusUnchanged
	if !c.Equal(before, after) {
		status = StatusChanged
	}
	return ChangeRecord{
		Pair:        pair,
		Geometry:    geom,
		BeforeValue: before,
		AfterValue:  after,
		Status:      status,
		Area:        area,
	}, true
}

// normalizeScalar coerces a property value into a comparable scalar: nil,
// bool, string or float64. Composite values are encoded as JSON text.
func normalizeScalar(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// FormatValue renders an attribute value for labels and legends.
func FormatValue(v any) string {
	switch t := normalizeScalar(v).(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
