package overlay

import "sort"

// AttributeColumns lists the property keys of the set's first feature,
// sorted. This is what a user can pick as the comparison attribute.
func AttributeColumns(set PolygonSet) []string {
	if len(set.Polygons) == 0 {
		return nil
	}
	cols := make([]string, 0, len(set.Polygons[0].Properties))
	for k := range set.Polygons[0].Properties {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// HasAttribute reports whether any feature of the set carries attr.
func HasAttribute(set PolygonSet, attr string) bool {
	for _, p := range set.Polygons {
		if _, ok := p.Properties[attr]; ok {
			return true
		}
	}
	return false
}

// DistinctValues returns the strictly-normalized distinct values of attr in
// first-seen order. Features without the attribute are skipped.
func DistinctValues(set PolygonSet, attr string) []any {
	return distinctValues(Classifier{Equality: EqualityStrict}, nil, set, attr)
}

// distinctValues appends values of set not yet in seen, normalized with c.
func distinctValues(c Classifier, seen map[any]bool, set PolygonSet, attr string) []any {
	if seen == nil {
		seen = make(map[any]bool)
	}
	var out []any
	for _, p := range set.Polygons {
		raw, ok := p.Properties[attr]
		if !ok {
			continue
		}
		v := c.Normalize(raw)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// CombinedDistinctValues returns the distinct values of attr across before
// then after, in first-seen order, normalized under the given equality.
func CombinedDistinctValues(before, after PolygonSet, attr string, equality EqualityMode) []any {
	c := NewClassifier(0, equality)
	seen := make(map[any]bool)
	values := distinctValues(c, seen, before, attr)
	return append(values, distinctValues(c, seen, after, attr)...)
}
