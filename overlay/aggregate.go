package overlay

import "sort"

// Aggregator accumulates change records into area totals and the change
// matrix. It is not safe for concurrent use; the orchestrator gives each
// before polygon its own aggregator and merges them in index order.
type Aggregator struct {
	changedArea   float64
	unchangedArea float64
	entries       map[TransitionKey]*ChangeMatrixEntry
	order         []TransitionKey
	records       []ChangeRecord
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[TransitionKey]*ChangeMatrixEntry)}
}

// Add records one classified intersection.
func (a *Aggregator) Add(r ChangeRecord) {
	a.records = append(a.records, r)
	if r.Status != StatusChanged {
		a.unchangedArea += r.Area
		return
	}
	a.changedArea += r.Area

	key := r.Transition()
	entry, ok := a.entries[key]
	if !ok {
		entry = &ChangeMatrixEntry{From: r.BeforeValue, To: r.AfterValue}
		a.entries[key] = entry
		a.order = append(a.order, key)
	}
	entry.Area += r.Area
	entry.Count++
}

// Merge appends every record of other, in other's order.
func (a *Aggregator) Merge(other *Aggregator) {
	for _, r := range other.records {
		a.Add(r)
	}
}

// TotalArea is changed plus unchanged area.
func (a *Aggregator) TotalArea() float64 { return a.changedArea + a.unchangedArea }

// ChangedArea is the summed area of changed records.
func (a *Aggregator) ChangedArea() float64 { return a.changedArea }

// UnchangedArea is the summed area of unchanged records.
func (a *Aggregator) UnchangedArea() float64 { return a.unchangedArea }

// Records returns the accumulated records in insertion order.
func (a *Aggregator) Records() []ChangeRecord { return a.records }

// Matrix returns the change matrix sorted by area, largest first. Entries
// with equal area keep the order in which their transition was first seen.
func (a *Aggregator) Matrix() []ChangeMatrixEntry {
	out := make([]ChangeMatrixEntry, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.entries[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Area > out[j].Area
	})
	return out
}

// ChangePercentage returns changed/total*100, or 0 when nothing was
// measured.
func (a *Aggregator) ChangePercentage() float64 {
	total := a.TotalArea()
	if total <= 0 {
		return 0
	}
	return a.changedArea / total * 100
}
