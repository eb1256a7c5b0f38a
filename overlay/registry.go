package overlay

import (
	"sync"
	"time"
)

// DefaultRegistrySize is how many results a Registry keeps by default.
const DefaultRegistrySize = 32

// StoredResult is one analysis held by a Registry.
type StoredResult struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Result    *AnalysisResult `json:"result"`
}

// Registry keeps the most recent analysis results in memory, evicting the
// oldest once full. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	max     int
	results map[string]*StoredResult
	order   []string // insertion order, oldest first
}

// NewRegistry returns a registry holding at most max results.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultRegistrySize
	}
	return &Registry{
		max:     max,
		results: make(map[string]*StoredResult),
	}
}

// Put stores r under id, replacing any previous entry with that id.
func (rg *Registry) Put(id string, r *AnalysisResult) *StoredResult {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	sr := &StoredResult{ID: id, CreatedAt: time.Now().UTC(), Result: r}
	if _, ok := rg.results[id]; ok {
		rg.removeLocked(id)
	}
	rg.results[id] = sr
	rg.order = append(rg.order, id)

	for len(rg.order) > rg.max {
		rg.removeLocked(rg.order[0])
	}
	return sr
}

// Get returns the result stored under id.
func (rg *Registry) Get(id string) (*StoredResult, bool) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	sr, ok := rg.results[id]
	return sr, ok
}

// List returns stored results, newest first.
func (rg *Registry) List() []*StoredResult {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	out := make([]*StoredResult, 0, len(rg.order))
	for i := len(rg.order) - 1; i >= 0; i-- {
		out = append(out, rg.results[rg.order[i]])
	}
	return out
}

// Len returns the number of stored results.
func (rg *Registry) Len() int {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return len(rg.order)
}

// Delete drops id. It reports whether anything was removed.
func (rg *Registry) Delete(id string) bool {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if _, ok := rg.results[id]; !ok {
		return false
	}
	rg.removeLocked(id)
	return true
}

func (rg *Registry) removeLocked(id string) {
	delete(rg.results, id)
	for i, v := range rg.order {
		if v == id {
			rg.order = append(rg.order[:i], rg.order[i+1:]...)
			return
		}
	}
}
