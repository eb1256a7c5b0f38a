package overlay

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxSampleErrors bounds the geometry error messages kept in Diagnostics.
const maxSampleErrors = 10

// areaTolerance is the relative slack allowed when checking that an
// intersection is no larger than its smaller operand.
const areaTolerance = 1e-6

// State is the lifecycle of an Analyzer.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrAlreadyRun is returned when Run is called on an Analyzer that has
// already left the idle state.
var ErrAlreadyRun = eris.New("overlay: analyzer already used")

// Analyzer runs a single overlay analysis. Create one per run.
type Analyzer struct {
	opts  Options
	state atomic.Int32

	mu     sync.Mutex
	result *AnalysisResult
	err    error
}

// NewAnalyzer returns an idle analyzer.
func NewAnalyzer(opts Options) *Analyzer {
	return &Analyzer{opts: opts.withDefaults()}
}

// State returns the analyzer's current state.
func (a *Analyzer) State() State { return State(a.state.Load()) }

// Result returns the outcome of a finished run.
func (a *Analyzer) Result() (*AnalysisResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.err
}

// Analyze is a convenience wrapper around NewAnalyzer(opts).Run.
func Analyze(ctx context.Context, before, after PolygonSet, opts Options) (*AnalysisResult, error) {
	return NewAnalyzer(opts).Run(ctx, before, after)
}

// Run validates the inputs, overlays every before polygon against the after
// set and returns the aggregated result. Input errors and cancellation move
// the analyzer to StateFailed; per-pair geometry failures are counted in
// the result's Diagnostics.
func (a *Analyzer) Run(ctx context.Context, before, after PolygonSet) (*AnalysisResult, error) {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, eris.Wrapf(ErrAlreadyRun, "state %s", a.State())
	}

	res, err := a.run(ctx, before, after)

	a.mu.Lock()
	a.result, a.err = res, err
	a.mu.Unlock()

	if err != nil {
		a.state.Store(int32(StateFailed))
		return nil, err
	}
	a.state.Store(int32(StateComplete))
	return res, nil
}

// pairBatch is everything one before polygon produced.
type pairBatch struct {
	candidates    int
	intersections int
	slivers       int
	agg           *Aggregator
	errs          []*GeometryError
}

func (a *Analyzer) run(ctx context.Context, before, after PolygonSet) (*AnalysisResult, error) {
	opts := a.opts
	log := zap.L().With(zap.String("attribute", opts.Attribute))
	start := time.Now()

	if err := validateInput(before, after, opts.Attribute); err != nil {
		return nil, err
	}

	categories := CombinedDistinctValues(before, after, opts.Attribute, opts.Equality)
	if len(categories) > opts.MaxDistinctValues {
		return nil, newInputError(ErrKindTooManyValues, "",
			"attribute %q has %d distinct values, limit is %d",
			opts.Attribute, len(categories), opts.MaxDistinctValues)
	}
	if categories == nil {
		categories = []any{}
	}

	classifier := NewClassifier(opts.SliverThreshold, opts.Equality)
	beforeValues := setValues(classifier, before, opts.Attribute)
	afterValues := setValues(classifier, after, opts.Attribute)
	afterAreas := make([]float64, len(after.Polygons))
	for j, p := range after.Polygons {
		afterAreas[j] = Area(p.Geometry, opts.AreaMode)
	}

	index := NewSpatialIndex(after)
	log.Debug("spatial index built",
		zap.Int("before", before.Len()),
		zap.Int("after", after.Len()),
		zap.Int("indexed", index.Len()))

	batches := make([]pairBatch, len(before.Polygons))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range before.Polygons {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batches[i] = overlayOne(opts, classifier, index, before, after, i, beforeValues, afterValues, afterAreas)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "overlay: run cancelled")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "overlay: run cancelled")
	}

	// Merging the partial aggregates in before-index order keeps totals and
	// first-seen order independent of worker scheduling.
	agg := NewAggregator()
	diag := Diagnostics{BeforeCount: before.Len(), AfterCount: after.Len()}
	for _, b := range batches {
		diag.CandidatePairs += b.candidates
		diag.Intersections += b.intersections
		diag.SliversDiscarded += b.slivers
		diag.GeometryErrors += len(b.errs)
		for _, ge := range b.errs {
			if len(diag.SampleErrors) < maxSampleErrors {
				diag.SampleErrors = append(diag.SampleErrors, ge.Error())
			}
		}
		if b.agg != nil {
			agg.Merge(b.agg)
		}
	}

	records := agg.Records()
	if records == nil {
		records = []ChangeRecord{}
	}
	result := &AnalysisResult{
		Attribute:        opts.Attribute,
		TotalArea:        agg.TotalArea(),
		ChangedArea:      agg.ChangedArea(),
		UnchangedArea:    agg.UnchangedArea(),
		ChangePercentage: agg.ChangePercentage(),
		ChangeMatrix:     agg.Matrix(),
		ChangeFeatures:   records,
		Categories:       categories,
		ValueColors:      ValueColorMap(categories),
		TransitionColors: TransitionColorMap(records),
		Diagnostics:      diag,
	}

	log.Info("overlay complete",
		zap.Int("before", diag.BeforeCount),
		zap.Int("after", diag.AfterCount),
		zap.Int("candidates", diag.CandidatePairs),
		zap.Int("records", len(records)),
		zap.Int("slivers", diag.SliversDiscarded),
		zap.Int("geometry_errors", diag.GeometryErrors),
		zap.Float64("total_area", result.TotalArea),
		zap.Float64("change_pct", result.ChangePercentage),
		zap.Duration("elapsed", time.Since(start)))
	if diag.GeometryErrors > 0 {
		log.Warn("pairs skipped after geometry errors", zap.Int("count", diag.GeometryErrors))
	}
	return result, nil
}

// overlayOne intersects before polygon i with each of its candidates.
func overlayOne(
	opts Options,
	classifier Classifier,
	index *SpatialIndex,
	before, after PolygonSet,
	i int,
	beforeValues, afterValues []any,
	afterAreas []float64,
) pairBatch {
	batch := pairBatch{agg: NewAggregator()}
	bp := before.Polygons[i]
	if len(bp.Geometry) == 0 {
		return batch
	}

	candidates := index.CandidatesFor(bp.Bound())
	batch.candidates = len(candidates)
	if len(candidates) == 0 {
		return batch
	}
	beforeArea := Area(bp.Geometry, opts.AreaMode)

	for _, j := range candidates {
		geom, err := safeIntersect(opts.Intersector, bp.Geometry, after.Polygons[j].Geometry)
		if err != nil {
			batch.errs = append(batch.errs, geometryError(i, j, err))
			continue
		}
		if len(geom) == 0 {
			continue
		}
		batch.intersections++

		area := Area(geom, opts.AreaMode)
		limit := math.Min(beforeArea, afterAreas[j])
		if area > limit+limit*areaTolerance+opts.SliverThreshold {
			batch.errs = append(batch.errs, geometryError(i, j,
				eris.Errorf("intersection area %g exceeds operand area %g", area, limit)))
			continue
		}

		rec, ok := classifier.Classify(CandidatePair{Before: i, After: j}, geom, beforeValues[i], afterValues[j], area)
		if !ok {
			batch.slivers++
			continue
		}
		batch.agg.Add(rec)
	}
	return batch
}

// safeIntersect turns an intersector panic into an error for that pair.
func safeIntersect(in Intersector, a, b orb.MultiPolygon) (result orb.MultiPolygon, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = eris.Errorf("overlay: intersector panic: %v", r)
		}
	}()
	return in.Intersect(a, b)
}

func geometryError(i, j int, err error) *GeometryError {
	ge := &GeometryError{BeforeIndex: i, AfterIndex: j, Err: err}
	zap.L().Debug("geometry error", zap.Int("before", i), zap.Int("after", j), zap.Error(err))
	return ge
}

// setValues normalizes attr for every polygon; missing values become nil
// (or "" under string equality).
func setValues(c Classifier, set PolygonSet, attr string) []any {
	values := make([]any, len(set.Polygons))
	for i, p := range set.Polygons {
		values[i] = c.Normalize(p.Properties[attr])
	}
	return values
}

func validateInput(before, after PolygonSet, attr string) error {
	if attr == "" {
		return newInputError(ErrKindMissingAttribute, "", "no attribute selected")
	}
	for _, s := range []struct {
		name string
		set  PolygonSet
	}{{"before", before}, {"after", after}} {
		name := s.name
		if s.set.Name != "" {
			name = s.set.Name
		}
		if s.set.Len() == 0 {
			return newInputError(ErrKindEmptySet, name, "no polygons")
		}
		if !HasAttribute(s.set, attr) {
			return newInputError(ErrKindMissingAttribute, name, "no feature has attribute %q", attr)
		}
		for i, p := range s.set.Polygons {
			if !finiteGeometry(p.Geometry) {
				return newInputError(ErrKindInvalidGeometry, name, "polygon %d has non-finite coordinates", i)
			}
		}
	}
	return nil
}
