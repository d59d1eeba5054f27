package service

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// SeriesInput is one parameter's contribution to interval reconstruction:
// its latest-version facts sorted by valid time, plus the validity period
// that projects each fact onto the time axis.
type SeriesInput struct {
	Parameter string
	Facts     []domain.Fact
	Window    domain.ValidityPeriod
}

// IntervalReconstructor derives, from point measurements, the maximal time
// intervals over which a classified state held.
type IntervalReconstructor struct {
	logger     *logrus.Logger
	classifier *Classifier
}

// NewIntervalReconstructor creates a new reconstructor sharing the given
// classifier.
func NewIntervalReconstructor(logger *logrus.Logger, classifier *Classifier) *IntervalReconstructor {
	return &IntervalReconstructor{logger: logger, classifier: classifier}
}

// SingleParam reconstructs intervals for a state derived from one
// parameter. Each measurement projects its classified state onto its whole
// validity window; same-state windows that overlap or touch merge.
func (r *IntervalReconstructor) SingleParam(rs *domain.ClassificationRuleSet, gender domain.Gender, in SeriesInput) []domain.StateInterval {
	var intervals []domain.StateInterval
	for _, f := range in.Facts {
		state, ok := r.classifier.Evaluate(rs, gender, map[string]string{in.Parameter: f.Value})
		if !ok {
			continue
		}
		start, end := in.Window.Window(f.ValidTime)
		intervals = append(intervals, domain.StateInterval{Start: start, End: end, State: state})
	}
	return MergeIntervals(intervals)
}

// Paired reconstructs intervals for a state derived from two parameters.
// Every pair of measurements whose validity windows intersect contributes
// the classified state over the intersection; the pairing is the full
// cross product, so n row facts and m column facts yield up to n*m
// candidate intervals before merging.
func (r *IntervalReconstructor) Paired(rs *domain.ClassificationRuleSet, gender domain.Gender, row, col SeriesInput) []domain.StateInterval {
	var intervals []domain.StateInterval
	for _, rf := range row.Facts {
		rStart, rEnd := row.Window.Window(rf.ValidTime)
		for _, cf := range col.Facts {
			cStart, cEnd := col.Window.Window(cf.ValidTime)
			start, end := laterOf(rStart, cStart), earlierOf(rEnd, cEnd)
			if start.After(end) {
				continue
			}
			state, ok := r.classifier.Evaluate(rs, gender, map[string]string{
				row.Parameter: rf.Value,
				col.Parameter: cf.Value,
			})
			if !ok {
				continue
			}
			intervals = append(intervals, domain.StateInterval{Start: start, End: end, State: state})
		}
	}
	return MergeIntervals(intervals)
}

// Graded reconstructs intervals for a maximal-OR state. The grade can flip
// whenever any contributing measurement enters or leaves validity, so the
// timeline is resampled at every window boundary and the table is
// re-evaluated on each resulting segment.
func (r *IntervalReconstructor) Graded(rs *domain.ClassificationRuleSet, inputs []SeriesInput) []domain.StateInterval {
	boundaries := collectBoundaries(inputs)
	if len(boundaries) < 2 {
		return nil
	}

	var intervals []domain.StateInterval
	for i := 0; i+1 < len(boundaries); i++ {
		a, b := boundaries[i], boundaries[i+1]
		mid := a.Add(b.Sub(a) / 2)
		values := make(map[string]string, len(inputs))
		for _, in := range inputs {
			if v, ok := valueAt(in, mid); ok {
				values[in.Parameter] = v
			}
		}
		grade, ok := r.classifier.EvaluateGrade(rs, values)
		if !ok || !grade.IsDefined() {
			continue
		}
		intervals = append(intervals, domain.StateInterval{Start: a, End: b, State: grade.Canonical()})
	}
	return MergeIntervals(intervals)
}

// valueAt finds the authoritative value of one parameter at time t: the
// fact with the greatest valid time whose validity window contains t.
func valueAt(in SeriesInput, t time.Time) (string, bool) {
	for i := len(in.Facts) - 1; i >= 0; i-- {
		if in.Window.Contains(in.Facts[i].ValidTime, t) {
			return in.Facts[i].Value, true
		}
	}
	return "", false
}

func collectBoundaries(inputs []SeriesInput) []time.Time {
	var points []time.Time
	for _, in := range inputs {
		for _, f := range in.Facts {
			start, end := in.Window.Window(f.ValidTime)
			points = append(points, start, end)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	var distinct []time.Time
	for _, p := range points {
		if len(distinct) == 0 || !distinct[len(distinct)-1].Equal(p) {
			distinct = append(distinct, p)
		}
	}
	return distinct
}

// MergeIntervals folds same-state intervals that overlap or touch into
// maximal ones. Intervals are closed, so [10:00, 12:00] and [12:00, 13:00]
// merge. The fold is idempotent and insensitive to input order; intervals
// with different states never merge, even when they overlap.
func MergeIntervals(intervals []domain.StateInterval) []domain.StateInterval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]domain.StateInterval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].End.Before(sorted[j].End)
	})

	merged := make(map[string][]domain.StateInterval)
	var order []string
	for _, iv := range sorted {
		runs := merged[iv.State]
		if n := len(runs); n > 0 && !iv.Start.After(runs[n-1].End) {
			if iv.End.After(runs[n-1].End) {
				runs[n-1].End = iv.End
			}
			merged[iv.State] = runs
			continue
		}
		if len(merged[iv.State]) == 0 {
			order = append(order, iv.State)
		}
		merged[iv.State] = append(runs, iv)
	}

	var out []domain.StateInterval
	for _, state := range order {
		out = append(out, merged[state]...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].State < out[j].State
	})
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
