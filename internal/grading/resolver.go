package grading

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Resolution is the outcome of resolving one lookup.
type Resolution struct {
	Value float64
	// Override is the winning override; nil when the default applied.
	Override *Override
}

// Default reports whether no override matched.
func (r Resolution) Default() bool {
	return r.Override == nil
}

// ResolveEffectiveCoefficient returns the coefficient that applies to lookup.
func ResolveEffectiveCoefficient(overrides []Override, lookup Lookup) (float64, error) {
	res, err := Resolve(overrides, lookup)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// Resolve picks the most specific override matching lookup. Two matches at the
// winning specificity are a data error, as is a winning value outside the
// coefficient range. No match resolves to DefaultCoefficient.
func Resolve(overrides []Override, lookup Lookup) (Resolution, error) {
	var (
		best     *Override
		bestRank = Specificity(-1)
		tied     []int64
	)
	for i := range overrides {
		o := &overrides[i]
		if !o.Matches(lookup) {
			continue
		}
		rank := o.Specificity()
		switch {
		case rank > bestRank:
			best, bestRank, tied = o, rank, nil
		case rank == bestRank:
			if tied == nil {
				tied = []int64{best.ID}
			}
			tied = append(tied, o.ID)
		}
	}
	if best == nil {
		return Resolution{Value: DefaultCoefficient}, nil
	}
	if len(tied) > 0 {
		return Resolution{}, fmt.Errorf("%w: grade %s subject %s%s overrides %s",
			ErrAmbiguousCoefficientOverride, lookup.GradeID, lookup.SubjectID, seriesLabel(lookup.SeriesID), joinIDs(tied))
	}
	if err := checkRange(best.Value); err != nil {
		return Resolution{}, fmt.Errorf("override %d: %w", best.ID, err)
	}
	winner := *best
	return Resolution{Value: winner.Value, Override: &winner}, nil
}

// ResolveMany resolves the coefficient of every subject of one grade.
func ResolveMany(overrides []Override, gradeID string, seriesID *string, subjectIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(subjectIDs))
	for _, subjectID := range subjectIDs {
		value, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: gradeID, SubjectID: subjectID, SeriesID: seriesID})
		if err != nil {
			return nil, err
		}
		out[subjectID] = value
	}
	return out, nil
}

// ValidateOverrides rejects sets that bind the same scope twice or carry
// out-of-range values. Run it before persisting overrides.
func ValidateOverrides(overrides []Override) error {
	seen := make(map[string]int64, len(overrides))
	for _, o := range overrides {
		if err := checkRange(o.Value); err != nil {
			return fmt.Errorf("override %d: %w", o.ID, err)
		}
		key := o.scopeKey()
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: overrides %d and %d", ErrDuplicateScope, prev, o.ID)
		}
		seen[key] = o.ID
	}
	return nil
}

// WeightedAverage returns sum(average*coefficient)/sum(coefficient). Subjects
// weighted zero do not count; ok is false when nothing carries weight.
func WeightedAverage(scores []SubjectScore) (avg float64, ok bool) {
	var total, weight float64
	for _, s := range scores {
		if s.Coefficient <= 0 {
			continue
		}
		total += s.Average * s.Coefficient
		weight += s.Coefficient
	}
	if weight == 0 {
		return 0, false
	}
	return total / weight, true
}

func checkRange(v float64) error {
	if v < MinCoefficient || v > MaxCoefficient || math.IsNaN(v) {
		return fmt.Errorf("%w: %g not in [%d, %d]", ErrCoefficientOutOfRange, v, MinCoefficient, MaxCoefficient)
	}
	return nil
}

func seriesLabel(seriesID *string) string {
	if seriesID == nil {
		return ""
	}
	return " series " + *seriesID
}

func joinIDs(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
