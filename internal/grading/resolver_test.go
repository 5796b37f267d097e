package grading

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestResolveFallsBackToDefault(t *testing.T) {
	value, err := ResolveEffectiveCoefficient(nil, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultCoefficient), value)

	res, err := Resolve([]Override{{ID: 1, GradeID: str("g2"), Value: 4}}, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Default())
	assert.Equal(t, 1.0, res.Value)
}

func TestResolveSchoolDefaultOverride(t *testing.T) {
	value, err := ResolveEffectiveCoefficient([]Override{{ID: 1, Value: 1}}, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, value)

	value, err = ResolveEffectiveCoefficient([]Override{{ID: 1, Value: 2.5}}, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2.5, value)
}

func TestResolveMostSpecificWins(t *testing.T) {
	overrides := []Override{
		{ID: 1, GradeID: str("g1"), Value: 3},
		{ID: 2, GradeID: str("g1"), SeriesID: str("C"), Value: 5},
	}

	withSeries, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: "g1", SubjectID: "math", SeriesID: str("C")})
	require.NoError(t, err)
	assert.Equal(t, 5.0, withSeries)

	withoutSeries, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: "g1", SubjectID: "math"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, withoutSeries)

	otherSeries, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: "g1", SubjectID: "math", SeriesID: str("D")})
	require.NoError(t, err)
	assert.Equal(t, 3.0, otherSeries)
}

func TestSpecificityOrdering(t *testing.T) {
	ordered := []Override{
		{},
		{GradeID: str("g")},
		{SubjectID: str("s")},
		{GradeID: str("g"), SubjectID: str("s")},
		{SeriesID: str("x")},
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Specificity(), ordered[i-1].Specificity(), "rank %d", i)
	}

	overrides := []Override{
		{ID: 1, Value: 1},
		{ID: 2, GradeID: str("g1"), Value: 2},
		{ID: 3, SubjectID: str("s1"), Value: 3},
		{ID: 4, GradeID: str("g1"), SubjectID: str("s1"), Value: 4},
		{ID: 5, SeriesID: str("A"), Value: 6},
	}
	res, err := Resolve(overrides, Lookup{GradeID: "g1", SubjectID: "s1", SeriesID: str("A")})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Override.ID)

	res, err = Resolve(overrides, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Override.ID)

	res, err = Resolve(overrides, Lookup{GradeID: "g2", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Override.ID)
}

func TestResolveAmbiguous(t *testing.T) {
	overrides := []Override{
		{ID: 7, GradeID: str("g1"), Value: 2},
		{ID: 3, GradeID: str("g1"), Value: 4},
	}

	_, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.ErrorIs(t, err, ErrAmbiguousCoefficientOverride)
	assert.Contains(t, err.Error(), "3,7")

	// a tie below the winning specificity is harmless
	overrides = append(overrides, Override{ID: 9, GradeID: str("g1"), SubjectID: str("s1"), Value: 6})
	value, err := ResolveEffectiveCoefficient(overrides, Lookup{GradeID: "g1", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 6.0, value)
}

func TestResolveOutOfRange(t *testing.T) {
	for _, v := range []float64{-1, 20.5, math.NaN()} {
		_, err := ResolveEffectiveCoefficient([]Override{{ID: 1, Value: v}}, Lookup{GradeID: "g", SubjectID: "s"})
		assert.ErrorIs(t, err, ErrCoefficientOutOfRange, "value %v", v)
	}
	for _, v := range []float64{0, 20} {
		got, err := ResolveEffectiveCoefficient([]Override{{ID: 1, Value: v}}, Lookup{GradeID: "g", SubjectID: "s"})
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	overrides := []Override{
		{ID: 1, SubjectID: str("s1"), Value: 2},
		{ID: 2, GradeID: str("g1"), SubjectID: str("s1"), Value: 4},
	}
	snapshot := append([]Override(nil), overrides...)
	lookup := Lookup{GradeID: "g1", SubjectID: "s1"}

	first, err := Resolve(overrides, lookup)
	require.NoError(t, err)
	second, err := Resolve(overrides, lookup)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, overrides)
	first.Override.Value = 99
	assert.Equal(t, 4.0, overrides[1].Value, "resolution returns a copy")
}

func TestResolveMany(t *testing.T) {
	overrides := []Override{{ID: 1, GradeID: str("g1"), SubjectID: str("math"), Value: 4}}

	got, err := ResolveMany(overrides, "g1", nil, []string{"math", "art"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"math": 4, "art": 1}, got)
}

func TestValidateOverrides(t *testing.T) {
	require.NoError(t, ValidateOverrides([]Override{
		{ID: 1, Value: 1},
		{ID: 2, GradeID: str("g1"), Value: 2},
		{ID: 3, SubjectID: str("g1"), Value: 2},
	}))

	err := ValidateOverrides([]Override{
		{ID: 1, GradeID: str("g1"), Value: 2},
		{ID: 2, GradeID: str("g1"), Value: 3},
	})
	assert.ErrorIs(t, err, ErrDuplicateScope)

	assert.ErrorIs(t, ValidateOverrides([]Override{{ID: 1, Value: 21}}), ErrCoefficientOutOfRange)
}

func TestWeightedAverage(t *testing.T) {
	avg, ok := WeightedAverage([]SubjectScore{
		{SubjectID: "math", Average: 12, Coefficient: 4},
		{SubjectID: "art", Average: 18, Coefficient: 2},
		{SubjectID: "sport", Average: 20, Coefficient: 0},
	})
	require.True(t, ok)
	assert.InDelta(t, 14.0, avg, 1e-9)

	_, ok = WeightedAverage([]SubjectScore{{SubjectID: "x", Average: 10, Coefficient: 0}})
	assert.False(t, ok)
	_, ok = WeightedAverage(nil)
	assert.False(t, ok)
}
