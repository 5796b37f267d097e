package grading

import (
	"errors"
	"time"
)

// Coefficient bounds and the value used when no override applies.
const (
	MinCoefficient     = 0
	MaxCoefficient     = 20
	DefaultCoefficient = 1
)

var (
	// ErrAmbiguousCoefficientOverride signals two matching overrides at the winning specificity.
	ErrAmbiguousCoefficientOverride = errors.New("grading: ambiguous coefficient override")
	// ErrCoefficientOutOfRange signals a coefficient outside [MinCoefficient, MaxCoefficient].
	ErrCoefficientOutOfRange = errors.New("grading: coefficient out of range")
	// ErrDuplicateScope is returned when a set of overrides binds the same scope twice.
	ErrDuplicateScope = errors.New("grading: duplicate override scope")
	// ErrMissingLookup is returned when grade or subject is not provided.
	ErrMissingLookup = errors.New("grading: grade and subject required")
)

// Override binds a coefficient to a scope. Nil scope fields are wildcards.
type Override struct {
	ID           int64     `json:"id"`
	SchoolID     int64     `json:"school_id"`
	SchoolYearID int64     `json:"school_year_id"`
	GradeID      *string   `json:"grade_id,omitempty"`
	SubjectID    *string   `json:"subject_id,omitempty"`
	SeriesID     *string   `json:"series_id,omitempty"`
	Value        float64   `json:"value"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Lookup identifies the (grade, subject[, series]) pair being resolved.
type Lookup struct {
	GradeID   string
	SubjectID string
	SeriesID  *string
}

// Specificity ranks overrides by how narrow their scope is. Series weighs more
// than subject and grade combined, and subject more than grade, which yields
// series > subject+grade > subject > grade > school default.
type Specificity int

const (
	SpecificitySchoolDefault Specificity = 0
	SpecificityGrade         Specificity = 1
	SpecificitySubject       Specificity = 2
	SpecificitySubjectGrade  Specificity = 3
	SpecificitySeries        Specificity = 4
)

// Specificity returns the rank of the override's scope.
func (o Override) Specificity() Specificity {
	var s Specificity
	if o.GradeID != nil {
		s += SpecificityGrade
	}
	if o.SubjectID != nil {
		s += SpecificitySubject
	}
	if o.SeriesID != nil {
		s += SpecificitySeries
	}
	return s
}

// Matches reports whether the override applies to the lookup.
func (o Override) Matches(l Lookup) bool {
	if o.GradeID != nil && *o.GradeID != l.GradeID {
		return false
	}
	if o.SubjectID != nil && *o.SubjectID != l.SubjectID {
		return false
	}
	if o.SeriesID != nil && (l.SeriesID == nil || *o.SeriesID != *l.SeriesID) {
		return false
	}
	return true
}

func (o Override) scopeKey() string {
	return deref(o.GradeID) + "\x00" + deref(o.SubjectID) + "\x00" + deref(o.SeriesID) + "\x00" +
		presence(o.GradeID) + presence(o.SubjectID) + presence(o.SeriesID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func presence(s *string) string {
	if s == nil {
		return "_"
	}
	return "x"
}

// SubjectScore is a subject average paired with its effective coefficient.
type SubjectScore struct {
	SubjectID   string  `json:"subject_id"`
	Average     float64 `json:"average"`
	Coefficient float64 `json:"coefficient"`
}
