package grading

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/campus-erp/campus/internal/shared"
)

// Auditor records mutations for later review.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service loads overrides from storage and resolves coefficients over them.
type Service struct {
	repo    Repository
	auditor Auditor
}

// NewService builds Service instance. auditor may be nil.
func NewService(repo Repository, auditor Auditor) *Service {
	return &Service{repo: repo, auditor: auditor}
}

// Overrides returns the overrides of one school year.
func (s *Service) Overrides(ctx context.Context, schoolID, schoolYearID int64) ([]Override, error) {
	return s.repo.ListOverrides(ctx, schoolID, schoolYearID)
}

// ReplaceOverrides validates then stores the full override set of a school year.
func (s *Service) ReplaceOverrides(ctx context.Context, actorID, schoolID, schoolYearID int64, overrides []Override) ([]Override, error) {
	if err := ValidateOverrides(overrides); err != nil {
		return nil, err
	}
	saved, err := s.repo.ReplaceOverrides(ctx, schoolID, schoolYearID, overrides)
	if err != nil {
		return nil, fmt.Errorf("grading: replace overrides: %w", err)
	}
	if s.auditor != nil {
		if err := s.auditor.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			SchoolID: &schoolID,
			Action:   "coefficients.replace",
			Entity:   "school_year",
			EntityID: strconv.FormatInt(schoolYearID, 10),
			Meta:     map[string]any{"count": len(saved)},
		}); err != nil {
			return saved, fmt.Errorf("grading: audit: %w", err)
		}
	}
	return saved, nil
}

// EffectiveCoefficient resolves one (grade, subject[, series]) lookup.
func (s *Service) EffectiveCoefficient(ctx context.Context, schoolID, schoolYearID int64, lookup Lookup) (Resolution, error) {
	if lookup.GradeID == "" || lookup.SubjectID == "" {
		return Resolution{}, ErrMissingLookup
	}
	overrides, err := s.repo.ListOverrides(ctx, schoolID, schoolYearID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(overrides, lookup)
}

// EffectiveCoefficients resolves every listed subject of one grade.
func (s *Service) EffectiveCoefficients(ctx context.Context, schoolID, schoolYearID int64, gradeID string, seriesID *string, subjectIDs []string) (map[string]float64, error) {
	if gradeID == "" {
		return nil, ErrMissingLookup
	}
	overrides, err := s.repo.ListOverrides(ctx, schoolID, schoolYearID)
	if err != nil {
		return nil, err
	}
	return ResolveMany(overrides, gradeID, seriesID, subjectIDs)
}

// StudentAverage weights subject averages by their effective coefficients.
// The returned scores carry the coefficient used for each subject.
func (s *Service) StudentAverage(ctx context.Context, schoolID, schoolYearID int64, gradeID string, seriesID *string, averages map[string]float64) (float64, bool, []SubjectScore, error) {
	subjectIDs := make([]string, 0, len(averages))
	for id := range averages {
		subjectIDs = append(subjectIDs, id)
	}
	coefficients, err := s.EffectiveCoefficients(ctx, schoolID, schoolYearID, gradeID, seriesID, subjectIDs)
	if err != nil {
		return 0, false, nil, err
	}
	scores := make([]SubjectScore, 0, len(averages))
	for _, id := range sortedKeys(averages) {
		scores = append(scores, SubjectScore{SubjectID: id, Average: averages[id], Coefficient: coefficients[id]})
	}
	avg, ok := WeightedAverage(scores)
	return avg, ok, scores, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
