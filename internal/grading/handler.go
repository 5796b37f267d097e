package grading

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campus-erp/campus/internal/platform/httpx"
	"github.com/campus-erp/campus/internal/rbac"
)

// Handler exposes coefficient overrides and resolution over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers coefficient routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceCoefficients, rbac.ActionView))
		r.Get("/overrides", h.listOverrides)
		r.Get("/effective", h.effective)
		r.Post("/average", h.average)
	})
	r.With(h.rbac.RequireAll(rbac.ResourceCoefficients, rbac.ActionCreate, rbac.ActionEdit, rbac.ActionDelete)).
		Put("/overrides", h.replaceOverrides)
}

type overrideInput struct {
	GradeID   *string `json:"grade_id" validate:"omitempty,min=1"`
	SubjectID *string `json:"subject_id" validate:"omitempty,min=1"`
	SeriesID  *string `json:"series_id" validate:"omitempty,min=1"`
	Value     float64 `json:"value" validate:"gte=0,lte=20"`
}

type replaceOverridesRequest struct {
	SchoolYearID int64           `json:"school_year_id" validate:"required,gt=0"`
	Overrides    []overrideInput `json:"overrides" validate:"dive"`
}

type averageRequest struct {
	SchoolYearID int64              `json:"school_year_id" validate:"required,gt=0"`
	GradeID      string             `json:"grade_id" validate:"required"`
	SeriesID     *string            `json:"series_id" validate:"omitempty,min=1"`
	Averages     map[string]float64 `json:"averages" validate:"required,min=1,dive,gte=0,lte=20"`
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := activeSchool(w, r)
	if !ok {
		return
	}
	yearID, ok := queryID(w, r, "school_year_id")
	if !ok {
		return
	}
	overrides, err := h.service.Overrides(r.Context(), schoolID, yearID)
	if err != nil {
		h.respondError(w, "list overrides", err)
		return
	}
	if overrides == nil {
		overrides = []Override{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (h *Handler) replaceOverrides(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := activeSchool(w, r)
	if !ok {
		return
	}
	var req replaceOverridesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	overrides := make([]Override, len(req.Overrides))
	for i, in := range req.Overrides {
		overrides[i] = Override{
			GradeID:   trimmed(in.GradeID),
			SubjectID: trimmed(in.SubjectID),
			SeriesID:  trimmed(in.SeriesID),
			Value:     in.Value,
		}
	}
	subject, _ := rbac.SubjectFromContext(r.Context())
	saved, err := h.service.ReplaceOverrides(r.Context(), subject.UserID, schoolID, req.SchoolYearID, overrides)
	if err != nil {
		h.respondError(w, "replace overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": saved})
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := activeSchool(w, r)
	if !ok {
		return
	}
	yearID, ok := queryID(w, r, "school_year_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	gradeID := strings.TrimSpace(q.Get("grade_id"))
	seriesID := trimmed(optional(q.Get("series_id")))
	subjectIDs := q["subject_id"]
	if gradeID == "" || len(subjectIDs) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", ErrMissingLookup.Error())
		return
	}
	if len(subjectIDs) == 1 {
		res, err := h.service.EffectiveCoefficient(r.Context(), schoolID, yearID, Lookup{GradeID: gradeID, SubjectID: subjectIDs[0], SeriesID: seriesID})
		if err != nil {
			h.respondError(w, "effective coefficient", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"grade_id":    gradeID,
			"subject_id":  subjectIDs[0],
			"series_id":   seriesID,
			"coefficient": res.Value,
			"default":     res.Default(),
			"override":    res.Override,
		})
		return
	}
	coefficients, err := h.service.EffectiveCoefficients(r.Context(), schoolID, yearID, gradeID, seriesID, subjectIDs)
	if err != nil {
		h.respondError(w, "effective coefficients", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grade_id": gradeID, "series_id": seriesID, "coefficients": coefficients})
}

func (h *Handler) average(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := activeSchool(w, r)
	if !ok {
		return
	}
	var req averageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	avg, ok, scores, err := h.service.StudentAverage(r.Context(), schoolID, req.SchoolYearID, req.GradeID, trimmed(req.SeriesID), req.Averages)
	if err != nil {
		h.respondError(w, "student average", err)
		return
	}
	resp := map[string]any{"scores": scores, "weighted": ok}
	if ok {
		resp["average"] = avg
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrAmbiguousCoefficientOverride), errors.Is(err, ErrCoefficientOutOfRange):
		if h.logger != nil {
			h.logger.Warn(op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusConflict, "Coefficient Data Error", err.Error())
	case errors.Is(err, ErrDuplicateScope), errors.Is(err, ErrMissingLookup):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func activeSchool(w http.ResponseWriter, r *http.Request) (int64, bool) {
	subject, _ := rbac.SubjectFromContext(r.Context())
	if subject.SchoolID == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "no active school")
		return 0, false
	}
	return *subject.SchoolID, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func optional(s string) *string {
	return &s
}

// trimmed normalises optional scope keys: blank means wildcard.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
