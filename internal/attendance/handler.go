package attendance

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/campus-erp/campus/internal/platform/httpx"
	"github.com/campus-erp/campus/internal/rbac"
)

// Handler exposes teacher check-ins over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. Check-ins are limited to 10 per minute per user.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if subject, ok := rbacSubject(r); ok {
			return "user:" + strconv.FormatInt(subject.UserID, 10), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New(), rateLimit: limiter}
}

// MountRoutes registers attendance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(rbac.ResourceAttendance, rbac.ActionCreate), h.rateLimit).
		Post("/check-in", h.checkIn)
	r.With(h.rbac.Require(rbac.ResourceAttendance, rbac.ActionView)).
		Get("/check-ins", h.listCheckIns)
}

type checkInRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  float64  `json:"accuracy" validate:"gte=0"`
	ClientKey string   `json:"client_key" validate:"omitempty,max=128"`
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	subject, ok := rbacSubject(r)
	if !ok || subject.SchoolID == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "no active school")
		return
	}
	var req checkInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	key := strings.TrimSpace(req.ClientKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	record, err := h.service.CheckIn(r.Context(), CheckInInput{
		SchoolID:  *subject.SchoolID,
		TeacherID: subject.UserID,
		Position:  Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude, Accuracy: req.Accuracy},
		ClientKey: key,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if !record.IsValid {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, record)
}

func (h *Handler) listCheckIns(w http.ResponseWriter, r *http.Request) {
	subject, ok := rbacSubject(r)
	if !ok || subject.SchoolID == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "no active school")
		return
	}
	var day time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("day")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	list, err := h.service.ListCheckIns(r.Context(), *subject.SchoolID, day)
	if err != nil {
		h.respondError(w, err)
		return
	}
	checkIns := list.CheckIns
	if checkIns == nil {
		checkIns = []CheckIn{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"day": list.Day.Format(time.DateOnly), "check_ins": checkIns})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWindowClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Check-in Window Closed", err.Error())
	case errors.Is(err, ErrNoGeofence):
		httpx.Problem(w, http.StatusConflict, "School Location Missing", err.Error())
	case errors.Is(err, ErrUnknownSchool):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCheckIn):
		httpx.Problem(w, http.StatusConflict, "Duplicate Check-in", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("attendance check-in", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func rbacSubject(r *http.Request) (rbac.Subject, bool) {
	return rbac.SubjectFromContext(r.Context())
}
