package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campus-erp/campus/internal/platform/httpx"
)

// Handler exposes role management and the caller's own permissions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Authenticate).Get("/me", h.me)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(ResourceRoles, ActionView))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.getRole)
	})
	r.With(h.rbac.Require(ResourceRoles, ActionCreate)).Post("/roles", h.createRole)
	r.With(h.rbac.Require(ResourceRoles, ActionEdit)).Put("/roles/{id}/permissions", h.setPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(ResourceUsers, ActionEdit))
		r.Post("/users/{id}/roles", h.assignRole)
		r.Delete("/users/{id}/roles/{roleID}", h.removeRole)
	})
}

type roleResponse struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Scope       Scope               `json:"scope"`
	SchoolID    *int64              `json:"school_id,omitempty"`
	Permissions map[string][]string `json:"permissions"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Scope:       role.Scope,
		SchoolID:    role.SchoolID,
		Permissions: role.Permissions.Map(),
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

type createRoleRequest struct {
	Name        string              `json:"name" validate:"required,max=120"`
	Description string              `json:"description" validate:"max=500"`
	Scope       string              `json:"scope" validate:"required,oneof=school system"`
	Permissions map[string][]string `json:"permissions"`
}

type permissionsRequest struct {
	Permissions map[string][]string `json:"permissions" validate:"required"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, subject)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	roles, err := h.service.ListRoles(r.Context(), subject.SchoolID)
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	out := make([]roleResponse, len(roles))
	for i, role := range roles {
		out[i] = toRoleResponse(role)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	role, err := h.service.GetRole(r.Context(), subject, id)
	if err != nil {
		h.respondError(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	input := CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Scope:       Scope(req.Scope),
		Permissions: req.Permissions,
	}
	if input.Scope == ScopeSystem {
		if !subject.IsSuperAdmin && !subject.HasSystemAccess {
			httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "system roles require system access")
			return
		}
	} else {
		input.SchoolID = subject.SchoolID
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	perms, err := h.service.SetRolePermissions(r.Context(), subject, id, req.Permissions)
	if err != nil {
		h.respondError(w, "set role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id, "permissions": perms})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	if err := h.service.AssignRole(r.Context(), subject, userID, req.RoleID); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	subject, _ := SubjectFromContext(r.Context())
	if err := h.service.RemoveRole(r.Context(), subject, userID, roleID); err != nil {
		h.respondError(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRoleOutOfReach):
		httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), err.Error())
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrEmptyResource), errors.Is(err, ErrRoleNameRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}
