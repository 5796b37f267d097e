package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campus-erp/campus/internal/attendance"
	"github.com/campus-erp/campus/internal/auth"
	"github.com/campus-erp/campus/internal/grading"
	"github.com/campus-erp/campus/internal/observability"
	"github.com/campus-erp/campus/internal/platform/httpx"
	"github.com/campus-erp/campus/internal/rbac"
	"github.com/campus-erp/campus/internal/shared"
	"github.com/campus-erp/campus/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	RBACHandler       *rbac.Handler
	GradingHandler    *grading.Handler
	AttendanceHandler *attendance.Handler
	JobHandler        *jobs.Handler
	RBACMiddleware    rbac.Middleware
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with campus defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RBACHandler != nil {
		r.Route("/rbac", params.RBACHandler.MountRoutes)
	}
	if params.GradingHandler != nil {
		r.Route("/coefficients", params.GradingHandler.MountRoutes)
	}
	if params.AttendanceHandler != nil {
		r.Route("/attendance", params.AttendanceHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireSystemAccess)
			params.JobHandler.MountRoutes(r)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})
	return r
}
