package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/campus-erp/campus/internal/platform/httpx"
	"github.com/campus-erp/campus/internal/shared"
)

// SubjectResolver yields the evaluation context for a user in a school.
type SubjectResolver interface {
	Subject(ctx context.Context, userID int64, schoolID *int64) (Subject, error)
}

// DenialRecorder observes refused permission checks.
type DenialRecorder interface {
	PermissionDenied(resource, action string)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service  SubjectResolver
	Logger   *slog.Logger
	Recorder DenialRecorder
}

type subjectContextKey struct{}

// ContextWithSubject stores the resolved subject in context.
func ContextWithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext extracts the subject stored by the middleware.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey{}).(Subject)
	return subject, ok
}

// Authenticate resolves the subject of the session user and stores it in context.
// Requests without an authenticated session get 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SubjectFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		subject, status := m.resolve(r)
		if status != http.StatusOK {
			httpx.Problem(w, status, http.StatusText(status), "")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
	})
}

// Require ensures the current user holds at least one of actions on resource.
// With no actions it checks view.
func (m Middleware) Require(resource Resource, actions ...Action) func(http.Handler) http.Handler {
	if len(actions) == 0 {
		actions = []Action{ActionView}
	}
	return m.guard(resource, actions, func(s Subject) bool { return s.CanAny(resource, actions...) })
}

// RequireAll ensures the current user holds every one of actions on resource.
func (m Middleware) RequireAll(resource Resource, actions ...Action) func(http.Handler) http.Handler {
	return m.guard(resource, actions, func(s Subject) bool { return s.CanAll(resource, actions...) })
}

// RequireSystemAccess restricts a route to platform operators.
func (m Middleware) RequireSystemAccess(next http.Handler) http.Handler {
	return m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := SubjectFromContext(r.Context())
		if !subject.IsSuperAdmin && !subject.HasSystemAccess {
			m.denied(w, "system", "access")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (m Middleware) guard(resource Resource, actions []Action, allowed func(Subject) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, _ := SubjectFromContext(r.Context())
			if allowed(subject) {
				next.ServeHTTP(w, r)
				return
			}
			m.denied(w, string(resource), joinActions(actions))
		}))
	}
}

func (m Middleware) resolve(r *http.Request) (Subject, int) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return Subject{}, http.StatusUnauthorized
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Subject{}, http.StatusUnauthorized
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.log().Error("rbac parse user id", slog.String("value", raw))
		return Subject{}, http.StatusUnauthorized
	}
	var schoolID *int64
	if rawSchool := strings.TrimSpace(sess.Get(shared.SessionSchoolKey)); rawSchool != "" {
		id, err := strconv.ParseInt(rawSchool, 10, 64)
		if err != nil {
			m.log().Error("rbac parse school id", slog.String("value", rawSchool))
			return Subject{}, http.StatusUnauthorized
		}
		schoolID = &id
	}
	subject, err := m.Service.Subject(r.Context(), userID, schoolID)
	if err != nil {
		m.log().Error("rbac resolve subject", slog.Int64("user_id", userID), slog.Any("error", err))
		return Subject{}, http.StatusInternalServerError
	}
	return subject, http.StatusOK
}

func (m Middleware) denied(w http.ResponseWriter, resource, action string) {
	if m.Recorder != nil {
		m.Recorder.PermissionDenied(resource, action)
	}
	httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "")
}

func (m Middleware) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func joinActions(actions []Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, "|")
}
