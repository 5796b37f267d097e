package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-erp/campus/internal/shared"
)

type stubResolver struct {
	subject  Subject
	err      error
	userID   int64
	schoolID *int64
}

func (s *stubResolver) Subject(ctx context.Context, userID int64, schoolID *int64) (Subject, error) {
	s.userID, s.schoolID = userID, schoolID
	if s.err != nil {
		return Subject{}, s.err
	}
	return s.subject, nil
}

type denials struct {
	calls []string
}

func (d *denials) PermissionDenied(resource, action string) {
	d.calls = append(d.calls, resource+":"+action)
}

func serve(t *testing.T, handler http.Handler, sess *shared.Session) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func userSession(user, school string) *shared.Session {
	sess := &shared.Session{}
	sess.SetUser(user)
	if school != "" {
		sess.Set(shared.SessionSchoolKey, school)
	}
	return sess
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthenticateRequiresUser(t *testing.T) {
	mw := Middleware{Service: &stubResolver{}}

	assert.Equal(t, http.StatusUnauthorized, serve(t, mw.Authenticate(okHandler), nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, mw.Authenticate(okHandler), &shared.Session{}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, mw.Authenticate(okHandler), userSession("abc", "")).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, mw.Authenticate(okHandler), userSession("1", "x")).Code)
}

func TestAuthenticatePassesSessionSchool(t *testing.T) {
	resolver := &stubResolver{subject: Subject{UserID: 5}}
	mw := Middleware{Service: resolver}

	var seen Subject
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
	}))
	serve(t, handler, userSession("5", "9"))

	assert.Equal(t, int64(5), resolver.userID)
	require.NotNil(t, resolver.schoolID)
	assert.Equal(t, int64(9), *resolver.schoolID)
	assert.Equal(t, int64(5), seen.UserID)
}

func TestAuthenticateResolverFailure(t *testing.T) {
	mw := Middleware{Service: &stubResolver{err: errors.New("db down")}}

	assert.Equal(t, http.StatusInternalServerError, serve(t, mw.Authenticate(okHandler), userSession("5", "")).Code)
}

func TestRequire(t *testing.T) {
	perms := MustParsePermissionSet(map[string][]string{"grades": {"view"}})
	recorder := &denials{}
	mw := Middleware{Service: &stubResolver{subject: Subject{UserID: 5, Permissions: perms}}, Recorder: recorder}

	assert.Equal(t, http.StatusOK, serve(t, mw.Require(ResourceGrades)(okHandler), userSession("5", "")).Code)
	assert.Equal(t, http.StatusOK, serve(t, mw.Require(ResourceGrades, ActionEdit, ActionView)(okHandler), userSession("5", "")).Code)

	res := serve(t, mw.Require(ResourceGrades, ActionEdit, ActionDelete)(okHandler), userSession("5", ""))
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusForbidden, serve(t, mw.RequireAll(ResourceGrades, ActionView, ActionEdit)(okHandler), userSession("5", "")).Code)
	assert.Equal(t, []string{"grades:edit|delete", "grades:view|edit"}, recorder.calls)
}

func TestRequireSuperAdmin(t *testing.T) {
	mw := Middleware{Service: &stubResolver{subject: Subject{UserID: 1, IsSuperAdmin: true}}}

	assert.Equal(t, http.StatusOK, serve(t, mw.RequireAll(ResourceUsers, ActionDelete, ActionExport)(okHandler), userSession("1", "")).Code)
}

func TestRequireSystemAccess(t *testing.T) {
	recorder := &denials{}
	regular := Middleware{Service: &stubResolver{subject: Subject{UserID: 2}}, Recorder: recorder}
	operator := Middleware{Service: &stubResolver{subject: Subject{UserID: 3, HasSystemAccess: true}}}

	assert.Equal(t, http.StatusForbidden, serve(t, regular.RequireSystemAccess(okHandler), userSession("2", "")).Code)
	assert.Equal(t, []string{"system:access"}, recorder.calls)
	assert.Equal(t, http.StatusOK, serve(t, operator.RequireSystemAccess(okHandler), userSession("3", "")).Code)
}

func TestSubjectResolvedOncePerRequest(t *testing.T) {
	resolver := &stubResolver{subject: Subject{UserID: 5, Permissions: MustParsePermissionSet(map[string][]string{"grades": {"view"}})}}
	calls := 0
	counting := Middleware{Service: resolverFunc(func(ctx context.Context, userID int64, schoolID *int64) (Subject, error) {
		calls++
		return resolver.Subject(ctx, userID, schoolID)
	})}

	handler := counting.Require(ResourceGrades)(counting.Require(ResourceGrades, ActionView)(okHandler))
	assert.Equal(t, http.StatusOK, serve(t, handler, userSession("5", "")).Code)
	assert.Equal(t, 1, calls)
}

type resolverFunc func(ctx context.Context, userID int64, schoolID *int64) (Subject, error)

func (f resolverFunc) Subject(ctx context.Context, userID int64, schoolID *int64) (Subject, error) {
	return f(ctx, userID, schoolID)
}
