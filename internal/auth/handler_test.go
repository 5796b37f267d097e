package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campus-erp/campus/internal/auth"
	"github.com/campus-erp/campus/internal/shared"
	_ "github.com/campus-erp/campus/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, auth.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type fixture struct {
	router   chi.Router
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
	repo     *stubRepo
}

func newFixture(t *testing.T, user *auth.User) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	repo := &stubRepo{user: user}
	handler := auth.NewHandler(nil, auth.NewService(repo), sessions, shared.NewCSRFManager("csrfsecret"))
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return &fixture{router: r, sessions: sessions, redis: mr, repo: repo}
}

func (f *fixture) do(t *testing.T, sess *shared.Session, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := shared.ContextWithSession(req.Context(), sess)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req.WithContext(ctx))
	require.NoError(t, f.sessions.Commit(ctx, res, sess))
	return res
}

func (f *fixture) newSession(t *testing.T) *shared.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return sess
}

func teacher(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	school := int64(7)
	return &auth.User{ID: 1, Email: "teacher@school.test", PasswordHash: string(hashed), IsActive: true, SchoolID: &school}
}

func TestCSRFIssuesStableToken(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.newSession(t)

	res := f.do(t, sess, http.MethodGet, "/auth/csrf", "")
	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.NotEmpty(t, body["csrf_token"])
	assert.Equal(t, body["csrf_token"], sess.Get(shared.CSRFSessionKey))

	again := f.do(t, sess, http.MethodGet, "/auth/csrf", "")
	var second map[string]string
	require.NoError(t, json.NewDecoder(again.Body).Decode(&second))
	assert.Equal(t, body["csrf_token"], second["csrf_token"])
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, teacher(t))
	sess := f.newSession(t)

	res := f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"teacher@school.test","password":"wrongpass"}`)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Empty(t, sess.User())
}

func TestLoginUnknownUser(t *testing.T) {
	f := newFixture(t, teacher(t))
	sess := f.newSession(t)

	res := f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"nobody@school.test","password":"correctpass"}`)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, teacher(t))
	sess := f.newSession(t)

	res := f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"short"}`)

	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), `"Email":"email"`)
	assert.Contains(t, res.Body.String(), `"Password":"min"`)
}

func TestLoginStoresUserAndHomeSchool(t *testing.T) {
	f := newFixture(t, teacher(t))
	sess := f.newSession(t)
	f.do(t, sess, http.MethodGet, "/auth/csrf", "")
	anonymousID := sess.ID
	anonymousToken := sess.Get(shared.CSRFSessionKey)

	// a regular user cannot switch to another school
	res := f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"teacher@school.test","password":"correctpass","school_id":99}`)

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "1", sess.User())
	assert.Equal(t, "7", sess.Get(shared.SessionSchoolKey))
	assert.NotEqual(t, anonymousID, sess.ID)
	assert.NotEqual(t, anonymousToken, sess.Get(shared.CSRFSessionKey))
	// the anonymous session was replaced, not copied
	assert.Len(t, f.redis.Keys(), 1)
	assert.Equal(t, int64(1), f.repo.sessions[sess.ID])

	var body struct {
		UserID    int64  `json:"user_id"`
		SchoolID  *int64 `json:"school_id"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, int64(1), body.UserID)
	require.NotNil(t, body.SchoolID)
	assert.Equal(t, int64(7), *body.SchoolID)
	assert.Equal(t, sess.Get(shared.CSRFSessionKey), body.CSRFToken)
}

func TestLoginOperatorPicksSchool(t *testing.T) {
	admin := teacher(t)
	admin.SchoolID = nil
	admin.IsSuperAdmin = true
	f := newFixture(t, admin)
	sess := f.newSession(t)

	res := f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"teacher@school.test","password":"correctpass","school_id":99}`)

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "99", sess.Get(shared.SessionSchoolKey))
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newFixture(t, teacher(t))
	sess := f.newSession(t)
	f.do(t, sess, http.MethodPost, "/auth/login", `{"email":"teacher@school.test","password":"correctpass"}`)
	require.Len(t, f.redis.Keys(), 1)

	res := f.do(t, sess, http.MethodPost, "/auth/logout", "")

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Empty(t, f.redis.Keys())
	assert.Empty(t, f.repo.sessions)
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
