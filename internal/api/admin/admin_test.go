package admin

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parlance-app/backend/internal/api/middleware"
	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/stats"
	"github.com/parlance-app/backend/internal/store"
	"github.com/parlance-app/backend/internal/testutil"
)

var (
	adminIdentity = &auth.Identity{Subject: "auth0|admin", Email: "admin@example.com"}
	adminUser     = &store.User{ID: uuid.New(), AuthSubject: "auth0|admin", Role: store.RoleAdmin}
)

type fixture struct {
	users   *testutil.MockUserStore
	stats   *testutil.MockStats
	objects *testutil.MockObjects
	opts    Options
}

func newFixture() *fixture {
	f := &fixture{
		users:   new(testutil.MockUserStore),
		stats:   new(testutil.MockStats),
		objects: new(testutil.MockObjects),
	}
	f.opts = Options{
		Users:      f.users,
		Stats:      f.stats,
		Cache:      f.stats,
		StatsTable: "Sessions",
		Uploads:    f.objects,
		Now:        func() time.Time { return time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC) },
	}
	return f
}

func (f *fixture) engine(t *testing.T, id *auth.Identity) http.Handler {
	h := New(f.opts)
	return testutil.NewEngine(t, id, h.Register)
}

func (f *fixture) asAdmin(t *testing.T) http.Handler {
	f.users.On("GetUserBySubject", mock.Anything, adminIdentity.Subject).Return(adminUser, nil)
	return f.engine(t, adminIdentity)
}

func TestRequireAdmin(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		f := newFixture()
		w := testutil.Do(t, f.engine(t, nil), http.MethodGet, "/api/users", nil)
		testutil.AssertError(t, w, http.StatusUnauthorized, "authentication required")
	})

	t.Run("learner", func(t *testing.T) {
		f := newFixture()
		id := &auth.Identity{Subject: "auth0|learner"}
		f.users.On("GetUserBySubject", mock.Anything, id.Subject).
			Return(&store.User{Role: store.RoleLearner}, nil)

		w := testutil.Do(t, f.engine(t, id), http.MethodGet, "/api/users", nil)
		testutil.AssertError(t, w, http.StatusForbidden, "admin access required")
		f.users.AssertNotCalled(t, "ListUsers", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown subject", func(t *testing.T) {
		f := newFixture()
		id := &auth.Identity{Subject: "auth0|stranger"}
		f.users.On("GetUserBySubject", mock.Anything, id.Subject).
			Return(nil, store.ErrNotFound)

		w := testutil.Do(t, f.engine(t, id), http.MethodGet, "/api/users", nil)
		testutil.AssertError(t, w, http.StatusForbidden, "admin access required")
	})

	t.Run("store failure reaches the boundary", func(t *testing.T) {
		f := newFixture()
		f.users.On("GetUserBySubject", mock.Anything, adminIdentity.Subject).
			Return(nil, errors.New("connection refused"))

		w := testutil.Do(t, f.engine(t, adminIdentity), http.MethodGet, "/api/users", nil)
		testutil.AssertError(t, w, http.StatusInternalServerError, middleware.GenericErrorMessage)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("no user store", func(t *testing.T) {
		f := newFixture()
		f.opts.Users = nil
		w := testutil.Do(t, f.engine(t, adminIdentity), http.MethodGet, "/api/users", nil)
		testutil.AssertError(t, w, http.StatusServiceUnavailable, "user store is not configured")
	})
}

func TestListUsers(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	f.users.On("ListUsers", mock.Anything, 50, 0).Return([]store.User{*adminUser}, nil)
	f.users.On("ListUsers", mock.Anything, 10, 20).Return([]store.User{}, nil)

	w := testutil.Do(t, r, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := testutil.DecodeJSON(t, w)
	assert.Len(t, body["users"], 1)
	assert.EqualValues(t, 50, body["limit"])

	w = testutil.Do(t, r, http.MethodGet, "/api/users?limit=10&offset=20", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.Do(t, r, http.MethodGet, "/api/users?limit=500", nil)
	testutil.AssertError(t, w, http.StatusBadRequest, "limit must be between 1 and 200")

	w = testutil.Do(t, r, http.MethodGet, "/api/users?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.users.AssertExpectations(t)
}

func TestGetUser(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	missing := uuid.New()
	f.users.On("GetUser", mock.Anything, adminUser.ID).Return(adminUser, nil)
	f.users.On("GetUser", mock.Anything, missing).Return(nil, store.ErrNotFound)

	w := testutil.Do(t, r, http.MethodGet, "/api/users/"+adminUser.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, adminUser.ID.String(), testutil.DecodeJSON(t, w)["id"])

	w = testutil.Do(t, r, http.MethodGet, "/api/users/"+missing.String(), nil)
	testutil.AssertError(t, w, http.StatusNotFound, "user not found")

	w = testutil.Do(t, r, http.MethodGet, "/api/users/not-a-uuid", nil)
	testutil.AssertError(t, w, http.StatusBadRequest, "invalid user id")
}

func TestUpdateUser(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	other := uuid.New()
	f.users.On("UpdateUserRole", mock.Anything, other, store.RoleAdmin).
		Return(&store.User{ID: other, Role: store.RoleAdmin}, nil)

	w := testutil.Do(t, r, http.MethodPatch, "/api/users/"+other.String(), map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", testutil.DecodeJSON(t, w)["role"])

	w = testutil.Do(t, r, http.MethodPatch, "/api/users/"+other.String(), map[string]string{"role": "owner"})
	testutil.AssertError(t, w, http.StatusBadRequest, "role must be one of learner, admin")

	w = testutil.Do(t, r, http.MethodPatch, "/api/users/"+adminUser.ID.String(), map[string]string{"role": "learner"})
	testutil.AssertError(t, w, http.StatusBadRequest, "cannot remove your own admin role")

	f.users.AssertNumberOfCalls(t, "UpdateUserRole", 1)
}

func TestInternalStats(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.stats.On("Summary", mock.Anything, from, to).
		Return(&stats.Summary{From: "2024-03-01", To: "2024-03-31", Total: 7}, nil)

	w := testutil.Do(t, r, http.MethodGet, "/api/internal-stats?from=2024-03-01&to=2024-03-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, testutil.DecodeJSON(t, w)["total"])

	w = testutil.Do(t, r, http.MethodGet, "/api/internal-stats?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	defaultFrom := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	f.stats.On("Summary", mock.Anything, defaultFrom, to).Return(&stats.Summary{}, nil)
	w = testutil.Do(t, r, http.MethodGet, "/api/internal-stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	f.stats.AssertExpectations(t)
}

func TestInternalStatsUnconfigured(t *testing.T) {
	f := newFixture()
	f.opts.Stats = nil
	f.opts.Cache = nil
	r := f.asAdmin(t)

	w := testutil.Do(t, r, http.MethodGet, "/api/internal-stats", nil)
	testutil.AssertError(t, w, http.StatusServiceUnavailable, "internal stats is not configured")

	w = testutil.Do(t, r, http.MethodPost, "/api/internal-stats/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRefreshStats(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	f.stats.On("Invalidate", mock.Anything, "Sessions").Return(nil)

	w := testutil.Do(t, r, http.MethodPost, "/api/internal-stats/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sessions", testutil.DecodeJSON(t, w)["invalidated"])
	f.stats.AssertExpectations(t)
}

func TestSignUpload(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	signed, _ := url.Parse("https://bucket.example.com/uploads/x?X-Amz-Signature=abc")
	f.objects.On("PresignUpload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "uploads/") && strings.HasSuffix(key, "-lesson.mp3")
	})).Return(signed, nil)

	w := testutil.Do(t, r, http.MethodPost, "/api/uploads/sign", map[string]string{"filename": "lesson.mp3"})
	require.Equal(t, http.StatusOK, w.Code)
	body := testutil.DecodeJSON(t, w)
	assert.Equal(t, signed.String(), body["url"])
	assert.Equal(t, "PUT", body["method"])
	assert.True(t, strings.HasSuffix(body["key"].(string), "-lesson.mp3"))

	w = testutil.Do(t, r, http.MethodPost, "/api/uploads/sign", map[string]string{})
	testutil.AssertError(t, w, http.StatusBadRequest, "filename is required")
}

func TestRoutesAreWrapped(t *testing.T) {
	f := newFixture()
	r := f.asAdmin(t)
	f.stats.On("Summary", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("airtable down"))

	w := testutil.Do(t, r, http.MethodGet, "/api/internal-stats", nil)
	testutil.AssertError(t, w, http.StatusInternalServerError, middleware.GenericErrorMessage)
}
