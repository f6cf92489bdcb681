// Package testutil provides mocks and request helpers for router tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parlance-app/backend/internal/api/middleware"
	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/stats"
	"github.com/parlance-app/backend/internal/storage"
	"github.com/parlance-app/backend/internal/store"
)

// MockUserStore is a mock of the Postgres repositories.
type MockUserStore struct {
	mock.Mock
}

// UpsertUserBySubject mocks the UpsertUserBySubject method.
func (m *MockUserStore) UpsertUserBySubject(ctx context.Context, subject, email, displayName string) (*store.User, error) {
	args := m.Called(ctx, subject, email, displayName)
	return userArg(args)
}

// GetUser mocks the GetUser method.
func (m *MockUserStore) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	args := m.Called(ctx, id)
	return userArg(args)
}

// GetUserBySubject mocks the GetUserBySubject method.
func (m *MockUserStore) GetUserBySubject(ctx context.Context, subject string) (*store.User, error) {
	args := m.Called(ctx, subject)
	return userArg(args)
}

// ListUsers mocks the ListUsers method.
func (m *MockUserStore) ListUsers(ctx context.Context, limit, offset int) ([]store.User, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.User), args.Error(1)
}

// UpdateUserRole mocks the UpdateUserRole method.
func (m *MockUserStore) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) (*store.User, error) {
	args := m.Called(ctx, id, role)
	return userArg(args)
}

// UpdateDisplayName mocks the UpdateDisplayName method.
func (m *MockUserStore) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) (*store.User, error) {
	args := m.Called(ctx, id, name)
	return userArg(args)
}

// CreateAttempt mocks the CreateAttempt method.
func (m *MockUserStore) CreateAttempt(ctx context.Context, in store.NewAttempt) (*store.Attempt, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Attempt), args.Error(1)
}

// ListAttempts mocks the ListAttempts method.
func (m *MockUserStore) ListAttempts(ctx context.Context, userID uuid.UUID, limit int) ([]store.Attempt, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Attempt), args.Error(1)
}

func userArg(args mock.Arguments) (*store.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.User), args.Error(1)
}

// MockStats is a mock of the statistics service and its cache.
type MockStats struct {
	mock.Mock
}

// Summary mocks the Summary method.
func (m *MockStats) Summary(ctx context.Context, from, to time.Time) (*stats.Summary, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Summary), args.Error(1)
}

// Invalidate mocks the Invalidate method.
func (m *MockStats) Invalidate(ctx context.Context, table string) error {
	return m.Called(ctx, table).Error(0)
}

// MockObjects is a mock of the object storage client.
type MockObjects struct {
	mock.Mock
}

// PresignUpload mocks the PresignUpload method.
func (m *MockObjects) PresignUpload(ctx context.Context, key string) (*url.URL, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

// PresignDownload mocks the PresignDownload method.
func (m *MockObjects) PresignDownload(ctx context.Context, key string) (*url.URL, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

// PutRecording mocks the PutRecording method. The body is drained so
// expectations can match on its bytes.
func (m *MockObjects) PutRecording(ctx context.Context, userID string, r io.Reader, size int64) (*storage.Recording, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	args := m.Called(ctx, userID, body, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Recording), args.Error(1)
}

// MaxRecordingBytes mocks the MaxRecordingBytes method.
func (m *MockObjects) MaxRecordingBytes() int64 {
	return m.Called().Get(0).(int64)
}

// NewEngine builds a test engine with the production boundary and body
// middleware. When id is non-nil it is attached to every request, standing
// in for a valid session.
func NewEngine(t *testing.T, id *auth.Identity, register func(*safe.Router)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middleware.Boundary(nil, nil), middleware.JSONBody(middleware.DefaultBodyLimit))
	r.Use(func(c *gin.Context) {
		if id != nil {
			auth.SetIdentity(c, *id)
		}
		c.Next()
	})
	register(safe.NewRouter(r))
	return r
}

// Do sends a request with an optional JSON body through h.
func Do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON unmarshals a recorder's body into a map.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// AssertError checks status and the error message of a JSON error body.
func AssertError(t *testing.T, w *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Equal(t, message, DecodeJSON(t, w)["error"])
}
