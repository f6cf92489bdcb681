package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/infrastructure/config"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/server"
)

func testConfig(t *testing.T, v Variant) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>shell</html>"), 0o644))

	cfg := config.Default(v.Defaults)
	cfg.App.Env = config.EnvProduction
	cfg.App.StaticDir = dir
	cfg.App.IndexFile = filepath.Join(dir, "index.html")
	return cfg
}

func newTestServer(t *testing.T, v Variant, cfg *config.Config) (*server.Server, *Deps) {
	t.Helper()
	deps, err := NewDeps(context.Background(), cfg, logging.NewNop(), monitoring.NewMetrics(v.Namespace))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	srv, err := server.New(serverOptions(v, cfg, deps, auth.Passthrough{}, nil))
	require.NoError(t, err)
	return srv, deps
}

func get(srv *server.Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestVariants(t *testing.T) {
	assert.Equal(t, "admin-api", Admin.Name)
	assert.Equal(t, "user-api", User.Name)
	assert.NotEqual(t, Admin.Defaults.DevServerURL, User.Defaults.DevServerURL)
	assert.NotEqual(t, Admin.Namespace, User.Namespace)
}

func TestNewDepsWithoutCollaborators(t *testing.T) {
	cfg := testConfig(t, Admin)
	deps, err := NewDeps(context.Background(), cfg, logging.NewNop(), nil)
	require.NoError(t, err)

	assert.Nil(t, deps.Store)
	assert.Nil(t, deps.Airtable)
	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.Storage)
	assert.NoError(t, deps.Close())
	assert.NoError(t, deps.Close())
}

func TestNewDepsFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, Admin)
	cfg.Airtable.APIKey = "key"
	cfg.Airtable.BaseID = "appBase"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := NewDeps(context.Background(), cfg, logging.NewNop(), nil)
	assert.Error(t, err)
}

func TestAdminVariantWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, Admin)
	cfg.Airtable.APIKey = "key"
	cfg.Airtable.BaseID = "appBase"
	cfg.Redis.Addr = mr.Addr()

	srv, deps := newTestServer(t, Admin, cfg)
	require.NotNil(t, deps.Cache)
	require.NotNil(t, deps.Redis)
	assert.Same(t, deps.Airtable, srv.Secondary())

	w := get(srv, "/health")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var health struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "admin-api", health.Service)
	assert.Equal(t, map[string]string{"redis": "ok", "airtable": "ok"}, health.Checks)

	w = get(srv, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin_api_")

	w = get(srv, "/api/users")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(srv, "/some/deep/link")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>shell</html>", w.Body.String())
}

func TestUserVariantWiring(t *testing.T) {
	cfg := testConfig(t, User)
	srv, _ := newTestServer(t, User, cfg)

	w := get(srv, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(srv, "/api/me")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(srv, "/")
	assert.Equal(t, "<html>shell</html>", w.Body.String())
}

func TestServerOptions(t *testing.T) {
	cfg := testConfig(t, User)
	cfg.App.Env = config.EnvDevelopment
	cfg.CORS.Origins = []string{"https://app.example.com"}
	deps := &Deps{Config: cfg, Logger: logging.NewNop()}

	opts := serverOptions(User, cfg, deps, auth.Passthrough{}, nil)
	assert.True(t, opts.Development)
	require.NotNil(t, opts.CORS)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, opts.CORS.AllowOrigins)
	require.NotNil(t, opts.RateLimit)
	assert.Equal(t, 100, opts.RateLimit.RequestsPerSecond)
	assert.Equal(t, int64(1<<20), opts.BodyLimit)

	cfg.App.Env = config.EnvProduction
	cfg.CORS.Origins = nil
	cfg.RateLimit.Enabled = false
	opts = serverOptions(User, cfg, deps, auth.Passthrough{}, nil)
	assert.False(t, opts.Development)
	assert.Nil(t, opts.CORS)
	assert.Nil(t, opts.RateLimit)
}

func TestNewAuthenticatorDisabled(t *testing.T) {
	cfg := testConfig(t, User)
	cfg.Auth.Enabled = false
	a, err := newAuthenticator(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, auth.Passthrough{}, a)

	cfg.Auth.Enabled = true
	cfg.Auth.IssuerBaseURL = "https://tenant.auth0.com"
	cfg.Auth.BaseURL = "https://admin.example.com"
	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "secret"
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	a, err = newAuthenticator(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &auth.Authenticator{}, a)
}
