package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = Defaults{
	StaticDir:    "user-frontend/build",
	DevServerURL: "https://localhost:3000",
}

func TestDefault(t *testing.T) {
	cfg := Default(testDefaults)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "certs/localhost.pem", cfg.Server.TLSCertFile)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "user-frontend/build", cfg.App.StaticDir)
	assert.Equal(t, filepath.Join("user-frontend/build", "index.html"), cfg.App.IndexFile)
	assert.Equal(t, "https://localhost:3000", cfg.App.DevServerURL)

	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Airtable.CacheTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	// Auth is enabled by default and has no credentials here, so Load
	// fails and the default configuration is returned.
	cfg := LoadOrDefault(testDefaults)

	assert.NotNil(t, cfg)
	assert.Equal(t, "5000", cfg.Server.Port)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "127.0.0.1",
		"APP_ENV":               "production",
		"STATIC_DIR":            "/srv/app",
		"DEV_SERVER_URL":        "http://localhost:5173",
		"AUTH0_ISSUER_BASE_URL": "https://tenant.eu.auth0.com/",
		"AUTH0_BASE_URL":        "https://app.example.com",
		"AUTH0_CLIENT_ID":       "client",
		"AUTH0_CLIENT_SECRET":   "secret",
		"AUTH0_SECRET":          "0123456789abcdef0123456789abcdef",
		"AIRTABLE_API_KEY":      "pat123",
		"AIRTABLE_BASE_ID":      "app123",
		"AIRTABLE_CACHE_TTL":    "90s",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"RATE_LIMIT_RPS":        "500",
		"RATE_LIMIT_BURST":      "1000",
		"RATE_LIMIT_ENABLED":    "false",
		"CORS_ORIGINS":          "https://a.example.com,https://b.example.com",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load(testDefaults)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "/srv/app", cfg.App.StaticDir)
	assert.Equal(t, filepath.Join("/srv/app", "index.html"), cfg.App.IndexFile)
	assert.Equal(t, "http://localhost:5173", cfg.App.DevServerURL)

	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "client", cfg.Auth.ClientID)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)

	assert.Equal(t, "app123", cfg.Airtable.BaseID)
	assert.Equal(t, 90*time.Second, cfg.Airtable.CacheTTL)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.Origins)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "auth enabled without credentials",
			env:     map[string]string{},
			wantErr: "ClientID",
		},
		{
			name: "short session secret",
			env: map[string]string{
				"AUTH0_ISSUER_BASE_URL": "https://tenant.auth0.com/",
				"AUTH0_BASE_URL":        "https://app.example.com",
				"AUTH0_CLIENT_ID":       "client",
				"AUTH0_CLIENT_SECRET":   "secret",
				"AUTH0_SECRET":          "short",
			},
			wantErr: "Secret",
		},
		{
			name: "airtable key without base",
			env: map[string]string{
				"AUTH_ENABLED":     "false",
				"AIRTABLE_API_KEY": "pat123",
			},
			wantErr: "BaseID",
		},
		{
			name: "storage endpoint without bucket",
			env: map[string]string{
				"AUTH_ENABLED":  "false",
				"S3_ENDPOINT":   "http://minio:9000",
				"S3_ACCESS_KEY": "a",
				"S3_SECRET_KEY": "b",
			},
			wantErr: "Bucket",
		},
		{
			name: "non numeric port",
			env: map[string]string{
				"AUTH_ENABLED": "false",
				"PORT":         "http",
			},
			wantErr: "Port",
		},
		{
			name: "unknown log level",
			env: map[string]string{
				"AUTH_ENABLED": "false",
				"LOG_LEVEL":    "verbose",
			},
			wantErr: "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(testDefaults)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAppEnvironment(t *testing.T) {
	tests := []struct {
		env     string
		wantDev bool
	}{
		{env: "", wantDev: true},
		{env: "development", wantDev: true},
		{env: "staging", wantDev: true},
		{env: "production", wantDev: false},
		{env: "PRODUCTION", wantDev: false},
		{env: "prod", wantDev: false},
	}

	for _, tt := range tests {
		t.Run("env="+tt.env, func(t *testing.T) {
			cfg := &Config{App: AppConfig{Env: tt.env}}
			assert.Equal(t, tt.wantDev, cfg.IsDevelopment())
		})
	}
}

func TestIndexFileOverride(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("INDEX_FILE", "/srv/shell.html")

	cfg, err := Load(Defaults{StaticDir: "dist"})
	require.NoError(t, err)

	assert.Equal(t, "dist", cfg.App.StaticDir)
	assert.Equal(t, "/srv/shell.html", cfg.App.IndexFile)
	assert.Equal(t, "http://localhost:3000", cfg.App.DevServerURL)
}

func TestPassthrough(t *testing.T) {
	env := Passthrough([]string{"A=1", "B=x=y", "=skip", "NOVALUE"})

	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, env)
}
