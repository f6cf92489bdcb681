package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Environment names recognised by APP_ENV.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Auth      AuthConfig
	Airtable  AirtableConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"5000" validate:"required,numeric"`
	Host        string `envconfig:"HOST" default:"0.0.0.0"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE" default:"certs/localhost.pem"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE" default:"certs/localhost-key.pem"`
}

// AppConfig holds the SPA serving configuration. StaticDir, IndexFile and
// DevServerURL have per-variant fallbacks, so they carry no default tag.
type AppConfig struct {
	Env          string `envconfig:"APP_ENV" default:"development"`
	DevServerURL string `envconfig:"DEV_SERVER_URL" validate:"omitempty,url"`
	StaticDir    string `envconfig:"STATIC_DIR"`
	IndexFile    string `envconfig:"INDEX_FILE"`
	BodyLimit    int64  `envconfig:"BODY_LIMIT_BYTES" default:"1048576" validate:"gt=0"`
}

// AuthConfig holds OpenID Connect settings.
type AuthConfig struct {
	Enabled       bool          `envconfig:"AUTH_ENABLED" default:"true"`
	IssuerBaseURL string        `envconfig:"AUTH0_ISSUER_BASE_URL" validate:"required_if=Enabled true,omitempty,url"`
	BaseURL       string        `envconfig:"AUTH0_BASE_URL" validate:"required_if=Enabled true,omitempty,url"`
	ClientID      string        `envconfig:"AUTH0_CLIENT_ID" validate:"required_if=Enabled true"`
	ClientSecret  string        `envconfig:"AUTH0_CLIENT_SECRET" validate:"required_if=Enabled true"`
	Secret        string        `envconfig:"AUTH0_SECRET" validate:"required_if=Enabled true,omitempty,min=32"`
	Required      bool          `envconfig:"AUTH_REQUIRED" default:"false"`
	Auth0Logout   bool          `envconfig:"AUTH0_LOGOUT" default:"true"`
	SessionTTL    time.Duration `envconfig:"AUTH_SESSION_TTL" default:"24h"`
}

// AirtableConfig holds secondary store settings.
type AirtableConfig struct {
	APIKey     string        `envconfig:"AIRTABLE_API_KEY"`
	BaseID     string        `envconfig:"AIRTABLE_BASE_ID" validate:"required_with=APIKey"`
	StatsTable string        `envconfig:"AIRTABLE_STATS_TABLE" default:"Sessions"`
	DateField  string        `envconfig:"AIRTABLE_STATS_DATE_FIELD" default:"Date"`
	GroupField string        `envconfig:"AIRTABLE_STATS_GROUP_FIELD" default:"Status"`
	CacheTTL   time.Duration `envconfig:"AIRTABLE_CACHE_TTL" default:"5m"`
	CacheSize  int           `envconfig:"AIRTABLE_CACHE_SIZE" default:"256" validate:"gt=0"`
	RPS        float64       `envconfig:"AIRTABLE_RPS" default:"5"`
}

// RedisConfig enables the shared cache tier when Addr is set.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	URL     string `envconfig:"DATABASE_URL"`
	Migrate bool   `envconfig:"DATABASE_MIGRATE" default:"true"`
}

// StorageConfig holds S3-compatible bucket settings.
type StorageConfig struct {
	Endpoint   string        `envconfig:"S3_ENDPOINT"`
	AccessKey  string        `envconfig:"S3_ACCESS_KEY" validate:"required_with=Endpoint"`
	SecretKey  string        `envconfig:"S3_SECRET_KEY" validate:"required_with=Endpoint"`
	Bucket     string        `envconfig:"S3_BUCKET" validate:"required_with=Endpoint"`
	Region     string        `envconfig:"S3_REGION" default:"us-east-1"`
	PresignTTL time.Duration `envconfig:"S3_PRESIGN_TTL" default:"15m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed origins in addition to the dev server.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS"`
}

// Defaults are the per-variant fallbacks for fields whose value differs
// between the admin and user backends.
type Defaults struct {
	StaticDir    string
	IndexFile    string
	DevServerURL string
}

// IsDevelopment reports whether development behaviour is selected.
func (c *Config) IsDevelopment() bool {
	return !strings.EqualFold(c.App.Env, EnvProduction) && !strings.EqualFold(c.App.Env, "prod")
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Load loads configuration from environment variables.
func Load(d Defaults) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyDefaults(d)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault(d Defaults) *Config {
	cfg, err := Load(d)
	if err != nil {
		return Default(d)
	}
	return cfg
}

// Default returns default configuration. Authentication is disabled because
// no provider credentials exist without the environment.
func Default(d Defaults) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        "5000",
			Host:        "0.0.0.0",
			TLSCertFile: "certs/localhost.pem",
			TLSKeyFile:  "certs/localhost-key.pem",
		},
		App: AppConfig{
			Env:       EnvDevelopment,
			BodyLimit: 1 << 20,
		},
		Auth: AuthConfig{
			Enabled:     false,
			Auth0Logout: true,
			SessionTTL:  24 * time.Hour,
		},
		Airtable: AirtableConfig{
			StatsTable: "Sessions",
			DateField:  "Date",
			GroupField: "Status",
			CacheTTL:   5 * time.Minute,
			CacheSize:  256,
			RPS:        5,
		},
		Database: DatabaseConfig{Migrate: true},
		Storage: StorageConfig{
			Region:     "us-east-1",
			PresignTTL: 15 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
	cfg.applyDefaults(d)
	return cfg
}

func (c *Config) applyDefaults(d Defaults) {
	if c.App.StaticDir == "" {
		c.App.StaticDir = d.StaticDir
	}
	if c.App.StaticDir == "" {
		c.App.StaticDir = "build"
	}
	if c.App.IndexFile == "" {
		c.App.IndexFile = d.IndexFile
	}
	if c.App.IndexFile == "" {
		c.App.IndexFile = filepath.Join(c.App.StaticDir, "index.html")
	}
	if c.App.DevServerURL == "" {
		c.App.DevServerURL = d.DevServerURL
	}
	if c.App.DevServerURL == "" {
		c.App.DevServerURL = "http://localhost:3000"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects incomplete configuration before anything starts.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Passthrough returns the environment as a map for the bootstrap's
// environment mapping.
func Passthrough(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
