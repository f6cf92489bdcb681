package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/api/common"
	"github.com/parlance-app/backend/internal/api/middleware"
	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/infrastructure/config"
	"github.com/parlance-app/backend/internal/infrastructure/httpclient"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/infrastructure/tracing"
	"github.com/parlance-app/backend/internal/server"
)

// Run serves variant v until ctx is cancelled. Configuration problems,
// unreachable collaborators and a missing development certificate are
// returned before anything listens.
func Run(ctx context.Context, v Variant) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg, err := config.Load(v.Defaults)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development || cfg.IsDevelopment(),
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", v.Name))

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := monitoring.NewMetrics(v.Namespace)
	tracer := tracing.New(v.Name, logger.Logger)
	defer tracer.Close()

	authenticator, err := newAuthenticator(cfg, logger)
	if err != nil {
		return err
	}

	deps, err := NewDeps(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("closing dependencies", zap.Error(err))
		}
	}()

	srv, err := server.New(serverOptions(v, cfg, deps, authenticator, tracer))
	if err != nil {
		return err
	}

	listen := server.Listen{Addr: cfg.Addr()}
	if cfg.IsDevelopment() {
		tlsCfg, err := server.LoadDevCertificate(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			return err
		}
		listen.TLS = tlsCfg
	}

	logger.Info("starting",
		zap.String("addr", listen.Addr),
		zap.String("env", cfg.App.Env),
		zap.Bool("auth", cfg.Auth.Enabled),
	)
	return srv.Serve(ctx, listen)
}

func newAuthenticator(cfg *config.Config, logger *logging.Logger) (server.Authenticator, error) {
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; every request is anonymous")
		return auth.Passthrough{}, nil
	}

	httpOpts := httpclient.DefaultOptions()
	httpOpts.Logger = logger
	return auth.New(auth.Config{
		IssuerBaseURL: cfg.Auth.IssuerBaseURL,
		BaseURL:       cfg.Auth.BaseURL,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
		Secret:        cfg.Auth.Secret,
		Required:      cfg.Auth.Required,
		Auth0Logout:   cfg.Auth.Auth0Logout,
		SessionTTL:    cfg.Auth.SessionTTL,
		HTTPClient:    httpclient.NewStandard(httpOpts),
	}, logger)
}

func serverOptions(v Variant, cfg *config.Config, deps *Deps, authenticator server.Authenticator, tracer *tracing.Tracer) server.Options {
	health := common.New(v.Name, deps.Metrics)
	deps.HealthChecks(health)
	variantRoutes := v.Routes(deps)

	opts := server.Options{
		Auth: authenticator,
		Routes: func(r *safe.Router) {
			health.Register(r)
			variantRoutes(r)
		},
		StaticDir:    cfg.App.StaticDir,
		IndexFile:    cfg.App.IndexFile,
		Development:  cfg.IsDevelopment(),
		DevServerURL: cfg.App.DevServerURL,
		Env:          config.Passthrough(os.Environ()),
		Secondary:    deps.Airtable,
		Logger:       deps.Logger,
		Metrics:      deps.Metrics,
		Tracer:       tracer,
		BodyLimit:    cfg.App.BodyLimit,
	}

	origins := append([]string(nil), cfg.CORS.Origins...)
	if cfg.IsDevelopment() {
		origins = append(origins, cfg.App.DevServerURL)
	}
	if len(origins) > 0 {
		c := middleware.DefaultCORSConfig(origins...)
		opts.CORS = &c
	}

	if cfg.RateLimit.Enabled {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		opts.RateLimit = &rl
	}
	return opts
}
