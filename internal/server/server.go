package server

import (
	"errors"
	"maps"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/airtable"
	"github.com/parlance-app/backend/internal/api/middleware"
	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/infrastructure/tracing"
)

// DefaultDevServerURL is where the frontend dev server usually listens.
const DefaultDevServerURL = "http://localhost:3000"

// Environment keys used to build the shared secondary-store client.
const (
	EnvAirtableAPIKey = "AIRTABLE_API_KEY"
	EnvAirtableBaseID = "AIRTABLE_BASE_ID"
)

// DefaultImmutableGlobs match fingerprinted build output.
var DefaultImmutableGlobs = []string{"assets/**", "static/**"}

// Authenticator installs the authentication layer. It may attach an
// identity to the request and owns /login, /logout and /callback.
type Authenticator interface {
	Middleware() gin.HandlerFunc
}

// Registrar mounts application routes. It only ever sees a safe.Router,
// so every handler it registers is wrapped.
type Registrar func(r *safe.Router)

// Options configure a Server. Auth, Routes, StaticDir and IndexFile are
// required.
type Options struct {
	Auth      Authenticator
	Routes    Registrar
	StaticDir string
	IndexFile string

	Development  bool
	DevServerURL string

	// Env is copied at construction and exposed read-only to handlers.
	Env map[string]string
	// Secondary is the shared secondary-store client. When nil it is built
	// from the Airtable keys in Env, if both are present.
	Secondary *airtable.Client

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer

	CORS      *middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig
	// BodyLimit caps JSON request bodies. Defaults to 1 MiB.
	BodyLimit int64
	// ImmutableGlobs select static files served with a long-lived cache
	// policy. Defaults to DefaultImmutableGlobs.
	ImmutableGlobs []string
}

// Server is the HTTP application: middleware, mounted routes and the
// single-page app.
type Server struct {
	engine    *gin.Engine
	opts      Options
	env       map[string]string
	secondary *airtable.Client
	logger    *logging.Logger

	listener listenerState
}

// New builds the application. It performs no I/O.
func New(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.DevServerURL == "" {
		opts.DevServerURL = DefaultDevServerURL
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = middleware.DefaultBodyLimit
	}
	if opts.ImmutableGlobs == nil {
		opts.ImmutableGlobs = DefaultImmutableGlobs
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	s := &Server{
		opts:   opts,
		env:    maps.Clone(opts.Env),
		logger: opts.Logger.Named("server"),
	}
	if s.env == nil {
		s.env = map[string]string{}
	}

	s.secondary = opts.Secondary
	if s.secondary == nil && s.env[EnvAirtableAPIKey] != "" && s.env[EnvAirtableBaseID] != "" {
		client, err := airtable.New(airtable.Config{
			APIKey:  s.env[EnvAirtableAPIKey],
			BaseID:  s.env[EnvAirtableBaseID],
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		})
		if err != nil {
			return nil, err
		}
		s.secondary = client
	}

	s.engine = s.build()
	return s, nil
}

func (o *Options) validate() error {
	var errs []error
	if o.Auth == nil {
		errs = append(errs, errors.New("server: Auth is required"))
	}
	if o.Routes == nil {
		errs = append(errs, errors.New("server: Routes is required"))
	}
	if o.StaticDir == "" {
		errs = append(errs, errors.New("server: StaticDir is required"))
	}
	if o.IndexFile == "" {
		errs = append(errs, errors.New("server: IndexFile is required"))
	}
	return errors.Join(errs...)
}

// build wires the chain in its fixed order. The boundary goes first so it
// observes everything after it.
func (s *Server) build() *gin.Engine {
	o := s.opts
	r := gin.New()

	r.Use(middleware.Boundary(o.Logger, o.Metrics))
	if o.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(o.Tracer))
	}
	r.Use(middleware.AccessLog(o.Logger))
	if o.Metrics != nil {
		r.Use(monitoring.Middleware(o.Metrics))
	}
	if o.CORS != nil {
		r.Use(middleware.CORS(*o.CORS))
	}
	if o.RateLimit != nil {
		r.Use(middleware.RateLimit(*o.RateLimit))
	}

	r.Use(middleware.JSONBody(o.BodyLimit))
	r.Use(s.locals)
	r.Use(o.Auth.Middleware())

	shell := safe.Handle(s.shell)
	for _, path := range []string{"/", "/callback"} {
		r.GET(path, shell)
		r.HEAD(path, shell)
	}

	o.Routes(safe.NewRouter(r))

	r.NoRoute(safe.Handle(s.static), safe.Handle(s.fallback))

	s.logger.Debug("server built",
		zap.Bool("development", o.Development),
		zap.String("static_dir", o.StaticDir),
		zap.String("index_file", o.IndexFile),
		zap.Bool("secondary", s.secondary != nil),
	)
	return r
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Handler returns the engine with gzip response compression.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.engine)
}

// Env returns the environment mapping supplied at construction.
func (s *Server) Env() map[string]string {
	return s.env
}

// Secondary returns the shared secondary-store client, or nil.
func (s *Server) Secondary() *airtable.Client {
	return s.secondary
}

// Development reports whether development behaviour is on.
func (s *Server) Development() bool {
	return s.opts.Development
}
