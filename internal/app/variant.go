package app

import (
	"github.com/parlance-app/backend/internal/api/admin"
	"github.com/parlance-app/backend/internal/api/learner"
	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/infrastructure/config"
)

// Variant describes one backend: its labels, built-in defaults and the
// routes it mounts next to the common endpoints.
type Variant struct {
	// Name labels logs, traces and health responses.
	Name string
	// Namespace prefixes every metric.
	Namespace string
	Defaults  config.Defaults
	Routes    func(d *Deps) func(r *safe.Router)
}

// Admin is the internal admin backend.
var Admin = Variant{
	Name:      "admin-api",
	Namespace: "admin_api",
	Defaults: config.Defaults{
		StaticDir:    "apps/admin/build",
		IndexFile:    "apps/admin/build/index.html",
		DevServerURL: "http://localhost:3001",
	},
	Routes: adminRoutes,
}

// User is the learner-facing backend.
var User = Variant{
	Name:      "user-api",
	Namespace: "user_api",
	Defaults: config.Defaults{
		StaticDir:    "apps/user/build",
		IndexFile:    "apps/user/build/index.html",
		DevServerURL: "http://localhost:3000",
	},
	Routes: userRoutes,
}

func adminRoutes(d *Deps) func(r *safe.Router) {
	opts := admin.Options{
		StatsTable: d.Config.Airtable.StatsTable,
		Logger:     d.Logger,
	}
	// interface fields stay nil unless the collaborator exists
	if d.Store != nil {
		opts.Users = d.Store
	}
	if d.Stats != nil {
		opts.Stats = d.Stats
	}
	if d.Cache != nil {
		opts.Cache = d.Cache
	}
	if d.Storage != nil {
		opts.Uploads = d.Storage
	}
	return admin.New(opts).Register
}

func userRoutes(d *Deps) func(r *safe.Router) {
	var (
		profiles   learner.Profiles
		recordings learner.Recordings
	)
	if d.Store != nil {
		profiles = d.Store
	}
	if d.Storage != nil {
		recordings = d.Storage
	}
	return learner.New(profiles, recordings).Register
}
