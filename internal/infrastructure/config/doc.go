// Package config provides 12-factor configuration management for the
// Parlance backends.
//
// Configuration is loaded from environment variables with defaults and
// validated once at startup; an incomplete configuration stops the process
// before it listens.
//
// Configuration Sections:
//   - Server: listener settings (port, host, development TLS files)
//   - App: SPA serving (mode, static directory, index document, dev server)
//   - Auth: OpenID Connect provider settings
//   - Airtable, Redis: secondary store and its shared cache tier
//   - Database, Storage: Postgres and S3-compatible bucket
//   - Logging, RateLimit, CORS
//
// Example Usage:
//
//	cfg, err := config.Load(config.Defaults{StaticDir: "user-frontend/build"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
