// Package admin serves the admin backend's API: user management, internal
// statistics from the secondary store and presigned uploads. Every route
// requires a signed-in user whose role is admin.
package admin
