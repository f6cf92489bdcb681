// Package stats aggregates secondary-store records for the internal
// statistics dashboard.
package stats
