// Package store persists users and practice attempts in Postgres.
// Schema changes ship as embedded SQL migrations.
package store
