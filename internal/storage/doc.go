// Package storage keeps recordings and admin uploads in an
// S3-compatible bucket.
package storage
