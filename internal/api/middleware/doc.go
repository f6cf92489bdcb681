// Package middleware holds the gin middleware shared by every backend
// variant: the terminal error boundary, JSON body parsing, access logging,
// CORS and per-client rate limiting.
package middleware
