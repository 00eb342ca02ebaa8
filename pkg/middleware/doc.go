// Package middleware provides HTTP middleware for authentication,
// authorization and rate limiting.
//
// Ordering matters: rate limiting runs before authentication so
// unauthenticated floods never reach session validation, and
// authorization middleware assumes RequireAuth already ran.
package middleware
