// Package ratelimit provides per-IP token-bucket rate limiting middleware for
// the Gin API server, with a tighter limit for deploy requests and automatic
// stale-entry cleanup.
package ratelimit
