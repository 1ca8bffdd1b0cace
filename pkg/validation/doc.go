// Package validation implements the pre-flight gate every deployment passes
// before it is queued: request shape, cluster status and reachability,
// repository reachability, and a best-effort release name collision check.
package validation
