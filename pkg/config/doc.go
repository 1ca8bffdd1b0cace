// Package config loads the server configuration from a YAML file: listen
// address, helm binary and timeouts, worker pool sizing, cluster probing,
// rate limiting, and the static cluster and repository registries.
package config
