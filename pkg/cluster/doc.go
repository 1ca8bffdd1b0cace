// Package cluster checks that target clusters answer before helm is pointed at
// them. A Prober fetches the server version through the typed client with a
// bounded exponential backoff, and a per-cluster circuit breaker rejects
// probes fast once a cluster keeps failing.
package cluster
