// Package api implements the HTTP API server (Gin-based) of chartdeploy:
// chart introspection and deployment under /api/charts, release queries
// under /api/releases, the worker pool health under /api/deployments, plus
// /healthz and /metrics.
package api
