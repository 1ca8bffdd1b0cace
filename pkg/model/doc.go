// Package model holds the cluster, repository, request and release types
// passed between the registries, the validator and the orchestrator.
package model
