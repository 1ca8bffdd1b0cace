// Package chart is the entry point used by the HTTP layer and the operator
// CLI. It resolves clusters and repositories, runs the pre-flight gate,
// hands accepted installs to the orchestrator and answers the synchronous
// read paths (release status, release list, chart introspection).
package chart
