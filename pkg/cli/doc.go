// Package cli defines the command-line flags of the chartdeploy API server,
// each with an environment variable fallback.
package cli
