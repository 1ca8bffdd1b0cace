// Package cmd implements the cobra command tree for chartctl: deploying
// charts, querying releases, browsing repositories and checking the
// deployment workers of a chartdeploy server.
package cmd
