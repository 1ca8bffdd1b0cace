// Package helm builds helm command lines for repository registration, chart
// introspection, install, status and list, and parses their output.
package helm
