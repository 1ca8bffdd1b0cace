// Package naming checks release and namespace names against the DNS-1123
// label rules and converts arbitrary strings into valid labels.
package naming
