// Package failure defines the error taxonomy shared by the credential,
// command and deployment packages: configuration, connectivity, validation,
// command execution, timeout and not-found failures.
package failure
