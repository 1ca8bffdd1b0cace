// Package registry resolves cluster credentials and chart repositories by
// name. Clusters come from the configuration file or from labelled
// Kubernetes Secrets; repositories always come from configuration.
package registry
