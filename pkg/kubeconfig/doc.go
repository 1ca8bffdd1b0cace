// Package kubeconfig turns stored cluster credentials into short-lived
// kubeconfig files for the helm command line and into rest.Configs for the
// typed client.
package kubeconfig
