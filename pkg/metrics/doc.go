// Package metrics defines Prometheus metrics for the chart deployer,
// covering the deployment queue, pre-flight validation, helm subprocesses,
// temporary kubeconfig files, cluster probes and chart repositories.
package metrics
