package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment pipeline
	DeploymentsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_deployments_submitted_total",
		Help: "Total number of deployment requests accepted onto the worker queue",
	}, []string{"cluster"})
	DeploymentsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_deployments_rejected_total",
		Help: "Total number of deployment requests rejected before they were queued",
	}, []string{"cluster", "reason"})
	DeploymentsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_deployments_succeeded_total",
		Help: "Total number of background installs that completed successfully",
	}, []string{"cluster"})
	DeploymentsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_deployments_failed_total",
		Help: "Total number of background installs that failed",
	}, []string{"cluster", "reason"})
	DeploymentQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chartdeploy_deployment_queue_depth",
		Help: "Number of deployment tasks waiting for a worker",
	})
	DeploymentsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chartdeploy_deployments_running",
		Help: "Number of deployment tasks currently executing",
	})

	// Pre-flight validation
	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_validation_failures_total",
		Help: "Total number of pre-flight validation failures by stage",
	}, []string{"stage"})
	CollisionProbeSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_collision_probe_skipped_total",
		Help: "Total number of release-name collision probes that failed and were allowed through",
	}, []string{"cluster"})

	// Helm subprocesses
	HelmCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_helm_commands_total",
		Help: "Total number of helm invocations by verb and result",
	}, []string{"verb", "result"})
	HelmCommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chartdeploy_helm_command_duration_seconds",
		Help:    "Wall-clock duration of helm invocations",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"verb"})

	// Connection descriptors
	DescriptorsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chartdeploy_descriptors_created_total",
		Help: "Total number of temporary kubeconfig files written",
	})
	DescriptorsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chartdeploy_descriptors_removed_total",
		Help: "Total number of temporary kubeconfig files removed",
	})
	DescriptorBuildErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_descriptor_build_errors_total",
		Help: "Total number of failures while assembling a kubeconfig from stored credentials",
	}, []string{"cluster", "reason"})

	// Cluster reachability
	ClusterProbeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_cluster_probe_failures_total",
		Help: "Total number of failed cluster reachability probes",
	}, []string{"cluster"})
	ClusterCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chartdeploy_cluster_circuit_breaker_state",
		Help: "Circuit breaker state per cluster (0=closed, 1=open, 2=half-open)",
	}, []string{"cluster"})
	ClusterCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_cluster_circuit_breaker_rejections_total",
		Help: "Total number of cluster operations rejected by an open circuit",
	}, []string{"cluster"})

	// Registries and chart sources
	RegistryCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_registry_cache_hits_total",
		Help: "Total number of cluster registry cache hits",
	}, []string{"cluster"})
	RegistryCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_registry_cache_misses_total",
		Help: "Total number of cluster registry cache misses",
	}, []string{"cluster"})
	RepositoryIndexFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_repository_index_fetches_total",
		Help: "Total number of repository index.yaml downloads by result",
	}, []string{"repository", "result"})

	// HTTP
	RateLimitedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_rate_limited_requests_total",
		Help: "Total number of API requests rejected by the rate limiter",
	}, []string{"path"})

	// Deployment events
	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_events_emitted_total",
		Help: "Total number of deployment events queued for publishing",
	}, []string{"type"})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chartdeploy_events_dropped_total",
		Help: "Total number of deployment events dropped because the queue was full or closed",
	})
	EventSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_event_sink_errors_total",
		Help: "Total number of failed event writes by sink and error type",
	}, []string{"sink", "error_type"})

	// Failure notifications
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_mail_send_success_total",
		Help: "Total number of notification mails sent",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chartdeploy_mail_send_failure_total",
		Help: "Total number of notification mails that could not be sent after all retries",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(DeploymentsSubmitted)
	prometheus.MustRegister(DeploymentsRejected)
	prometheus.MustRegister(DeploymentsSucceeded)
	prometheus.MustRegister(DeploymentsFailed)
	prometheus.MustRegister(DeploymentQueueDepth)
	prometheus.MustRegister(DeploymentsRunning)
	prometheus.MustRegister(ValidationFailures)
	prometheus.MustRegister(CollisionProbeSkipped)
	prometheus.MustRegister(HelmCommands)
	prometheus.MustRegister(HelmCommandDuration)
	prometheus.MustRegister(DescriptorsCreated)
	prometheus.MustRegister(DescriptorsRemoved)
	prometheus.MustRegister(DescriptorBuildErrors)
	prometheus.MustRegister(ClusterProbeFailures)
	prometheus.MustRegister(ClusterCircuitBreakerState)
	prometheus.MustRegister(ClusterCircuitBreakerRejections)
	prometheus.MustRegister(RegistryCacheHits)
	prometheus.MustRegister(RegistryCacheMisses)
	prometheus.MustRegister(RepositoryIndexFetches)
	prometheus.MustRegister(RateLimitedRequests)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(EventSinkErrors)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
