package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/k8s-chartdeploy/pkg/cluster"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/events"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/mail"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/ratelimit"
	"github.com/telekom/k8s-chartdeploy/pkg/validation"
)

// DefaultPath is read when no path is given.
const DefaultPath = "./config.yaml"

// Registry sources.
const (
	RegistryStatic  = "static"
	RegistrySecrets = "secrets"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
}

// Helm configures the helm binary and the timeouts of the commands run through it.
type Helm struct {
	Binary string `yaml:"binary"`
	// RepositoryConfig is exported as HELM_REPOSITORY_CONFIG, empty means helm's default.
	RepositoryConfig string `yaml:"repositoryConfig"`
	// TempDir receives kubeconfig and values files.
	TempDir                string `yaml:"tempDir"`
	CommandTimeout         string `yaml:"commandTimeout"`
	RepositoryProbeTimeout string `yaml:"repositoryProbeTimeout"`
	CollisionProbeTimeout  string `yaml:"collisionProbeTimeout"`
	// CollisionProbeFailOpen lets an install proceed when the collision probe itself fails.
	CollisionProbeFailOpen *bool `yaml:"collisionProbeFailOpen"`
	// Wait and Timeout are applied to deploy requests that leave them unset.
	Wait    *bool  `yaml:"wait"`
	Timeout string `yaml:"timeout"`
}

type Deployments struct {
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queueSize"`
	WaitGrace string `yaml:"waitGrace"`
}

type ClusterProbe struct {
	Enabled          bool   `yaml:"enabled"`
	Timeout          string `yaml:"timeout"`
	MaxRetries       int    `yaml:"maxRetries"`
	FailureThreshold int    `yaml:"failureThreshold"`
	OpenDuration     string `yaml:"openDuration"`
}

type RateLimit struct {
	Enabled *bool   `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// Registry selects where cluster credentials come from. Repositories are
// always taken from the repositories list. An empty Namespace means the
// namespace the server runs in.
type Registry struct {
	Source    string `yaml:"source"`
	Namespace string `yaml:"namespace"`
	CacheTTL  string `yaml:"cacheTTL"`
}

// Events configures the deployment event stream.
type Events struct {
	// Log writes every event to the server log. Default true.
	Log       *bool `yaml:"log"`
	QueueSize int   `yaml:"queueSize"`
	Kafka     Kafka `yaml:"kafka"`
	Mail      Mail  `yaml:"mail"`
}

// Mail sends a notification for every failed deployment.
type Mail struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	// PasswordEnv names the environment variable holding the SMTP password.
	PasswordEnv        string   `yaml:"passwordEnv"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Recipients         []string `yaml:"recipients"`
	RetryCount         int      `yaml:"retryCount"`
	RetryBackoff       string   `yaml:"retryBackoff"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	WriteTimeout string   `yaml:"writeTimeout"`
	RequiredAcks int      `yaml:"requiredAcks"`
	Compression  string   `yaml:"compression"`
	TLS          struct {
		Enabled            bool   `yaml:"enabled"`
		CAFile             string `yaml:"caFile"`
		InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	} `yaml:"tls"`
	SASL struct {
		Mechanism string `yaml:"mechanism"`
		Username  string `yaml:"username"`
		// PasswordEnv names the environment variable holding the password.
		PasswordEnv string `yaml:"passwordEnv"`
	} `yaml:"sasl"`
}

type Config struct {
	Server       Server                    `yaml:"server"`
	Helm         Helm                      `yaml:"helm"`
	Deployments  Deployments               `yaml:"deployments"`
	ClusterProbe ClusterProbe              `yaml:"clusterProbe"`
	RateLimit    RateLimit                 `yaml:"rateLimit"`
	Registry     Registry                  `yaml:"registry"`
	Events       Events                    `yaml:"events"`
	Clusters     []model.ClusterCredential `yaml:"clusters"`
	Repositories []model.Repository        `yaml:"repositories"`
}

// Load loads the configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
// The returned config has Defaults applied and has passed Validate.
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open chartdeploy config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config = config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func boolPtr(b bool) *bool { return &b }

// Defaults returns a copy of c with zero values replaced by defaults.
func (c Config) Defaults() Config {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}

	if c.Helm.Binary == "" {
		c.Helm.Binary = "helm"
	}
	if c.Helm.TempDir == "" {
		c.Helm.TempDir = os.TempDir()
	}
	if c.Helm.CommandTimeout == "" {
		c.Helm.CommandTimeout = "60s"
	}
	if c.Helm.RepositoryProbeTimeout == "" {
		c.Helm.RepositoryProbeTimeout = "20s"
	}
	if c.Helm.CollisionProbeTimeout == "" {
		c.Helm.CollisionProbeTimeout = "30s"
	}
	if c.Helm.CollisionProbeFailOpen == nil {
		c.Helm.CollisionProbeFailOpen = boolPtr(true)
	}
	if c.Helm.Wait == nil {
		c.Helm.Wait = boolPtr(true)
	}
	if c.Helm.Timeout == "" {
		c.Helm.Timeout = "300s"
	}

	if c.Deployments.Workers == 0 {
		c.Deployments.Workers = 5
	}
	if c.Deployments.QueueSize == 0 {
		c.Deployments.QueueSize = 100
	}
	if c.Deployments.WaitGrace == "" {
		c.Deployments.WaitGrace = "60s"
	}

	if c.ClusterProbe.Timeout == "" {
		c.ClusterProbe.Timeout = "10s"
	}
	if c.ClusterProbe.MaxRetries == 0 {
		c.ClusterProbe.MaxRetries = 2
	}
	if c.ClusterProbe.FailureThreshold == 0 {
		c.ClusterProbe.FailureThreshold = 3
	}
	if c.ClusterProbe.OpenDuration == "" {
		c.ClusterProbe.OpenDuration = "30s"
	}

	if c.RateLimit.Enabled == nil {
		c.RateLimit.Enabled = boolPtr(true)
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = ratelimit.DefaultAPIConfig().Rate
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = ratelimit.DefaultAPIConfig().Burst
	}

	if c.Registry.Source == "" {
		c.Registry.Source = RegistryStatic
	}
	if c.Registry.CacheTTL == "" {
		c.Registry.CacheTTL = "1m"
	}

	if c.Events.Log == nil {
		c.Events.Log = boolPtr(true)
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = events.DefaultQueueSize
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "chartdeploy.deployments"
	}
	if c.Events.Kafka.WriteTimeout == "" {
		c.Events.Kafka.WriteTimeout = "10s"
	}
	if c.Events.Mail.Port == 0 {
		c.Events.Mail.Port = 587
	}
	if c.Events.Mail.RetryBackoff == "" {
		c.Events.Mail.RetryBackoff = "100ms"
	}
	return c
}

// Validate rejects values no component can work with. It expects Defaults
// to have been applied.
func (c Config) Validate() error {
	var errs []error

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tlsCertFile and server.tlsKeyFile must be set together"))
	}

	for name, v := range map[string]string{
		"helm.commandTimeout":         c.Helm.CommandTimeout,
		"helm.repositoryProbeTimeout": c.Helm.RepositoryProbeTimeout,
		"helm.collisionProbeTimeout":  c.Helm.CollisionProbeTimeout,
		"helm.timeout":                c.Helm.Timeout,
		"deployments.waitGrace":       c.Deployments.WaitGrace,
		"clusterProbe.timeout":        c.ClusterProbe.Timeout,
		"clusterProbe.openDuration":   c.ClusterProbe.OpenDuration,
		"registry.cacheTTL":           c.Registry.CacheTTL,
		"events.kafka.writeTimeout":   c.Events.Kafka.WriteTimeout,
		"events.mail.retryBackoff":    c.Events.Mail.RetryBackoff,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}

	if c.Deployments.Workers < 1 {
		errs = append(errs, fmt.Errorf("deployments.workers must be at least 1, got %d", c.Deployments.Workers))
	}
	if c.Deployments.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("deployments.queueSize must be at least 1, got %d", c.Deployments.QueueSize))
	}
	if c.ClusterProbe.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("clusterProbe.maxRetries must not be negative, got %d", c.ClusterProbe.MaxRetries))
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rateLimit.rate and rateLimit.burst must not be negative"))
	}

	switch c.Registry.Source {
	case RegistryStatic:
	case RegistrySecrets:
		if len(c.Clusters) > 0 {
			errs = append(errs, errors.New("clusters must be empty when registry.source is secrets"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.source must be %q or %q, got %q", RegistryStatic, RegistrySecrets, c.Registry.Source))
	}

	if c.Events.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("events.queueSize must be at least 1, got %d", c.Events.QueueSize))
	}
	if k := c.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, errors.New("events.kafka.brokers is required when kafka is enabled"))
		}
		switch k.SASL.Mechanism {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("events.kafka.sasl.mechanism %q is not supported", k.SASL.Mechanism))
		}
	}
	if m := c.Events.Mail; m.Enabled {
		if m.Host == "" {
			errs = append(errs, errors.New("events.mail.host is required when mail is enabled"))
		}
		if len(m.Recipients) == 0 {
			errs = append(errs, errors.New("events.mail.recipients is required when mail is enabled"))
		}
	}

	for i, r := range c.Repositories {
		if r.Name == "" || r.URL == "" {
			errs = append(errs, fmt.Errorf("repositories[%d]: name and url are required", i))
		}
	}
	for i, cl := range c.Clusters {
		if cl.ID == "" || cl.APIServerURL == "" {
			errs = append(errs, fmt.Errorf("clusters[%d]: id and apiServerUrl are required", i))
		}
	}
	return errors.Join(errs...)
}

// duration parses v, falling back to def. Values are checked by Validate.
func duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c Config) CommandTimeout() time.Duration {
	return duration(c.Helm.CommandTimeout, 60*time.Second)
}

// DeployTimeout is the helm --timeout for requests that wait without naming one.
func (c Config) DeployTimeout() time.Duration {
	return duration(c.Helm.Timeout, model.DefaultDeployTimeout)
}

// DefaultWait reports whether deploy requests wait for readiness unless told otherwise.
func (c Config) DefaultWait() bool {
	return c.Helm.Wait == nil || *c.Helm.Wait
}

func (c Config) CacheTTL() time.Duration {
	return duration(c.Registry.CacheTTL, time.Minute)
}

func (c Config) BuilderConfig() helm.BuilderConfig {
	return helm.BuilderConfig{
		Binary:           c.Helm.Binary,
		RepositoryConfig: c.Helm.RepositoryConfig,
		TempDir:          c.Helm.TempDir,
	}
}

func (c Config) ValidatorConfig() validation.Config {
	return validation.Config{
		RepositoryProbeTimeout: duration(c.Helm.RepositoryProbeTimeout, validation.DefaultRepositoryProbeTimeout),
		CollisionProbeTimeout:  duration(c.Helm.CollisionProbeTimeout, validation.DefaultCollisionProbeTimeout),
		CollisionProbeFailOpen: c.Helm.CollisionProbeFailOpen == nil || *c.Helm.CollisionProbeFailOpen,
	}
}

func (c Config) OrchestratorConfig() deploy.Config {
	d := deploy.DefaultConfig()
	return deploy.Config{
		Workers:        c.Deployments.Workers,
		QueueSize:      c.Deployments.QueueSize,
		CommandTimeout: c.CommandTimeout(),
		WaitGrace:      duration(c.Deployments.WaitGrace, d.WaitGrace),
	}
}

func (c Config) ProberConfig() cluster.ProberConfig {
	b := cluster.DefaultBreakerConfig()
	b.FailureThreshold = c.ClusterProbe.FailureThreshold
	b.OpenDuration = duration(c.ClusterProbe.OpenDuration, b.OpenDuration)
	return cluster.ProberConfig{
		Enabled:    c.ClusterProbe.Enabled,
		Timeout:    duration(c.ClusterProbe.Timeout, 10*time.Second),
		MaxRetries: c.ClusterProbe.MaxRetries,
		Breaker:    b,
	}
}

// RateLimitConfig returns the per-IP limiter settings and whether limiting is on.
func (c Config) RateLimitConfig() (ratelimit.Config, bool) {
	rl := ratelimit.DefaultAPIConfig()
	if c.RateLimit.Rate > 0 {
		rl.Rate = c.RateLimit.Rate
	}
	if c.RateLimit.Burst > 0 {
		rl.Burst = c.RateLimit.Burst
	}
	return rl, c.RateLimit.Enabled == nil || *c.RateLimit.Enabled
}

// RecorderConfig sizes the event queue.
func (c Config) RecorderConfig() events.RecorderConfig {
	return events.RecorderConfig{QueueSize: c.Events.QueueSize}
}

// EventLogEnabled reports whether events are written to the server log.
func (c Config) EventLogEnabled() bool {
	return c.Events.Log == nil || *c.Events.Log
}

// KafkaSinkConfig returns the Kafka sink settings and whether the sink is on.
// The SASL password is read from the environment variable named in the config.
func (c Config) KafkaSinkConfig() (events.KafkaSinkConfig, bool) {
	k := c.Events.Kafka
	if !k.Enabled {
		return events.KafkaSinkConfig{}, false
	}
	out := events.KafkaSinkConfig{
		Brokers:          k.Brokers,
		Topic:            k.Topic,
		WriteTimeout:     duration(k.WriteTimeout, 10*time.Second),
		RequiredAcks:     k.RequiredAcks,
		CompressionCodec: k.Compression,
	}
	if k.TLS.Enabled {
		out.TLS = &events.KafkaTLSConfig{Enabled: true, CAFile: k.TLS.CAFile, InsecureSkipVerify: k.TLS.InsecureSkipVerify}
	}
	if k.SASL.Mechanism != "" {
		out.SASL = &events.KafkaSASLConfig{Mechanism: k.SASL.Mechanism, Username: k.SASL.Username}
		if k.SASL.PasswordEnv != "" {
			out.SASL.Password = os.Getenv(k.SASL.PasswordEnv)
		}
	}
	return out, true
}

// MailConfig returns the SMTP settings and whether failure mails are on.
func (c Config) MailConfig() (mail.Config, bool) {
	m := c.Events.Mail
	if !m.Enabled {
		return mail.Config{}, false
	}
	out := mail.Config{
		Host:               m.Host,
		Port:               m.Port,
		Username:           m.User,
		InsecureSkipVerify: m.InsecureSkipVerify,
		SenderAddress:      m.SenderAddress,
		SenderName:         m.SenderName,
		Recipients:         m.Recipients,
		RetryCount:         m.RetryCount,
		RetryBackoff:       duration(m.RetryBackoff, 100*time.Millisecond),
	}
	if m.PasswordEnv != "" {
		out.Password = os.Getenv(m.PasswordEnv)
	}
	return out, true
}

// Print logs the effective configuration. Credentials are reduced to counts.
func (c Config) Print(log *zap.SugaredLogger) {
	repos := make([]string, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		repos = append(repos, r.Name)
	}
	log.Infow("Server configuration",
		"listen_address", c.Server.ListenAddress,
		"tls", c.Server.TLSCertFile != "",
		"trusted_proxies", c.Server.TrustedProxies,
		"helm_binary", c.Helm.Binary,
		"helm_repository_config", c.Helm.RepositoryConfig,
		"helm_temp_dir", c.Helm.TempDir,
		"helm_command_timeout", c.Helm.CommandTimeout,
		"helm_repository_probe_timeout", c.Helm.RepositoryProbeTimeout,
		"helm_collision_probe_timeout", c.Helm.CollisionProbeTimeout,
		"helm_collision_probe_fail_open", c.ValidatorConfig().CollisionProbeFailOpen,
		"helm_wait", c.DefaultWait(),
		"helm_timeout", c.Helm.Timeout,
		"deployment_workers", c.Deployments.Workers,
		"deployment_queue_size", c.Deployments.QueueSize,
		"cluster_probe_enabled", c.ClusterProbe.Enabled,
		"cluster_probe_timeout", c.ClusterProbe.Timeout,
		"rate_limit_enabled", c.RateLimit.Enabled == nil || *c.RateLimit.Enabled,
		"registry_source", c.Registry.Source,
		"registry_namespace", c.Registry.Namespace,
		"event_log", c.EventLogEnabled(),
		"event_kafka", c.Events.Kafka.Enabled,
		"event_kafka_brokers", c.Events.Kafka.Brokers,
		"event_kafka_topic", c.Events.Kafka.Topic,
		"event_mail", c.Events.Mail.Enabled,
		"event_mail_host", c.Events.Mail.Host,
		"event_mail_recipients", len(c.Events.Mail.Recipients),
		"static_clusters", len(c.Clusters),
		"repositories", repos,
	)
}
