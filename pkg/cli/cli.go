package cli

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/config"
)

// DefaultShutdownTimeout bounds how long queued deployments may drain on exit.
const DefaultShutdownTimeout = 30 * time.Second

type Config struct {
	// Application flags
	Debug bool

	// Configuration flags
	ConfigPath string
	// ListenAddress overrides server.listenAddress from the config file when set.
	ListenAddress string
	// PodNamespace is the fallback namespace for the Secret-backed cluster registry.
	PodNamespace string

	EnableHTTP2     bool
	ShutdownTimeout string
}

// Parse reads the process command line.
func Parse() *Config {
	cfg, err := ParseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		// the flag set already printed the error and usage
		os.Exit(2)
	}
	return cfg
}

// ParseArgs defines the server flags with environment variable fallbacks and
// parses args.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("chartdeploy", flag.ContinueOnError)

	// The pattern: fs.XxxVar(&variable, "flag-name", defaultValueOrEnvValue, "help text")
	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("CHARTDEPLOY_DEBUG", false), "Enable debug level logging")

	fs.StringVar(&cfg.ConfigPath, "config-path", getEnvString("CHARTDEPLOY_CONFIG_PATH", config.DefaultPath),
		"Path to the chartdeploy configuration file")
	fs.StringVar(&cfg.ListenAddress, "listen-address", getEnvString("CHARTDEPLOY_LISTEN_ADDRESS", ""),
		"Address the API server listens on; overrides server.listenAddress")
	fs.StringVar(&cfg.PodNamespace, "pod-namespace", getEnvString("POD_NAMESPACE", "default"),
		"The namespace where the pod is running (used when registry.namespace is empty)")
	fs.BoolVar(&cfg.EnableHTTP2, "enable-http2", getEnvBool("ENABLE_HTTP2", false),
		"If set, HTTP/2 will be enabled for the API server")
	fs.StringVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvString("CHARTDEPLOY_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout.String()),
		"How long queued deployments may drain on shutdown (e.g., '30s', '2m')")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"listen_address", c.ListenAddress,
		"pod_namespace", c.PodNamespace,
		"enable_http2", c.EnableHTTP2,
		"shutdown_timeout", c.ShutdownTimeout,
	)
}

// DisableHTTP2 is used to configure TLS options to disable HTTP/2.
// This is important because HTTP/2 has known vulnerabilities (CVE-2023-44487, CVE-2024-3156).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}

func ParseShutdownTimeout(value string, log *zap.SugaredLogger) time.Duration {
	timeout, err := parseDuration("shutdown-timeout", value, DefaultShutdownTimeout)
	if err != nil {
		log.Warn(err)
	}
	return timeout
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
