package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/client"
	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/output"
)

const DefaultServer = "http://localhost:8080"

type Config struct {
	OutputWriter io.Writer
	// Server is used when neither --server nor CHARTCTL_SERVER is set.
	Server string
}

type runtimeState struct {
	server       string
	outputFormat string
	timeout      time.Duration
	caFile       string
	insecure     bool
	writer       io.Writer
	fallback     string
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		Server:       DefaultServer,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter, fallback: cfg.Server}

	root := &cobra.Command{
		Use:           "chartctl",
		Short:         "Deploy and inspect Helm charts through chartdeploy",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = os.Getenv("CHARTCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = rt.fallback
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("CHARTCTL_OUTPUT")
			}
			if !rt.insecure {
				rt.insecure = strings.EqualFold(os.Getenv("CHARTCTL_INSECURE_SKIP_TLS_VERIFY"), "true")
			}
			_, err := output.ParseFormat(rt.outputFormat)
			return err
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "chartdeploy server URL (env CHARTCTL_SERVER)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml (env CHARTCTL_OUTPUT)")
	root.PersistentFlags().DurationVar(&rt.timeout, "request-timeout", client.DefaultTimeout, "Timeout for a single API request")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle used to verify the server")
	root.PersistentFlags().BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip server certificate verification")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewDeployCommand(),
		NewReleaseCommand(),
		NewChartCommand(),
		NewHealthCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// OutputFormat was validated in PersistentPreRunE.
func (rt *runtimeState) OutputFormat() output.Format {
	f, _ := output.ParseFormat(rt.outputFormat)
	return f
}

func (rt *runtimeState) Client() (*client.Client, error) {
	return client.New(
		client.WithServer(rt.server),
		client.WithTimeout(rt.timeout),
		client.WithTLSConfig(rt.caFile, rt.insecure),
	)
}

// render writes obj as json/yaml, or calls table for the table formats.
func (rt *runtimeState) render(obj any, table func(w io.Writer, wide bool)) error {
	f := rt.OutputFormat()
	if f.Structured() {
		return output.WriteObject(rt.Writer(), f, obj)
	}
	table(rt.Writer(), f == output.FormatWide)
	return nil
}
