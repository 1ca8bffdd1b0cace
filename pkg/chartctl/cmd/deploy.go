package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/client"
	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/output"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

func NewDeployCommand() *cobra.Command {
	var (
		release    string
		cluster    string
		namespace  string
		version    string
		valuesFile string
		noWait     bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "deploy REPOSITORY/CHART",
		Short: "Submit a chart installation",
		Long: "Submits a chart installation to chartdeploy. The request is validated\n" +
			"synchronously; the install itself runs in the background and the\n" +
			"returned task id identifies it in the server logs.",
		Example: "  chartctl deploy bitnami/nginx --release my-nginx --cluster cluster-001 -f values.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			repo, chartName, err := splitChartRef(args[0])
			if err != nil {
				return err
			}
			if release == "" {
				return errors.New("--release is required")
			}
			if cluster == "" {
				return errors.New("--cluster is required")
			}

			in := client.DeployInput{
				Repository:  repo,
				Chart:       chartName,
				ReleaseName: release,
				ClusterID:   cluster,
				Namespace:   namespace,
				Version:     version,
			}
			if cmd.Flags().Changed("no-wait") {
				wait := !noWait
				in.Wait = &wait
			}
			if timeout > 0 {
				in.Timeout = int(timeout.Round(time.Second) / time.Second)
			}
			if valuesFile != "" {
				data, err := readValues(valuesFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				in.ValuesFile = data
			}

			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			outcome, err := apiClient.Deploy(cmd.Context(), in)
			if err != nil {
				return err
			}
			return rt.render(outcome, func(w io.Writer, _ bool) {
				output.WriteOutcome(w, outcome)
			})
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "Release name")
	cmd.Flags().StringVar(&cluster, "cluster", "", "Target cluster id")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Target namespace (server default: "+model.DefaultNamespace+")")
	cmd.Flags().StringVar(&version, "version", "", "Chart version (default: latest)")
	cmd.Flags().StringVarP(&valuesFile, "values", "f", "", "Values file, or - for stdin")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for resources to become ready")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Install timeout (server default when unset)")
	return cmd
}

func readValues(path string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("values file %s is empty", path)
	}
	return data, nil
}
