package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/output"
)

func NewChartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chart",
		Aliases: []string{"charts"},
		Short:   "Browse charts of a registered repository",
	}
	cmd.AddCommand(
		newChartListCommand(),
		newChartGetCommand(),
		newChartShowCommand(),
	)
	return cmd
}

// splitChartRef splits REPOSITORY/CHART.
func splitChartRef(ref string) (string, string, error) {
	repo, name, ok := strings.Cut(ref, "/")
	if !ok || repo == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid chart reference %q: expected REPOSITORY/CHART", ref)
	}
	return repo, name, nil
}

func newChartListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list REPOSITORY",
		Short: "List the charts of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			list, err := apiClient.ListCharts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.render(list, func(w io.Writer, wide bool) {
				if wide {
					output.WriteChartTableWide(w, list.Charts)
					return
				}
				output.WriteChartTable(w, list.Charts)
			})
		},
	}
}

func newChartGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get REPOSITORY/CHART",
		Short: "Show chart details and version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			repo, name, err := splitChartRef(args[0])
			if err != nil {
				return err
			}
			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			detail, err := apiClient.ChartDetail(cmd.Context(), repo, name)
			if err != nil {
				return err
			}
			return rt.render(detail, func(w io.Writer, _ bool) {
				output.WriteChartDetail(w, detail)
			})
		},
	}
}

func newChartShowCommand() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:       "show values|readme|metadata REPOSITORY/CHART",
		Short:     "Print a chart's default values, README or Chart.yaml",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"values", "readme", "metadata"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			repo, name, err := splitChartRef(args[1])
			if err != nil {
				return err
			}
			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			content, err := apiClient.Show(cmd.Context(), repo, name, args[0], version)
			if err != nil {
				return err
			}
			return rt.render(content, func(w io.Writer, _ bool) {
				_, _ = fmt.Fprintln(w, strings.TrimRight(content.Content, "\n"))
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Chart version (default: latest)")
	return cmd
}
