package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/output"
)

func NewReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "release",
		Aliases: []string{"releases"},
		Short:   "Query releases on a target cluster",
	}
	cmd.AddCommand(
		newReleaseListCommand(),
		newReleaseStatusCommand(),
		newReleaseResourcesCommand(),
	)
	return cmd
}

func newReleaseListCommand() *cobra.Command {
	var (
		cluster   string
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases (all namespaces unless --namespace is set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			list, err := apiClient.Releases(cmd.Context(), cluster, namespace)
			if err != nil {
				return err
			}
			return rt.render(list, func(w io.Writer, wide bool) {
				if wide {
					output.WriteReleaseTableWide(w, list.Releases)
					return
				}
				output.WriteReleaseTable(w, list.Releases)
			})
		},
	}
	cmd.Flags().StringVar(&cluster, "cluster", "", "Target cluster id")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Restrict to one namespace")
	_ = cmd.MarkFlagRequired("cluster")
	return cmd
}

func newReleaseStatusCommand() *cobra.Command {
	var (
		cluster   string
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "status RELEASE",
		Short: "Show the status of a release",
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
			st, err := apiClient.Status(cmd.Context(), cluster, args[0], namespace)
			if err != nil {
				return err
			}
			return rt.render(st, func(w io.Writer, _ bool) {
				output.WriteStatus(w, st)
			})
		},
	}
	cmd.Flags().StringVar(&cluster, "cluster", "", "Target cluster id")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Release namespace")
	_ = cmd.MarkFlagRequired("cluster")
	return cmd
}

func newReleaseResourcesCommand() *cobra.Command {
	var (
		cluster   string
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "resources RELEASE",
		Short: "List the Kubernetes objects that belong to a release",
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
			res, err := apiClient.Resources(cmd.Context(), cluster, args[0], namespace)
			if err != nil {
				return err
			}
			return rt.render(res, func(w io.Writer, _ bool) {
				output.WriteResourceTable(w, res)
			})
		},
	}
	cmd.Flags().StringVar(&cluster, "cluster", "", "Target cluster id")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Release namespace")
	_ = cmd.MarkFlagRequired("cluster")
	return cmd
}
