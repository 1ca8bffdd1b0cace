package cmd

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/client"
	"github.com/telekom/k8s-chartdeploy/pkg/chartctl/output"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the state of the server's deployment workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := rt.Client()
			if err != nil {
				return err
			}
			h, err := apiClient.Health(cmd.Context())
			var httpErr *client.HTTPError
			if err != nil && !errors.As(err, &httpErr) {
				return err
			}
			if renderErr := rt.render(h, func(w io.Writer, _ bool) { output.WriteHealth(w, h) }); renderErr != nil {
				return renderErr
			}
			// unhealthy still prints the report but exits non-zero
			return err
		},
	}
}
