/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func WriteReleaseTable(w io.Writer, releases []model.Release) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "NAME\tNAMESPACE\tREVISION\tSTATUS\tCHART\tAPP_VERSION")
	for _, r := range releases {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Name, r.Namespace, orDash(r.Revision), orDash(r.Status), orDash(r.Chart), orDash(r.AppVersion))
	}
	_ = tw.Flush()
}

// WriteReleaseTableWide adds the last update time.
func WriteReleaseTableWide(w io.Writer, releases []model.Release) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "NAME\tNAMESPACE\tREVISION\tSTATUS\tCHART\tAPP_VERSION\tUPDATED")
	for _, r := range releases {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Name, r.Namespace, orDash(r.Revision), orDash(r.Status), orDash(r.Chart), orDash(r.AppVersion), orDash(r.Updated))
	}
	_ = tw.Flush()
}

func WriteChartTable(w io.Writer, charts []chart.ChartSummary) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "NAME\tVERSION\tAPP_VERSION\tDESCRIPTION")
	for _, c := range charts {
		name := c.Name
		if c.Deprecated {
			name += " (deprecated)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, c.Version, orDash(c.AppVersion), truncate(c.Description, 60))
	}
	_ = tw.Flush()
}

func WriteChartTableWide(w io.Writer, charts []chart.ChartSummary) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "NAME\tVERSION\tAPP_VERSION\tCREATED\tKEYWORDS\tDESCRIPTION")
	for _, c := range charts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Name, c.Version, orDash(c.AppVersion), orDash(c.Created), orDash(strings.Join(c.Keywords, ",")), orDash(c.Description))
	}
	_ = tw.Flush()
}

func WriteChartDetail(w io.Writer, d chart.ChartDetail) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
	_, _ = fmt.Fprintf(tw, "Repository:\t%s\n", d.Repository)
	_, _ = fmt.Fprintf(tw, "Version:\t%s\n", d.Version)
	_, _ = fmt.Fprintf(tw, "App version:\t%s\n", orDash(d.AppVersion))
	_, _ = fmt.Fprintf(tw, "Description:\t%s\n", orDash(d.Description))
	_, _ = fmt.Fprintf(tw, "Home:\t%s\n", orDash(d.Home))
	if len(d.Maintainers) > 0 {
		names := make([]string, 0, len(d.Maintainers))
		for _, m := range d.Maintainers {
			names = append(names, m.Name)
		}
		_, _ = fmt.Fprintf(tw, "Maintainers:\t%s\n", strings.Join(names, ", "))
	}
	_ = tw.Flush()

	if len(d.Versions) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nVersions:")
	tw = newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "VERSION\tAPP_VERSION\tCREATED")
	for _, v := range d.Versions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Version, orDash(v.AppVersion), orDash(v.Created))
	}
	_ = tw.Flush()
}

func WriteResourceTable(w io.Writer, res chart.ReleaseResources) {
	if len(res.Resources) == 0 {
		_, _ = fmt.Fprintf(w, "No resources found for release '%s'.\n", res.ReleaseName)
		return
	}
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "KIND\tNAMESPACE\tNAME\tSTATUS")
	for _, r := range res.Resources {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, orDash(r.Namespace), r.Name, orDash(r.Status))
	}
	_ = tw.Flush()
}

func WriteStatus(w io.Writer, st chart.ReleaseStatus) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "Release:\t%s\n", st.ReleaseName)
	_, _ = fmt.Fprintf(tw, "Cluster:\t%s\n", st.ClusterID)
	_, _ = fmt.Fprintf(tw, "Namespace:\t%s\n", orDash(st.Namespace))
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", orDash(st.Status))
	_ = tw.Flush()
}

func WriteOutcome(w io.Writer, o model.DeploymentOutcome) {
	_, _ = fmt.Fprintln(w, o.Message)
	if o.TaskID != "" {
		_, _ = fmt.Fprintf(w, "Task: %s\n", o.TaskID)
	}
}

func WriteHealth(w io.Writer, h deploy.Health) {
	tw := newTabWriter(w)
	state := "healthy"
	if !h.Healthy {
		state = "unhealthy"
	}
	_, _ = fmt.Fprintf(tw, "State:\t%s\n", state)
	_, _ = fmt.Fprintf(tw, "Workers:\t%d\n", h.Workers)
	_, _ = fmt.Fprintf(tw, "Queue:\t%d/%d\n", h.QueueLength, h.QueueCapacity)
	_, _ = fmt.Fprintf(tw, "In flight:\t%d\n", h.InFlight)
	_, _ = fmt.Fprintf(tw, "Succeeded:\t%d\n", h.Succeeded)
	_, _ = fmt.Fprintf(tw, "Failed:\t%d\n", h.Failed)
	if h.LastError != "" {
		_, _ = fmt.Fprintf(tw, "Last error:\t%s\n", h.LastError)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
