/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/inventory"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":      FormatTable,
		"table": FormatTable,
		"JSON":  FormatJSON,
		" yaml": FormatYAML,
		"wide":  FormatWide,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.True(t, FormatJSON.Structured())
	assert.False(t, FormatWide.Structured())
}

func TestWriteObjectJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteObject(buf, FormatJSON, model.DeploymentOutcome{Success: true, TaskID: "task-1"}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "task-1", out["taskId"])
}

func TestWriteObjectYAMLUsesJSONNames(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteObject(buf, FormatYAML, chart.ChartList{Repository: "bitnami", Charts: []chart.ChartSummary{{Name: "nginx", Version: "1.0.0"}}}))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "bitnami", out["repositoryName"])
	assert.Contains(t, buf.String(), "name: nginx")
}

func TestWriteObjectRejectsTableFormats(t *testing.T) {
	for _, f := range []Format{FormatTable, FormatWide, Format("xml")} {
		assert.Error(t, WriteObject(&bytes.Buffer{}, f, struct{}{}), f)
	}
}

func TestWriteReleaseTable(t *testing.T) {
	releases := []model.Release{
		{Name: "my-nginx", Namespace: "default", Revision: "3", Status: "deployed", Chart: "nginx-14.2.1", AppVersion: "1.25.3", Updated: "2024-01-01"},
		{Name: "redis", Namespace: "cache", Status: "failed"},
	}

	buf := &bytes.Buffer{}
	WriteReleaseTable(buf, releases)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "nginx-14.2.1")
	assert.NotContains(t, buf.String(), "2024-01-01")
	assert.Contains(t, lines[2], "-")

	buf.Reset()
	WriteReleaseTableWide(buf, releases)
	assert.Contains(t, buf.String(), "UPDATED")
	assert.Contains(t, buf.String(), "2024-01-01")
}

func TestWriteChartTables(t *testing.T) {
	charts := []chart.ChartSummary{
		{Name: "nginx", Version: "14.2.1", AppVersion: "1.25.3", Description: strings.Repeat("x", 100), Keywords: []string{"web", "http"}},
		{Name: "old", Version: "0.1.0", Deprecated: true},
	}
	buf := &bytes.Buffer{}
	WriteChartTable(buf, charts)
	assert.Contains(t, buf.String(), "old (deprecated)")
	assert.Contains(t, buf.String(), "...")

	buf.Reset()
	WriteChartTableWide(buf, charts)
	assert.Contains(t, buf.String(), "web,http")
}

func TestWriteChartDetail(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteChartDetail(buf, chart.ChartDetail{
		Repository:  "bitnami",
		Name:        "nginx",
		Version:     "14.2.1",
		Maintainers: []chart.Maintainer{{Name: "Broadcom"}},
		Versions:    []chart.VersionHistory{{Version: "14.2.1"}, {Version: "14.2.0"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Broadcom")
	assert.Contains(t, out, "Versions:")
	assert.Contains(t, out, "14.2.0")
}

func TestWriteResourceTable(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteResourceTable(buf, chart.ReleaseResources{ReleaseName: "my-nginx"})
	assert.Contains(t, buf.String(), "No resources found")

	buf.Reset()
	WriteResourceTable(buf, chart.ReleaseResources{ReleaseName: "my-nginx", Resources: []inventory.Ref{{Kind: "Deployment", Name: "my-nginx", Namespace: "default", Status: "InProgress"}}})
	assert.Contains(t, buf.String(), "STATUS")
	assert.Contains(t, buf.String(), "InProgress")
}

func TestWriteStatusOutcomeHealth(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteStatus(buf, chart.ReleaseStatus{ReleaseName: "my-nginx", ClusterID: "cluster-001", Status: "deployed"})
	assert.Contains(t, buf.String(), "deployed")

	buf.Reset()
	WriteOutcome(buf, model.DeploymentOutcome{Message: "submitted", TaskID: "task-1"})
	assert.Equal(t, "submitted\nTask: task-1\n", buf.String())

	buf.Reset()
	WriteHealth(buf, deploy.Health{Healthy: false, Workers: 5, QueueLength: 1, QueueCapacity: 100, LastError: "boom"})
	assert.Contains(t, buf.String(), "unhealthy")
	assert.Contains(t, buf.String(), "1/100")
	assert.Contains(t, buf.String(), "boom")
}
