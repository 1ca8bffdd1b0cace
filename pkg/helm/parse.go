package helm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// StatusUnknown is reported when a status cannot be read from helm output.
const StatusUnknown = "unknown"

var statusKeywords = []string{"deployed", "failed", "pending-install", "pending-upgrade", "pending-rollback", "uninstalling", "superseded"}

// ParseStatus extracts the release status from `helm status` output: the
// STATUS line when present, otherwise the first known status keyword.
func ParseStatus(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "STATUS:"); ok {
			if s := strings.TrimSpace(rest); s != "" {
				return s
			}
		}
	}
	lower := strings.ToLower(output)
	for _, kw := range statusKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return StatusUnknown
}

// ParseReleases decodes `helm list --output json`. Leading non-JSON lines
// (helm warnings) are skipped.
func ParseReleases(output string) ([]model.Release, error) {
	trimmed := strings.TrimSpace(output)
	if idx := strings.Index(trimmed, "["); idx > 0 {
		trimmed = trimmed[idx:]
	}
	if trimmed == "" {
		return []model.Release{}, nil
	}
	var releases []model.Release
	if err := json.Unmarshal([]byte(trimmed), &releases); err != nil {
		return nil, fmt.Errorf("parse helm list output: %w", err)
	}
	if releases == nil {
		releases = []model.Release{}
	}
	return releases, nil
}

// ContainsRelease reports whether releases has an entry named name.
func ContainsRelease(releases []model.Release, name string) bool {
	for _, r := range releases {
		if r.Name == name {
			return true
		}
	}
	return false
}
