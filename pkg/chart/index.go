// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package chart

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/version"
)

const DefaultIndexTimeout = 30 * time.Second

// Maintainer, Dependency and IndexEntry mirror the fields of a helm
// repository index.yaml that are exposed to callers.
type Maintainer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

type Dependency struct {
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	Repository string `json:"repository,omitempty"`
}

type IndexEntry struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	AppVersion   string       `json:"appVersion,omitempty"`
	Description  string       `json:"description,omitempty"`
	Keywords     []string     `json:"keywords,omitempty"`
	Created      string       `json:"created,omitempty"`
	Home         string       `json:"home,omitempty"`
	Icon         string       `json:"icon,omitempty"`
	Sources      []string     `json:"sources,omitempty"`
	Maintainers  []Maintainer `json:"maintainers,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Deprecated   bool         `json:"deprecated,omitempty"`
}

// IndexFile is a parsed index.yaml.
type IndexFile struct {
	APIVersion string                  `json:"apiVersion"`
	Generated  string                  `json:"generated,omitempty"`
	Entries    map[string][]IndexEntry `json:"entries"`
}

// ChartSummary describes the latest version of one chart.
type ChartSummary struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	AppVersion  string   `json:"appVersion,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Created     string   `json:"created,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`
}

type ChartList struct {
	Repository string         `json:"repositoryName"`
	Charts     []ChartSummary `json:"charts"`
}

type VersionHistory struct {
	Version    string `json:"version"`
	AppVersion string `json:"appVersion,omitempty"`
	Created    string `json:"created,omitempty"`
}

// ChartDetail is the latest version of a chart plus its version history,
// newest first.
type ChartDetail struct {
	Repository   string           `json:"repositoryName"`
	Name         string           `json:"name"`
	Version      string           `json:"version"`
	AppVersion   string           `json:"appVersion,omitempty"`
	Description  string           `json:"description,omitempty"`
	Keywords     []string         `json:"keywords,omitempty"`
	Created      string           `json:"created,omitempty"`
	Maintainers  []Maintainer     `json:"maintainers,omitempty"`
	Source       string           `json:"source,omitempty"`
	Sources      []string         `json:"sources,omitempty"`
	Home         string           `json:"home,omitempty"`
	Icon         string           `json:"icon,omitempty"`
	Dependencies []Dependency     `json:"dependencies,omitempty"`
	Versions     []VersionHistory `json:"versionHistory"`
}

type clientKey struct {
	caFile   string
	insecure bool
}

// IndexClient downloads repository index files over HTTP. One resty client
// is kept per TLS setting.
type IndexClient struct {
	timeout time.Duration
	log     *zap.SugaredLogger

	mu      sync.Mutex
	clients map[clientKey]*resty.Client
}

func NewIndexClient(timeout time.Duration, log *zap.SugaredLogger) *IndexClient {
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &IndexClient{
		timeout: timeout,
		log:     log.Named("index"),
		clients: map[clientKey]*resty.Client{},
	}
}

func (c *IndexClient) client(repo model.Repository) *resty.Client {
	key := clientKey{caFile: repo.CAFile, insecure: repo.InsecureSkipTLSVerify}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.clients[key]; ok {
		return rc
	}

	rc := resty.New().
		SetTimeout(c.timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/x-yaml, text/yaml, */*").
		SetHeader("User-Agent", version.UserAgent("chartdeploy"))
	if key.insecure {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opted in per repository
	}
	if key.caFile != "" {
		rc.SetRootCertificate(key.caFile)
	}
	c.clients[key] = rc
	return rc
}

// Fetch downloads and parses <repo.URL>/index.yaml.
func (c *IndexClient) Fetch(ctx context.Context, repo model.Repository) (*IndexFile, error) {
	url := strings.TrimSuffix(repo.URL, "/") + "/index.yaml"
	req := c.client(repo).R().SetContext(ctx)
	if strings.TrimSpace(repo.Username) != "" {
		req.SetBasicAuth(repo.Username, repo.Password)
	}

	c.log.Debugw("Fetching repository index", "repository", repo.Name, "url", url)
	resp, err := req.Get(url)
	if err != nil {
		metrics.RepositoryIndexFetches.WithLabelValues(repo.Name, "error").Inc()
		return nil, failure.Connectivity(failure.TargetRepository, repo.Name,
			"cannot fetch index of repository %s from %s", repo.Name, url).Wrap(err)
	}
	if resp.IsError() {
		metrics.RepositoryIndexFetches.WithLabelValues(repo.Name, "http_error").Inc()
		switch resp.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, failure.Configuration("repository %s rejected the configured credentials (HTTP %d)", repo.Name, resp.StatusCode())
		case http.StatusNotFound:
			fe := failure.NotFound(failure.TargetRepository, repo.Name)
			fe.Message = fmt.Sprintf("repository %s has no index.yaml at %s", repo.Name, url)
			return nil, fe
		}
		return nil, failure.Connectivity(failure.TargetRepository, repo.Name,
			"unable to fetch index.yaml from repository %s (HTTP %d)", repo.Name, resp.StatusCode())
	}

	idx, err := ParseIndex(resp.Body())
	if err != nil {
		metrics.RepositoryIndexFetches.WithLabelValues(repo.Name, "invalid").Inc()
		return nil, failure.Configuration("repository %s serves an unparsable index.yaml", repo.Name).Wrap(err)
	}
	metrics.RepositoryIndexFetches.WithLabelValues(repo.Name, "success").Inc()
	return idx, nil
}

// ParseIndex decodes index.yaml content.
func ParseIndex(data []byte) (*IndexFile, error) {
	var idx IndexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	if idx.Entries == nil {
		idx.Entries = map[string][]IndexEntry{}
	}
	return &idx, nil
}

// ListCharts returns the latest version of every chart, sorted by name.
func (c *IndexClient) ListCharts(ctx context.Context, repo model.Repository) (ChartList, error) {
	idx, err := c.Fetch(ctx, repo)
	if err != nil {
		return ChartList{}, err
	}
	return Summarize(repo.Name, idx), nil
}

// ChartDetail returns the detail of one chart.
func (c *IndexClient) ChartDetail(ctx context.Context, repo model.Repository, name string) (ChartDetail, error) {
	idx, err := c.Fetch(ctx, repo)
	if err != nil {
		return ChartDetail{}, err
	}
	return Detail(repo.Name, idx, name)
}

func Summarize(repository string, idx *IndexFile) ChartList {
	list := ChartList{Repository: repository, Charts: []ChartSummary{}}
	for name, versions := range idx.Entries {
		if len(versions) == 0 {
			continue
		}
		latest := sortVersions(versions)[0]
		list.Charts = append(list.Charts, ChartSummary{
			Name:        name,
			Version:     latest.Version,
			AppVersion:  latest.AppVersion,
			Description: latest.Description,
			Keywords:    latest.Keywords,
			Created:     latest.Created,
			Deprecated:  latest.Deprecated,
		})
	}
	sort.Slice(list.Charts, func(i, j int) bool { return list.Charts[i].Name < list.Charts[j].Name })
	return list
}

func Detail(repository string, idx *IndexFile, name string) (ChartDetail, error) {
	versions := idx.Entries[name]
	if len(versions) == 0 {
		return ChartDetail{}, failure.NotFound(failure.TargetChart, repository+"/"+name)
	}
	sorted := sortVersions(versions)
	latest := sorted[0]

	d := ChartDetail{
		Repository:   repository,
		Name:         name,
		Version:      latest.Version,
		AppVersion:   latest.AppVersion,
		Description:  latest.Description,
		Keywords:     latest.Keywords,
		Created:      latest.Created,
		Maintainers:  latest.Maintainers,
		Sources:      latest.Sources,
		Home:         latest.Home,
		Icon:         latest.Icon,
		Dependencies: latest.Dependencies,
	}
	if len(latest.Sources) > 0 {
		d.Source = latest.Sources[0]
	}
	for _, v := range sorted {
		d.Versions = append(d.Versions, VersionHistory{Version: v.Version, AppVersion: v.AppVersion, Created: v.Created})
	}
	return d, nil
}

// sortVersions orders entries newest first: stable releases before
// pre-releases, then by semver. Entries whose version does not parse keep
// their index order after all parsable ones.
func sortVersions(entries []IndexEntry) []IndexEntry {
	type parsed struct {
		entry IndexEntry
		ver   *semver.Version
	}
	items := make([]parsed, 0, len(entries))
	for _, e := range entries {
		v, _ := semver.NewVersion(e.Version)
		items = append(items, parsed{entry: e, ver: v})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ver, items[j].ver
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		aStable, bStable := a.Prerelease() == "", b.Prerelease() == ""
		if aStable != bStable {
			return aStable
		}
		return a.GreaterThan(b)
	})
	out := make([]IndexEntry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}
