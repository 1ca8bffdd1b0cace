package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/k8s-chartdeploy/pkg/apiresponses"
	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/version"
)

const DefaultTimeout = 30 * time.Second

// Client talks to the chartdeploy HTTP API.
type Client struct {
	baseURL   string
	http      *resty.Client
	userAgent string
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:      resty.New().SetTimeout(DefaultTimeout),
		userAgent: version.UserAgent("chartctl"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == "" {
		return nil, errors.New("server is required")
	}
	c.http.SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		c.baseURL = strings.TrimSuffix(parsed.String(), "/")
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		c.http.SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecureSkipTLSVerify}) //nolint:gosec // user opt-in
		if caFile != "" {
			c.http.SetRootCertificate(caFile)
		}
		return nil
	}
}

// HTTPError carries the server's error body.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	return msg
}

func (c *Client) get(ctx context.Context, endpoint string, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out).SetError(&apiresponses.APIError{})
	for k, v := range query {
		if v != "" {
			req.SetQueryParam(k, v)
		}
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	httpErr := &HTTPError{StatusCode: resp.StatusCode()}
	if apiErr, ok := resp.Error().(*apiresponses.APIError); ok && apiErr != nil {
		httpErr.Code = apiErr.Code
		httpErr.Message = strings.TrimSpace(apiErr.Error)
		httpErr.Field = apiErr.Field
	}
	if httpErr.Message == "" {
		httpErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	if httpErr.Message == "" {
		httpErr.Message = resp.Status()
	}
	return httpErr
}

func seg(s string) string { return url.PathEscape(s) }

// DeployInput is what `chartctl deploy` submits.
type DeployInput struct {
	Repository  string
	Chart       string
	ReleaseName string
	ClusterID   string
	Namespace   string
	Version     string
	// ValuesFile is sent as a multipart upload when non-empty.
	ValuesFile []byte
	Wait       *bool
	// Timeout in seconds; zero leaves the server default.
	Timeout int
}

func (c *Client) Deploy(ctx context.Context, in DeployInput) (model.DeploymentOutcome, error) {
	var out model.DeploymentOutcome
	endpoint := fmt.Sprintf("/api/charts/%s/%s/deploy", seg(in.Repository), seg(in.Chart))
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&apiresponses.APIError{})

	if len(in.ValuesFile) > 0 {
		form := map[string]string{
			"releaseName": in.ReleaseName,
			"clusterId":   in.ClusterID,
			"namespace":   in.Namespace,
			"version":     in.Version,
		}
		if in.Wait != nil {
			form["wait"] = fmt.Sprint(*in.Wait)
		}
		if in.Timeout > 0 {
			form["timeout"] = fmt.Sprint(in.Timeout)
		}
		req.SetFormData(form).SetMultipartField("valuesFile", "values.yaml", "application/x-yaml", strings.NewReader(string(in.ValuesFile)))
	} else {
		body := map[string]any{
			"releaseName": in.ReleaseName,
			"clusterId":   in.ClusterID,
			"namespace":   in.Namespace,
			"version":     in.Version,
		}
		if in.Wait != nil {
			body["wait"] = *in.Wait
		}
		if in.Timeout > 0 {
			body["timeout"] = in.Timeout
		}
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Post(endpoint)
	if err != nil {
		return out, err
	}
	return out, checkResponse(resp)
}

func (c *Client) Status(ctx context.Context, clusterID, release, namespace string) (chart.ReleaseStatus, error) {
	var out chart.ReleaseStatus
	err := c.get(ctx, fmt.Sprintf("/api/releases/%s/%s/status", seg(clusterID), seg(release)), map[string]string{"namespace": namespace}, &out)
	return out, err
}

func (c *Client) Releases(ctx context.Context, clusterID, namespace string) (chart.ReleaseList, error) {
	var out chart.ReleaseList
	err := c.get(ctx, "/api/releases/"+seg(clusterID), map[string]string{"namespace": namespace}, &out)
	return out, err
}

func (c *Client) Resources(ctx context.Context, clusterID, release, namespace string) (chart.ReleaseResources, error) {
	var out chart.ReleaseResources
	err := c.get(ctx, fmt.Sprintf("/api/releases/%s/%s/resources", seg(clusterID), seg(release)), map[string]string{"namespace": namespace}, &out)
	return out, err
}

func (c *Client) ListCharts(ctx context.Context, repository string) (chart.ChartList, error) {
	var out chart.ChartList
	err := c.get(ctx, "/api/charts/"+seg(repository), nil, &out)
	return out, err
}

func (c *Client) ChartDetail(ctx context.Context, repository, chartName string) (chart.ChartDetail, error) {
	var out chart.ChartDetail
	err := c.get(ctx, fmt.Sprintf("/api/charts/%s/%s", seg(repository), seg(chartName)), nil, &out)
	return out, err
}

// Show fetches values, readme or metadata. kind is the route suffix.
func (c *Client) Show(ctx context.Context, repository, chartName, kind, chartVersion string) (chart.ChartContent, error) {
	switch kind {
	case "values", "readme", "metadata":
	default:
		return chart.ChartContent{}, fmt.Errorf("unknown chart content %q: expected values, readme or metadata", kind)
	}
	var out chart.ChartContent
	err := c.get(ctx, fmt.Sprintf("/api/charts/%s/%s/%s", seg(repository), seg(chartName), kind), map[string]string{"version": chartVersion}, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (deploy.Health, error) {
	var out deploy.Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/api/deployments/health")
	if err != nil {
		return out, err
	}
	if resp.StatusCode() >= 400 {
		return out, &HTTPError{StatusCode: resp.StatusCode(), Message: "deployment workers are unhealthy"}
	}
	return out, nil
}
