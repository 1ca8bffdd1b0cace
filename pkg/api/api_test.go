package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/k8s-chartdeploy/pkg/apiresponses"
	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/config"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/inventory"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	deployed  []model.DeploymentRequest
	deployErr error
	statusErr error
	shown     []helm.ShowKind
	version   string
}

func (f *fakeService) DeployChart(_ context.Context, req model.DeploymentRequest) (model.DeploymentOutcome, error) {
	if f.deployErr != nil {
		return model.DeploymentOutcome{}, f.deployErr
	}
	f.deployed = append(f.deployed, req)
	return model.DeploymentOutcome{
		Success:     true,
		Message:     "Deployment request submitted for release " + req.ReleaseName,
		ReleaseName: req.ReleaseName,
		ClusterID:   req.ClusterID,
		TaskID:      "task-1",
	}, nil
}

func (f *fakeService) GetChartStatus(_ context.Context, release, clusterID, namespace string) (chart.ReleaseStatus, error) {
	if f.statusErr != nil {
		return chart.ReleaseStatus{}, f.statusErr
	}
	return chart.ReleaseStatus{Success: true, ReleaseName: release, ClusterID: clusterID, Namespace: namespace, Status: "deployed"}, nil
}

func (f *fakeService) GetReleases(_ context.Context, clusterID, namespace string) (chart.ReleaseList, error) {
	return chart.ReleaseList{Success: true, ClusterID: clusterID, Namespace: namespace,
		Releases: []model.Release{{Name: "my-nginx", Namespace: "default", Status: "deployed"}}}, nil
}

func (f *fakeService) ShowChart(_ context.Context, repository, chartName, version string, kind helm.ShowKind) (chart.ChartContent, error) {
	f.shown = append(f.shown, kind)
	f.version = version
	return chart.ChartContent{Repository: repository, Chart: chartName, Version: version, Kind: kind, Content: "replicaCount: 1"}, nil
}

func (f *fakeService) ListCharts(_ context.Context, repository string) (chart.ChartList, error) {
	if repository != "bitnami" {
		return chart.ChartList{}, failure.NotFound(failure.TargetRepository, repository)
	}
	return chart.ChartList{Repository: repository, Charts: []chart.ChartSummary{{Name: "nginx", Version: "14.2.1"}}}, nil
}

func (f *fakeService) ChartDetail(_ context.Context, repository, chartName string) (chart.ChartDetail, error) {
	return chart.ChartDetail{Name: chartName, Version: "14.2.1"}, nil
}

func (f *fakeService) Resources(_ context.Context, release, clusterID, namespace string) (chart.ReleaseResources, error) {
	return chart.ReleaseResources{ReleaseName: release, ClusterID: clusterID, Namespace: namespace,
		Resources: []inventory.Ref{{Kind: "Deployment", Name: release, Namespace: "default"}}}, nil
}

type fakeHealth struct{ h deploy.Health }

func (f fakeHealth) Health() deploy.Health { return f.h }

func newTestServer(t *testing.T, svc ChartService, cfg config.Config, health HealthReporter) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := NewServer(ServerConfig{Log: log, Cfg: cfg.Defaults(), Debug: true})
	t.Cleanup(s.Close)

	defaults := DeployDefaults{Wait: true, Timeout: 300 * time.Second}
	require.NoError(t, s.RegisterAll([]APIController{
		NewChartController(svc, defaults, nil, log.Sugar()),
		NewReleaseController(svc, log.Sugar()),
		NewDeploymentController(health),
	}))
	return s
}

func do(t *testing.T, s *Server, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestDeployJSON(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy",
		[]byte(`{"releaseName":"my-nginx","clusterId":"cluster-001","namespace":"default","values":{"replicaCount":2}}`), "application/json")

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var out model.DeploymentOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "task-1", out.TaskID)

	require.Len(t, svc.deployed, 1)
	req := svc.deployed[0]
	assert.Equal(t, "bitnami", req.Repository)
	assert.Equal(t, "nginx", req.Chart)
	assert.Equal(t, "my-nginx", req.ReleaseName)
	assert.True(t, req.Wait, "wait defaults to true")
	assert.Equal(t, 300*time.Second, req.Timeout)
	assert.EqualValues(t, 2, req.Values["replicaCount"])
}

func TestDeployJSONOverridesDefaults(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy",
		[]byte(`{"releaseName":"my-nginx","clusterId":"cluster-001","wait":false,"timeout":120}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, svc.deployed[0].Wait)
	assert.Equal(t, 120*time.Second, svc.deployed[0].Timeout)
}

func TestDeployHugeTimeoutDoesNotWrap(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy",
		[]byte(`{"releaseName":"my-nginx","clusterId":"cluster-001","timeout":9223372036854775807}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Greater(t, svc.deployed[0].Timeout, model.MaxDeployTimeout, "left for request validation to reject")
}

func TestDeployMultipartWithValuesFile(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("releaseName", "my-nginx"))
	require.NoError(t, mw.WriteField("clusterId", "cluster-001"))
	require.NoError(t, mw.WriteField("version", "14.2.1"))
	fw, err := mw.CreateFormFile("valuesFile", "values.yaml")
	require.NoError(t, err)
	_, err = fw.Write([]byte("replicaCount: 3\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, svc.deployed, 1)
	assert.Equal(t, "14.2.1", svc.deployed[0].Version)
	assert.Equal(t, []byte("replicaCount: 3\n"), svc.deployed[0].ValuesFile)
}

func TestDeployErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		field  string
	}{
		{
			name:   "malformed json",
			body:   `{"releaseName":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid release name",
			err:    failure.Validation(failure.ReasonFormat, "releaseName", "^[a-z0-9]([-a-z0-9]*[a-z0-9])?$", "invalid release name"),
			status: http.StatusBadRequest,
			field:  "releaseName",
		},
		{
			name:   "unknown cluster",
			err:    failure.NotFound(failure.TargetCluster, "cluster-404"),
			status: http.StatusNotFound,
		},
		{
			name:   "repository unreachable",
			err:    failure.Connectivity(failure.TargetRepository, "bitnami", "repository bitnami is not responding"),
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "queue full",
			err:    deploy.ErrQueueFull,
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{deployErr: tt.err}
			s := newTestServer(t, svc, config.Config{}, fakeHealth{})
			body := tt.body
			if body == "" {
				body = `{"releaseName":"my-nginx","clusterId":"cluster-001"}`
			}

			w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy", []byte(body), "application/json")
			assert.Equal(t, tt.status, w.Code)

			var resp apiresponses.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestDeployBodyTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeService{}, config.Config{}, fakeHealth{})
	huge := `{"releaseName":"` + strings.Repeat("a", MaxBodyBytes+1) + `"}`

	w := do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy", []byte(huge), "application/json")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestChartRoutes(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodGet, "/api/charts/bitnami", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"repositoryName":"bitnami"`)

	w = do(t, s, http.MethodGet, "/api/charts/jetstack", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/charts/bitnami/nginx", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	for path, kind := range map[string]helm.ShowKind{
		"/api/charts/bitnami/nginx/values?version=14.2.1": helm.ShowValues,
		"/api/charts/bitnami/nginx/readme":                helm.ShowReadme,
		"/api/charts/bitnami/nginx/metadata":              helm.ShowChart,
	} {
		svc.shown = nil
		w = do(t, s, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, []helm.ShowKind{kind}, svc.shown, path)
	}
}

func TestReleaseRoutes(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodGet, "/api/releases/cluster-001?namespace=default", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list chart.ReleaseList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "default", list.Namespace)
	require.Len(t, list.Releases, 1)

	w = do(t, s, http.MethodGet, "/api/releases/cluster-001/my-nginx/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"deployed"`)

	w = do(t, s, http.MethodGet, "/api/releases/cluster-001/my-nginx/resources", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"Deployment"`)

	svc.statusErr = failure.NotFound(failure.TargetRelease, "ghost")
	w = do(t, s, http.MethodGet, "/api/releases/cluster-001/ghost/status", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeploymentHealth(t *testing.T) {
	s := newTestServer(t, &fakeService{}, config.Config{}, fakeHealth{h: deploy.Health{Healthy: true, Running: true, Workers: 5}})
	w := do(t, s, http.MethodGet, "/api/deployments/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"workers":5`)

	s = newTestServer(t, &fakeService{}, config.Config{}, fakeHealth{h: deploy.Health{Healthy: false}})
	w = do(t, s, http.MethodGet, "/api/deployments/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInfrastructureRoutes(t *testing.T) {
	s := newTestServer(t, &fakeService{}, config.Config{}, fakeHealth{})

	w := do(t, s, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chartdeploy_deployment_queue_depth")

	w = do(t, s, http.MethodGet, "/api/nothing/here", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAPIRateLimiting(t *testing.T) {
	disabled := false
	cfg := config.Config{RateLimit: config.RateLimit{Rate: 0.001, Burst: 2}}
	s := newTestServer(t, &fakeService{}, cfg, fakeHealth{})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s, http.MethodGet, "/api/charts/bitnami", nil, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[2])

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil, "").Code, "infrastructure routes are not limited")

	cfg.RateLimit.Enabled = &disabled
	s = newTestServer(t, &fakeService{}, cfg, fakeHealth{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/charts/bitnami", nil, "").Code)
	}
}

func TestDeployRateLimiter(t *testing.T) {
	svc := &fakeService{}
	log := zaptest.NewLogger(t)
	s := NewServer(ServerConfig{Log: log, Cfg: config.Config{}.Defaults()})
	defer s.Close()
	rl := ratelimit.New(ratelimit.Config{Rate: 0.001, Burst: 1})
	defer rl.Stop()
	require.NoError(t, s.RegisterAll([]APIController{NewChartController(svc, DeployDefaults{}, rl, log.Sugar())}))

	body := []byte(`{"releaseName":"my-nginx","clusterId":"cluster-001"}`)
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy", body, "application/json").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/api/charts/bitnami/nginx/deploy", body, "application/json").Code)
	assert.Equal(t, model.DefaultDeployTimeout, svc.deployed[0].Timeout)
}

func TestServerShutdown(t *testing.T) {
	s := NewServer(ServerConfig{Cfg: config.Config{Server: config.Server{ListenAddress: "127.0.0.1:0"}}.Defaults()})
	done := make(chan error, 1)
	go func() { done <- s.Listen() }()

	// Shutdown before or after ListenAndServe started both end Listen with nil
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after Shutdown")
	}
	assert.NotPanics(t, s.Close)
}
