package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/apiresponses"
	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/ratelimit"
	"github.com/telekom/k8s-chartdeploy/pkg/system"
)

// ChartService is the part of chart.Service the HTTP layer calls.
type ChartService interface {
	DeployChart(ctx context.Context, req model.DeploymentRequest) (model.DeploymentOutcome, error)
	GetChartStatus(ctx context.Context, release, clusterID, namespace string) (chart.ReleaseStatus, error)
	GetReleases(ctx context.Context, clusterID, namespace string) (chart.ReleaseList, error)
	ShowChart(ctx context.Context, repository, chartName, version string, kind helm.ShowKind) (chart.ChartContent, error)
	ListCharts(ctx context.Context, repository string) (chart.ChartList, error)
	ChartDetail(ctx context.Context, repository, chartName string) (chart.ChartDetail, error)
	Resources(ctx context.Context, release, clusterID, namespace string) (chart.ReleaseResources, error)
}

// DeployDefaults fill the fields a deploy request leaves unset.
type DeployDefaults struct {
	Wait    bool
	Timeout time.Duration
}

// DeployRequest is the body of POST /api/charts/:repository/:chart/deploy,
// sent either as JSON or as multipart form data with a valuesFile part.
// Timeout is in seconds.
type DeployRequest struct {
	ReleaseName string         `json:"releaseName" form:"releaseName"`
	ClusterID   string         `json:"clusterId" form:"clusterId"`
	Namespace   string         `json:"namespace" form:"namespace"`
	Version     string         `json:"version" form:"version"`
	Values      map[string]any `json:"values" form:"-"`
	Wait        *bool          `json:"wait" form:"wait"`
	Timeout     *int           `json:"timeout" form:"timeout"`
}

// ChartController serves chart introspection and deployment.
type ChartController struct {
	svc      ChartService
	defaults DeployDefaults
	deployRL *ratelimit.IPRateLimiter
	log      *zap.SugaredLogger
}

// NewChartController wires the controller. deployLimiter may be nil.
func NewChartController(svc ChartService, defaults DeployDefaults, deployLimiter *ratelimit.IPRateLimiter, log *zap.SugaredLogger) *ChartController {
	if defaults.Timeout <= 0 {
		defaults.Timeout = model.DefaultDeployTimeout
	}
	return &ChartController{svc: svc, defaults: defaults, deployRL: deployLimiter, log: log.Named("charts")}
}

func (cc *ChartController) BasePath() string { return "charts" }

func (cc *ChartController) Handlers() []gin.HandlerFunc { return nil }

func (cc *ChartController) Register(rg *gin.RouterGroup) error {
	rg.GET("/:repository", cc.handleListCharts)
	rg.GET("/:repository/:chart", cc.handleChartDetail)
	rg.GET("/:repository/:chart/values", cc.handleShow(helm.ShowValues))
	rg.GET("/:repository/:chart/readme", cc.handleShow(helm.ShowReadme))
	rg.GET("/:repository/:chart/metadata", cc.handleShow(helm.ShowChart))

	deployHandlers := []gin.HandlerFunc{}
	if cc.deployRL != nil {
		deployHandlers = append(deployHandlers, cc.deployRL.Middleware())
	}
	rg.POST("/:repository/:chart/deploy", append(deployHandlers, cc.handleDeploy)...)
	return nil
}

func (cc *ChartController) reqLog(c *gin.Context) *zap.SugaredLogger {
	return system.EnrichReqLoggerWithParams(c, system.GetReqLogger(c, cc.log))
}

func (cc *ChartController) handleListCharts(c *gin.Context) {
	list, err := cc.svc.ListCharts(c.Request.Context(), c.Param("repository"))
	if err != nil {
		apiresponses.RespondError(c, "list charts", err, cc.reqLog(c))
		return
	}
	apiresponses.RespondOK(c, list)
}

func (cc *ChartController) handleChartDetail(c *gin.Context) {
	detail, err := cc.svc.ChartDetail(c.Request.Context(), c.Param("repository"), c.Param("chart"))
	if err != nil {
		apiresponses.RespondError(c, "get chart detail", err, cc.reqLog(c))
		return
	}
	apiresponses.RespondOK(c, detail)
}

func (cc *ChartController) handleShow(kind helm.ShowKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := cc.svc.ShowChart(c.Request.Context(), c.Param("repository"), c.Param("chart"), c.Query("version"), kind)
		if err != nil {
			apiresponses.RespondError(c, fmt.Sprintf("show chart %s", kind), err, cc.reqLog(c))
			return
		}
		apiresponses.RespondOK(c, content)
	}
}

func (cc *ChartController) handleDeploy(c *gin.Context) {
	log := cc.reqLog(c)

	req, err := cc.bindDeploy(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, apiresponses.APIError{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Code:  "PAYLOAD_TOO_LARGE",
			})
			return
		}
		log.Infow("Malformed deploy request", "error", err)
		apiresponses.RespondBadRequest(c, "malformed deploy request: "+err.Error())
		return
	}

	outcome, err := cc.svc.DeployChart(c.Request.Context(), req)
	if err != nil {
		apiresponses.RespondError(c, "deploy chart", err, log)
		return
	}
	log.Infow("Deployment request accepted", append(system.ReleaseFields(req.ReleaseName, req.Namespace, req.ClusterID), "task", outcome.TaskID)...)
	apiresponses.RespondAccepted(c, outcome)
}

// bindDeploy decodes the body and applies the wait and timeout defaults.
func (cc *ChartController) bindDeploy(c *gin.Context) (model.DeploymentRequest, error) {
	var body DeployRequest
	var valuesFile []byte

	if strings.HasPrefix(c.ContentType(), binding.MIMEMultipartPOSTForm) {
		if err := c.ShouldBindWith(&body, binding.FormMultipart); err != nil {
			return model.DeploymentRequest{}, err
		}
		if fh, err := c.FormFile("valuesFile"); err == nil {
			f, err := fh.Open()
			if err != nil {
				return model.DeploymentRequest{}, fmt.Errorf("open valuesFile: %w", err)
			}
			defer func() { _ = f.Close() }()
			if valuesFile, err = io.ReadAll(f); err != nil {
				return model.DeploymentRequest{}, fmt.Errorf("read valuesFile: %w", err)
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			return model.DeploymentRequest{}, err
		}
	} else if err := c.ShouldBindJSON(&body); err != nil {
		return model.DeploymentRequest{}, err
	}

	req := model.DeploymentRequest{
		Repository:  c.Param("repository"),
		Chart:       c.Param("chart"),
		ReleaseName: strings.TrimSpace(body.ReleaseName),
		ClusterID:   strings.TrimSpace(body.ClusterID),
		Namespace:   strings.TrimSpace(body.Namespace),
		Version:     strings.TrimSpace(body.Version),
		Values:      body.Values,
		ValuesFile:  valuesFile,
		Wait:        cc.defaults.Wait,
		Timeout:     cc.defaults.Timeout,
	}
	if body.Wait != nil {
		req.Wait = *body.Wait
	}
	if body.Timeout != nil {
		// out of range values are left for request validation to reject
		req.Timeout = timeoutSeconds(*body.Timeout)
	}
	return req, nil
}

// ReleaseController serves release queries against a cluster.
type ReleaseController struct {
	svc ChartService
	log *zap.SugaredLogger
}

func NewReleaseController(svc ChartService, log *zap.SugaredLogger) *ReleaseController {
	return &ReleaseController{svc: svc, log: log.Named("releases")}
}

func (rc *ReleaseController) BasePath() string { return "releases" }

func (rc *ReleaseController) Handlers() []gin.HandlerFunc { return nil }

func (rc *ReleaseController) Register(rg *gin.RouterGroup) error {
	rg.GET("/:clusterId", rc.handleList)
	rg.GET("/:clusterId/:release/status", rc.handleStatus)
	rg.GET("/:clusterId/:release/resources", rc.handleResources)
	return nil
}

func (rc *ReleaseController) reqLog(c *gin.Context) *zap.SugaredLogger {
	return system.EnrichReqLoggerWithParams(c, system.GetReqLogger(c, rc.log))
}

func (rc *ReleaseController) handleList(c *gin.Context) {
	list, err := rc.svc.GetReleases(c.Request.Context(), c.Param("clusterId"), c.Query("namespace"))
	if err != nil {
		apiresponses.RespondError(c, "list releases", err, rc.reqLog(c))
		return
	}
	apiresponses.RespondOK(c, list)
}

func (rc *ReleaseController) handleStatus(c *gin.Context) {
	st, err := rc.svc.GetChartStatus(c.Request.Context(), c.Param("release"), c.Param("clusterId"), c.Query("namespace"))
	if err != nil {
		apiresponses.RespondError(c, "get release status", err, rc.reqLog(c))
		return
	}
	apiresponses.RespondOK(c, st)
}

func (rc *ReleaseController) handleResources(c *gin.Context) {
	res, err := rc.svc.Resources(c.Request.Context(), c.Param("release"), c.Param("clusterId"), c.Query("namespace"))
	if err != nil {
		apiresponses.RespondError(c, "list release resources", err, rc.reqLog(c))
		return
	}
	apiresponses.RespondOK(c, res)
}

// HealthReporter is implemented by deploy.Orchestrator.
type HealthReporter interface {
	Health() deploy.Health
}

// DeploymentController exposes the worker pool state.
type DeploymentController struct {
	health HealthReporter
}

func NewDeploymentController(h HealthReporter) *DeploymentController {
	return &DeploymentController{health: h}
}

func (dc *DeploymentController) BasePath() string { return "deployments" }

func (dc *DeploymentController) Handlers() []gin.HandlerFunc { return nil }

func (dc *DeploymentController) Register(rg *gin.RouterGroup) error {
	rg.GET("/health", dc.handleHealth)
	return nil
}

func (dc *DeploymentController) handleHealth(c *gin.Context) {
	h := dc.health.Health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

// timeoutSeconds converts seconds to a Duration, saturating instead of
// wrapping around for values beyond the int64 nanosecond range.
func timeoutSeconds(secs int) time.Duration {
	const limit = int64(math.MaxInt64 / int64(time.Second))
	switch {
	case int64(secs) > limit:
		return time.Duration(math.MaxInt64)
	case int64(secs) < -limit:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(secs) * time.Second
}
