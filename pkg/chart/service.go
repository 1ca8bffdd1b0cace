// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/events"
	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/inventory"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/process"
	"github.com/telekom/k8s-chartdeploy/pkg/registry"
	"github.com/telekom/k8s-chartdeploy/pkg/validation"
)

// Validator is the synchronous pre-flight gate.
type Validator interface {
	Validate(ctx context.Context, req model.DeploymentRequest, cred model.ClusterCredential, repo model.Repository) error
}

// Submitter accepts validated installs for background execution.
type Submitter interface {
	Submit(req model.DeploymentRequest, cred model.ClusterCredential, repo model.Repository) (string, error)
}

// Scanner lists the objects a release created.
type Scanner interface {
	Scan(ctx context.Context, cred model.ClusterCredential, release, namespace string) ([]inventory.Ref, error)
}

// Components are the collaborators of a Service. Prober, Index,
// Inventory and Events are optional.
type Components struct {
	Clusters     registry.Clusters
	Repositories registry.Repositories
	Validator    Validator
	Orchestrator Submitter
	Commands     *helm.CommandBuilder
	Descriptors  kubeconfig.Factory
	Runner       process.Executor
	Prober       validation.ClusterProber
	Index        *IndexClient
	Inventory    Scanner
	Events       *events.Recorder
}

type Config struct {
	// CommandTimeout bounds status, list and show commands.
	CommandTimeout time.Duration
}

// ReleaseStatus is the answer to a status query. Status is re-derived from
// the cluster on every call.
type ReleaseStatus struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReleaseName string `json:"releaseName"`
	Namespace   string `json:"namespace"`
	ClusterID   string `json:"clusterId"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
}

type ReleaseList struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ClusterID string          `json:"clusterId"`
	Namespace string          `json:"namespace,omitempty"`
	Releases  []model.Release `json:"releases"`
}

// ChartContent is the output of `helm show`.
type ChartContent struct {
	Repository string        `json:"repositoryName"`
	Chart      string        `json:"chartName"`
	Version    string        `json:"version,omitempty"`
	Kind       helm.ShowKind `json:"kind"`
	Content    string        `json:"content"`
}

type ReleaseResources struct {
	ReleaseName string          `json:"releaseName"`
	Namespace   string          `json:"namespace,omitempty"`
	ClusterID   string          `json:"clusterId"`
	Resources   []inventory.Ref `json:"resources"`
}

type Service struct {
	cfg Config
	c   Components
	log *zap.SugaredLogger
}

func NewService(cfg Config, c Components, log *zap.SugaredLogger) (*Service, error) {
	switch {
	case c.Clusters == nil:
		return nil, errors.New("chart service requires a cluster registry")
	case c.Repositories == nil:
		return nil, errors.New("chart service requires a repository registry")
	case c.Validator == nil:
		return nil, errors.New("chart service requires a validator")
	case c.Orchestrator == nil:
		return nil, errors.New("chart service requires an orchestrator")
	case c.Commands == nil || c.Descriptors == nil || c.Runner == nil:
		return nil, errors.New("chart service requires a command builder, descriptor factory and runner")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = process.DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg, c: c, log: log.Named("chart")}, nil
}

// DeployChart validates req synchronously and queues the install. A nil
// error means the request was accepted, not that the install succeeded.
func (s *Service) DeployChart(ctx context.Context, req model.DeploymentRequest) (model.DeploymentOutcome, error) {
	log := s.log.With("release", req.ReleaseName, "namespace", req.Namespace, "cluster", req.ClusterID,
		"repository", req.Repository, "chart", req.Chart)
	log.Infow("Deployment task state changed", "state", deploy.StateReceived)

	reject := func(err error) (model.DeploymentOutcome, error) {
		metrics.DeploymentsRejected.WithLabelValues(req.ClusterID, "validation").Inc()
		log.Infow("Deployment task state changed", "state", deploy.StateRejected, "error", err)
		e := events.ForRequest(events.TypeRejected, "", req)
		e.Reason = "validation"
		if kind := failure.KindOf(err); kind != "" {
			e.Reason = string(kind)
		}
		e.Message = err.Error()
		s.c.Events.Emit(e)
		return model.DeploymentOutcome{}, err
	}

	// field checks come first so a malformed request never reaches a registry or a subprocess
	if err := validation.ValidateRequest(req); err != nil {
		return reject(err)
	}
	repo, err := s.c.Repositories.Repository(ctx, req.Repository)
	if err != nil {
		return reject(err)
	}
	cred, err := s.c.Clusters.Cluster(ctx, req.ClusterID)
	if err != nil {
		return reject(err)
	}

	log.Infow("Deployment task state changed", "state", deploy.StateValidating)
	if err := s.c.Validator.Validate(ctx, req, cred, repo); err != nil {
		return reject(err)
	}
	log.Infow("Deployment task state changed", "state", deploy.StateValidated)

	taskID, err := s.c.Orchestrator.Submit(req, cred, repo)
	if err != nil {
		return model.DeploymentOutcome{}, err
	}

	return model.DeploymentOutcome{
		Success: true,
		Message: fmt.Sprintf("Deployment request submitted for release %s on cluster %s. The installation runs in the background; query the release status to follow it.",
			req.ReleaseName, req.ClusterID),
		ReleaseName: req.ReleaseName,
		Namespace:   namespaceOrDefault(req.Namespace),
		ClusterID:   req.ClusterID,
		Version:     req.Version,
		TaskID:      taskID,
	}, nil
}

// withDescriptor resolves the cluster, probes it and runs fn with a fresh
// kubeconfig that is removed when fn returns.
func (s *Service) withDescriptor(ctx context.Context, clusterID string, fn func(path string) error) error {
	if strings.TrimSpace(clusterID) == "" {
		return failure.Validation(failure.ReasonRequired, "clusterId", "", "clusterId is required")
	}
	cred, err := s.c.Clusters.Cluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if s.c.Prober != nil {
		if _, err := s.c.Prober.Probe(ctx, cred); err != nil {
			return err
		}
	}
	desc, err := s.c.Descriptors.Build(cred)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.c.Descriptors.Remove(desc); err != nil {
			s.log.Warnw("Failed to remove kubeconfig", "cluster", clusterID, "path", desc.Path, "error", err)
		}
	}()
	return fn(desc.Path)
}

// GetChartStatus runs `helm status` and parses the release status.
func (s *Service) GetChartStatus(ctx context.Context, release, clusterID, namespace string) (ReleaseStatus, error) {
	namespace = namespaceOrDefault(namespace)
	log := s.log.With("release", release, "cluster", clusterID, "namespace", namespace)
	log.Infow("Getting release status")

	var out string
	err := s.withDescriptor(ctx, clusterID, func(path string) error {
		var runErr error
		out, runErr = s.c.Runner.Run(ctx, s.c.Commands.Status(release, namespace, path).Command(s.cfg.CommandTimeout))
		return runErr
	})
	if err != nil {
		if strings.Contains(out, "release: not found") {
			return ReleaseStatus{}, failure.NotFound(failure.TargetRelease, release).Wrap(err)
		}
		log.Warnw("Failed to get release status", "error", err)
		return ReleaseStatus{}, err
	}

	return ReleaseStatus{
		Success:     true,
		Message:     fmt.Sprintf("Release %s status retrieved successfully", release),
		ReleaseName: release,
		Namespace:   namespace,
		ClusterID:   clusterID,
		Status:      helm.ParseStatus(out),
		Output:      out,
	}, nil
}

// GetReleases runs `helm list`. Output that cannot be parsed yields an empty
// list rather than an error.
func (s *Service) GetReleases(ctx context.Context, clusterID, namespace string) (ReleaseList, error) {
	log := s.log.With("cluster", clusterID, "namespace", namespace)

	var out string
	err := s.withDescriptor(ctx, clusterID, func(path string) error {
		var runErr error
		out, runErr = s.c.Runner.Run(ctx, s.c.Commands.List(namespace, path).Command(s.cfg.CommandTimeout))
		return runErr
	})
	if err != nil {
		log.Warnw("Failed to list releases", "error", err)
		return ReleaseList{}, err
	}

	releases, err := helm.ParseReleases(out)
	if err != nil {
		log.Warnw("Could not parse helm list output, returning no releases", "error", err)
		releases = []model.Release{}
	}
	return ReleaseList{
		Success:   true,
		Message:   fmt.Sprintf("Found %d releases", len(releases)),
		ClusterID: clusterID,
		Namespace: namespace,
		Releases:  releases,
	}, nil
}

// ShowChart runs `helm show <kind>`. No cluster is involved.
func (s *Service) ShowChart(ctx context.Context, repository, chart, version string, kind helm.ShowKind) (ChartContent, error) {
	repo, err := s.c.Repositories.Repository(ctx, repository)
	if err != nil {
		return ChartContent{}, err
	}
	script, err := s.c.Commands.Show(repo, chart, version, kind)
	if err != nil {
		return ChartContent{}, failure.Validation(failure.ReasonFormat, "kind", "", "%v", err)
	}

	out, err := s.c.Runner.Run(ctx, script.Command(s.cfg.CommandTimeout))
	if err != nil {
		if strings.Contains(out, "not found") {
			return ChartContent{}, failure.NotFound(failure.TargetChart, repository+"/"+chart).Wrap(err)
		}
		s.log.Warnw("Failed to show chart", "repository", repository, "chart", chart, "kind", kind, "error", err)
		return ChartContent{}, err
	}
	return ChartContent{Repository: repository, Chart: chart, Version: version, Kind: kind, Content: out}, nil
}

func (s *Service) ListCharts(ctx context.Context, repository string) (ChartList, error) {
	if s.c.Index == nil {
		return ChartList{}, failure.Configuration("chart index client is not configured")
	}
	repo, err := s.c.Repositories.Repository(ctx, repository)
	if err != nil {
		return ChartList{}, err
	}
	return s.c.Index.ListCharts(ctx, repo)
}

func (s *Service) ChartDetail(ctx context.Context, repository, chart string) (ChartDetail, error) {
	if s.c.Index == nil {
		return ChartDetail{}, failure.Configuration("chart index client is not configured")
	}
	repo, err := s.c.Repositories.Repository(ctx, repository)
	if err != nil {
		return ChartDetail{}, err
	}
	return s.c.Index.ChartDetail(ctx, repo, chart)
}

// Resources lists the objects labelled with the release's instance label.
func (s *Service) Resources(ctx context.Context, release, clusterID, namespace string) (ReleaseResources, error) {
	if s.c.Inventory == nil {
		return ReleaseResources{}, failure.Configuration("release inventory is not configured")
	}
	cred, err := s.c.Clusters.Cluster(ctx, clusterID)
	if err != nil {
		return ReleaseResources{}, err
	}
	if s.c.Prober != nil {
		if _, err := s.c.Prober.Probe(ctx, cred); err != nil {
			return ReleaseResources{}, err
		}
	}
	refs, err := s.c.Inventory.Scan(ctx, cred, release, namespace)
	if err != nil {
		return ReleaseResources{}, err
	}
	return ReleaseResources{ReleaseName: release, Namespace: namespace, ClusterID: clusterID, Resources: refs}, nil
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return model.DefaultNamespace
	}
	return ns
}
