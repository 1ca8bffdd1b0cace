// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/version"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/naming"
	"github.com/telekom/k8s-chartdeploy/pkg/process"
)

// Stage names, also used as the metric label.
const (
	StageRequest    = "request"
	StageCluster    = "cluster"
	StageRepository = "repository"
	StageCollision  = "collision"
)

const (
	// MaxReleaseNameLength is the longest release name helm accepts.
	MaxReleaseNameLength = 53
	// MaxNamespaceLength is the DNS-1123 label limit.
	MaxNamespaceLength = 63

	DefaultRepositoryProbeTimeout = 20 * time.Second
	DefaultCollisionProbeTimeout  = 30 * time.Second
)

// ClusterProber checks that a cluster's API server answers.
type ClusterProber interface {
	Probe(ctx context.Context, cred model.ClusterCredential) (*version.Info, error)
}

// Config tunes the network-bound stages.
type Config struct {
	RepositoryProbeTimeout time.Duration
	CollisionProbeTimeout  time.Duration
	// CollisionProbeFailOpen lets a deployment proceed when the collision
	// probe itself fails or times out.
	CollisionProbeFailOpen bool
}

// Validator runs the stages in order and stops at the first failure.
type Validator struct {
	cfg         Config
	commands    *helm.CommandBuilder
	descriptors kubeconfig.Factory
	runner      process.Executor
	prober      ClusterProber
	log         *zap.SugaredLogger
}

// NewValidator wires the gate. prober may be nil to skip reachability probing.
func NewValidator(cfg Config, commands *helm.CommandBuilder, descriptors kubeconfig.Factory,
	runner process.Executor, prober ClusterProber, log *zap.SugaredLogger) *Validator {
	if cfg.RepositoryProbeTimeout <= 0 {
		cfg.RepositoryProbeTimeout = DefaultRepositoryProbeTimeout
	}
	if cfg.CollisionProbeTimeout <= 0 {
		cfg.CollisionProbeTimeout = DefaultCollisionProbeTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Validator{
		cfg:         cfg,
		commands:    commands,
		descriptors: descriptors,
		runner:      runner,
		prober:      prober,
		log:         log.Named("validation"),
	}
}

// Validate runs every stage for req against cred and repo.
func (v *Validator) Validate(ctx context.Context, req model.DeploymentRequest, cred model.ClusterCredential, repo model.Repository) error {
	log := v.log.With("release", req.ReleaseName, "namespace", req.Namespace, "cluster", req.ClusterID,
		"repository", req.Repository, "chart", req.Chart)
	log.Infow("Validating deployment request")

	if err := ValidateRequest(req); err != nil {
		return v.fail(log, StageRequest, err)
	}
	if err := CheckCluster(cred); err != nil {
		return v.fail(log, StageCluster, err)
	}
	if v.prober != nil {
		if _, err := v.prober.Probe(ctx, cred); err != nil {
			return v.fail(log, StageCluster, err)
		}
	}
	if err := v.ProbeRepository(ctx, repo); err != nil {
		return v.fail(log, StageRepository, err)
	}
	if err := v.ProbeCollision(ctx, req, cred); err != nil {
		return v.fail(log, StageCollision, err)
	}

	log.Infow("Deployment request passed validation")
	return nil
}

func (v *Validator) fail(log *zap.SugaredLogger, stage string, err error) error {
	metrics.ValidationFailures.WithLabelValues(stage).Inc()
	log.Warnw("Deployment request rejected", "stage", stage, "error", err)
	return err
}

// ValidateRequest checks required fields and naming rules. It performs no I/O.
func ValidateRequest(req model.DeploymentRequest) error {
	required := []struct{ field, value string }{
		{"repository", req.Repository},
		{"chart", req.Chart},
		{"releaseName", req.ReleaseName},
		{"clusterId", req.ClusterID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return failure.Validation(failure.ReasonRequired, r.field, "", "%s is required", r.field)
		}
	}

	if !naming.IsLabel(req.ReleaseName, MaxReleaseNameLength) {
		return failure.Validation(failure.ReasonFormat, "releaseName", naming.LabelPattern,
			"invalid release name %q: must contain only lowercase letters, numbers and hyphens, start and end with an alphanumeric character, and be at most %d characters (suggestion: %q)",
			req.ReleaseName, MaxReleaseNameLength, naming.ToRFC1123Label(req.ReleaseName))
	}
	if req.Namespace != "" {
		if len(req.Namespace) > MaxNamespaceLength {
			return failure.Validation(failure.ReasonFormat, "namespace", naming.LabelPattern,
				"namespace %q cannot exceed %d characters", req.Namespace, MaxNamespaceLength)
		}
		if !naming.IsLabel(req.Namespace, MaxNamespaceLength) {
			return failure.Validation(failure.ReasonFormat, "namespace", naming.LabelPattern,
				"invalid namespace %q: must contain only lowercase letters, numbers and hyphens, and start and end with an alphanumeric character",
				req.Namespace)
		}
	}
	if req.Version != "" {
		if _, err := semver.NewConstraint(req.Version); err != nil {
			return failure.Validation(failure.ReasonFormat, "version", "", "invalid chart version %q", req.Version).Wrap(err)
		}
	}
	if req.Timeout < 0 {
		return failure.Validation(failure.ReasonFormat, "timeout", "", "timeout must not be negative")
	}
	if req.Timeout > model.MaxDeployTimeout {
		return failure.Validation(failure.ReasonFormat, "timeout", "", "timeout must not exceed %s", model.MaxDeployTimeout)
	}
	return nil
}

// CheckCluster rejects clusters whose last known status is unset or UNKNOWN.
func CheckCluster(cred model.ClusterCredential) error {
	status := model.ClusterStatus(strings.ToUpper(strings.TrimSpace(string(cred.Status))))
	if status == "" || status == model.ClusterUnknown {
		fe := failure.Validation(failure.ReasonClusterStatus, "clusterId", "", "cluster status is unknown for cluster %s", cred.ID)
		return fe.WithTarget(failure.TargetCluster, cred.ID)
	}
	return nil
}

var (
	repoTimeoutMarkers     = []string{"context deadline exceeded", "timeout", "connection timed out"}
	repoUnreachableMarkers = []string{"connection refused", "no such host", "network unreachable", "network is unreachable"}
)

// ProbeRepository registers repo when needed and refreshes its index. Any
// network failure is reported as a Connectivity failure naming the
// repository, never the cluster.
func (v *Validator) ProbeRepository(ctx context.Context, repo model.Repository) error {
	script := v.commands.RepoProbe(repo)
	out, err := v.runner.Run(ctx, script.Command(v.cfg.RepositoryProbeTimeout))
	if err == nil {
		v.log.Debugw("Repository is reachable", "repository", repo.Name)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if failure.IsKind(err, failure.KindTimeout) {
		return failure.Connectivity(failure.TargetRepository, repo.Name,
			"repository %s is not responding within %s, check repository URL %s",
			repo.Name, v.cfg.RepositoryProbeTimeout, repo.URL).Wrap(err)
	}

	lower := strings.ToLower(out)
	if containsAny(lower, repoTimeoutMarkers) {
		return failure.Connectivity(failure.TargetRepository, repo.Name,
			"repository %s is not responding, check repository URL and network connectivity", repo.Name).Wrap(err)
	}
	if containsAny(lower, repoUnreachableMarkers) {
		return failure.Connectivity(failure.TargetRepository, repo.Name,
			"cannot reach repository %s at %s", repo.Name, repo.URL).Wrap(err)
	}

	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == failure.KindCommandExecution {
		wrapped := failure.CommandExecution(fe.Reason, fe.Output, "repository test failed for %s", repo.Name).Wrap(err)
		return wrapped.WithTarget(failure.TargetRepository, repo.Name)
	}
	return err
}

// ProbeCollision lists releases in the request's namespace, or in all
// namespaces, and rejects a name that already exists. A probe that cannot
// complete allows the deployment when fail-open is configured.
func (v *Validator) ProbeCollision(ctx context.Context, req model.DeploymentRequest, cred model.ClusterCredential) error {
	desc, err := v.descriptors.Build(cred)
	if err != nil {
		return err
	}
	defer func() { _ = v.descriptors.Remove(desc) }()

	script := v.commands.List(req.Namespace, desc.Path)
	out, err := v.runner.Run(ctx, script.Command(v.cfg.CollisionProbeTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return v.probeFailed(req, "list", err)
	}

	releases, err := helm.ParseReleases(out)
	if err != nil {
		return v.probeFailed(req, "parse", err)
	}
	if helm.ContainsRelease(releases, req.ReleaseName) {
		fe := failure.Validation(failure.ReasonNameInUse, "releaseName", "",
			"release name %q already exists, use a different release name or uninstall the existing release first", req.ReleaseName)
		return fe.WithTarget(failure.TargetRelease, req.ReleaseName)
	}
	v.log.Debugw("Release name is available", "release", req.ReleaseName, "cluster", req.ClusterID)
	return nil
}

func (v *Validator) probeFailed(req model.DeploymentRequest, step string, err error) error {
	if v.cfg.CollisionProbeFailOpen {
		metrics.CollisionProbeSkipped.WithLabelValues(req.ClusterID).Inc()
		v.log.Warnw("Release name check could not complete, allowing deployment",
			"release", req.ReleaseName, "cluster", req.ClusterID, "step", step, "error", err)
		return nil
	}
	if failure.IsKind(err, failure.KindTimeout) {
		return err
	}
	return failure.Connectivity(failure.TargetCluster, req.ClusterID,
		"cannot verify release name %q on cluster %s", req.ReleaseName, req.ClusterID).Wrap(err)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
