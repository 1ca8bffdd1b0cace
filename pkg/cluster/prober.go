// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// ClientsetFunc returns a typed client for a cluster credential.
type ClientsetFunc func(cred model.ClusterCredential) (kubernetes.Interface, error)

// NewClientsetFunc builds typed clients from the same kubeconfig a descriptor
// would contain. timeout bounds every request made through the client.
func NewClientsetFunc(builder *kubeconfig.Builder, timeout time.Duration) ClientsetFunc {
	return func(cred model.ClusterCredential) (kubernetes.Interface, error) {
		rc, err := builder.RESTConfig(cred)
		if err != nil {
			return nil, err
		}
		rc.Timeout = timeout
		cs, err := kubernetes.NewForConfig(rc)
		if err != nil {
			return nil, failure.Configuration("create client for cluster %s", cred.ID).
				Wrap(err).WithTarget(failure.TargetCluster, cred.ID)
		}
		return cs, nil
	}
}

// ProberConfig configures reachability probing.
type ProberConfig struct {
	Enabled bool
	// Timeout bounds one probe including retries. Default 10s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Default 2.
	MaxRetries int
	// InitialInterval is the first backoff delay. Default 500ms.
	InitialInterval time.Duration
	Breaker         BreakerConfig
}

// Prober verifies that a cluster's API server answers.
type Prober struct {
	cfg      ProberConfig
	clients  ClientsetFunc
	breakers *BreakerRegistry
	log      *zap.SugaredLogger
}

func NewProber(cfg ProberConfig, clients ClientsetFunc, clk clock.PassiveClock, log *zap.SugaredLogger) *Prober {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	log = log.Named("cluster-probe")
	return &Prober{
		cfg:      cfg,
		clients:  clients,
		breakers: NewBreakerRegistry(cfg.Breaker, clk, log),
		log:      log,
	}
}

// Enabled reports whether Probe does anything. A nil Prober is disabled.
func (p *Prober) Enabled() bool {
	return p != nil && p.cfg.Enabled
}

// Breakers exposes the per-cluster circuit breakers.
func (p *Prober) Breakers() *BreakerRegistry {
	return p.breakers
}

// Probe fetches the server version of cred's cluster. It returns a
// Connectivity failure targeting the cluster when the circuit is open or the
// API server does not answer, and nil without contacting anything when
// probing is disabled.
func (p *Prober) Probe(ctx context.Context, cred model.ClusterCredential) (*version.Info, error) {
	if !p.Enabled() {
		return nil, nil
	}

	cs, err := p.clients(cred)
	if err != nil {
		return nil, err
	}

	cb := p.breakers.Get(cred.ID)
	if err := cb.Allow(); err != nil {
		p.log.Debugw("Probe rejected by open circuit", "cluster", cred.ID)
		return nil, failure.Connectivity(failure.TargetCluster, cred.ID,
			"cluster %s is temporarily unavailable", cred.ID).Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = p.cfg.InitialInterval
	retry.MaxInterval = p.cfg.Timeout
	retry.MaxElapsedTime = p.cfg.Timeout

	var info *version.Info
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		v, err := cs.Discovery().ServerVersion()
		if err != nil {
			if !IsTransientError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		info = v
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(retry, uint64(p.cfg.MaxRetries)), ctx))

	if err != nil {
		cb.RecordFailure(err)
		metrics.ClusterProbeFailures.WithLabelValues(cred.ID).Inc()
		p.log.Warnw("Cluster is not reachable", "cluster", cred.ID, "attempts", attempts, "error", err)
		return nil, failure.Connectivity(failure.TargetCluster, cred.ID, "cluster %s is unreachable", cred.ID).Wrap(err)
	}

	cb.RecordSuccess()
	p.log.Debugw("Cluster is reachable", "cluster", cred.ID, "gitVersion", info.GitVersion, "attempts", attempts)
	return info, nil
}
