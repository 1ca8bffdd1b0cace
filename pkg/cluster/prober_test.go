// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

func testProberConfig() ProberConfig {
	return ProberConfig{
		Enabled:         true,
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		Breaker:         BreakerConfig{FailureThreshold: 2, OpenDuration: time.Hour},
	}
}

func staticClients(cs kubernetes.Interface) ClientsetFunc {
	return func(model.ClusterCredential) (kubernetes.Interface, error) { return cs, nil }
}

// failVersion makes the fake discovery fail the first n version calls with err
// and returns a pointer to the call counter.
func failVersion(cs *fake.Clientset, n int, err error) *int {
	calls := 0
	cs.PrependReactor("get", "version", func(k8stesting.Action) (bool, runtime.Object, error) {
		calls++
		if calls <= n {
			return true, nil, err
		}
		return false, nil, nil
	})
	return &calls
}

func TestProbeReachable(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.31.2"}

	p := NewProber(testProberConfig(), staticClients(cs), nil, zaptest.NewLogger(t).Sugar())
	info, err := p.Probe(context.Background(), model.ClusterCredential{ID: "probe-ok"})
	require.NoError(t, err)
	assert.Equal(t, "v1.31.2", info.GitVersion)
}

func TestProbeRetriesTransientFailures(t *testing.T) {
	cs := fake.NewSimpleClientset()
	calls := failVersion(cs, 2, errRefused)

	p := NewProber(testProberConfig(), staticClients(cs), nil, zaptest.NewLogger(t).Sugar())
	_, err := p.Probe(context.Background(), model.ClusterCredential{ID: "probe-retry"})
	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, CircuitClosed, p.Breakers().Get("probe-retry").State())
}

func TestProbeUnreachable(t *testing.T) {
	cs := fake.NewSimpleClientset()
	calls := failVersion(cs, 100, errRefused)

	p := NewProber(testProberConfig(), staticClients(cs), nil, zaptest.NewLogger(t).Sugar())
	_, err := p.Probe(context.Background(), model.ClusterCredential{ID: "probe-down"})
	require.Error(t, err)

	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindConnectivity, fe.Kind)
	assert.Equal(t, failure.TargetCluster, fe.Target)
	assert.Equal(t, "probe-down", fe.Name)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, *calls, "first attempt plus MaxRetries")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ClusterProbeFailures.WithLabelValues("probe-down")))
}

func TestProbeDoesNotRetryPermanentFailures(t *testing.T) {
	cs := fake.NewSimpleClientset()
	calls := failVersion(cs, 100, errors.New("x509: certificate signed by unknown authority"))

	p := NewProber(testProberConfig(), staticClients(cs), nil, zaptest.NewLogger(t).Sugar())
	_, err := p.Probe(context.Background(), model.ClusterCredential{ID: "probe-x509"})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindConnectivity))
	assert.Equal(t, 1, *calls)
	assert.Equal(t, CircuitClosed, p.Breakers().Get("probe-x509").State())
}

func TestProbeCircuitOpensAndRejectsFast(t *testing.T) {
	cs := fake.NewSimpleClientset()
	calls := failVersion(cs, 1000, errRefused)

	p := NewProber(testProberConfig(), staticClients(cs), nil, zaptest.NewLogger(t).Sugar())
	cred := model.ClusterCredential{ID: "probe-circuit"}
	for i := 0; i < 2; i++ {
		_, err := p.Probe(context.Background(), cred)
		require.Error(t, err)
	}
	require.Equal(t, CircuitOpen, p.Breakers().Get(cred.ID).State())

	before := *calls
	_, err := p.Probe(context.Background(), cred)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, failure.IsKind(err, failure.KindConnectivity))
	assert.Equal(t, before, *calls, "open circuit must not contact the cluster")
}

func TestProbeDisabled(t *testing.T) {
	cfg := testProberConfig()
	cfg.Enabled = false
	p := NewProber(cfg, func(model.ClusterCredential) (kubernetes.Interface, error) {
		t.Fatal("disabled prober must not build clients")
		return nil, nil
	}, nil, nil)

	info, err := p.Probe(context.Background(), model.ClusterCredential{ID: "c"})
	assert.NoError(t, err)
	assert.Nil(t, info)

	var nilProber *Prober
	assert.False(t, nilProber.Enabled())
}

func TestProbeClientError(t *testing.T) {
	p := NewProber(testProberConfig(), NewClientsetFunc(kubeconfig.NewBuilder(t.TempDir(), nil), time.Second), nil, nil)
	_, err := p.Probe(context.Background(), model.ClusterCredential{ID: "no-server"})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindConfiguration))
}
