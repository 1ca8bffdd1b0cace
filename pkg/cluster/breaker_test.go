// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenDuration:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func newTestRegistry(t *testing.T) (*BreakerRegistry, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewBreakerRegistry(testBreakerConfig(), clk, zaptest.NewLogger(t).Sugar()), clk
}

var errRefused = fmt.Errorf("dial tcp 10.0.0.1:6443: connect: connection refused")

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cb := reg.Get("breaker-open")

	require.NoError(t, cb.Allow())
	cb.RecordFailure(errRefused)
	cb.RecordFailure(errRefused)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure(errRefused)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, errRefused, cb.LastError())

	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ClusterCircuitBreakerRejections.WithLabelValues("breaker-open")))
	assert.Equal(t, float64(CircuitOpen), testutil.ToFloat64(metrics.ClusterCircuitBreakerState.WithLabelValues("breaker-open")))
}

func TestBreakerIgnoresNonTransientErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cb := reg.Get("breaker-x509")

	for i := 0; i < 10; i++ {
		cb.RecordFailure(errors.New("x509: certificate signed by unknown authority"))
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Nil(t, cb.LastError())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cb := reg.Get("breaker-reset")

	cb.RecordFailure(errRefused)
	cb.RecordFailure(errRefused)
	cb.RecordSuccess()
	cb.RecordFailure(errRefused)
	cb.RecordFailure(errRefused)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	reg, clk := newTestRegistry(t)
	cb := reg.Get("breaker-recover")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRefused)
	}
	require.Equal(t, CircuitOpen, cb.State())

	clk.Step(29 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	clk.Step(time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one trial probe at a time")

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	reg, clk := newTestRegistry(t)
	cb := reg.Get("breaker-reopen")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRefused)
	}
	clk.Step(30 * time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordFailure(errRefused)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestBreakerRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a := reg.Get("registry-a")
	assert.Same(t, a, reg.Get("registry-a"))
	assert.NotSame(t, a, reg.Get("registry-b"))

	for i := 0; i < 3; i++ {
		a.RecordFailure(errRefused)
	}
	states := reg.States()
	assert.Equal(t, CircuitOpen, states["registry-a"])
	assert.Equal(t, CircuitClosed, states["registry-b"])

	reg.Remove("registry-a")
	assert.NotSame(t, a, reg.Get("registry-a"))
	assert.Equal(t, CircuitClosed, reg.Get("registry-a").State())
}

func TestBreakerRegistryCapacity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for i := 0; i < maxBreakers; i++ {
		reg.breakers[fmt.Sprintf("c-%d", i)] = &Breaker{name: fmt.Sprintf("c-%d", i)}
	}

	overflow := reg.Get("one-too-many")
	for i := 0; i < 10; i++ {
		overflow.RecordFailure(errRefused)
	}
	assert.NoError(t, overflow.Allow())
	assert.Len(t, reg.breakers, maxBreakers)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("get version: %w", context.DeadlineExceeded), true},
		{"connection refused text", errRefused, true},
		{"op error with refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"op error dns", &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "nope"}}, false},
		{"url error wrapping eof", &url.Error{Op: "Get", URL: "https://api", Err: io.EOF}, true},
		{"x509", errors.New("x509: certificate signed by unknown authority"), false},
		{"unauthorized", errors.New("Unauthorized"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
