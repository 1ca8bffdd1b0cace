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
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
)

// CircuitState is the state of one cluster's circuit breaker.
type CircuitState int32

const (
	// CircuitClosed lets probes through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects probes until the open duration elapses.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of trial probes.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while a cluster's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: cluster unavailable")

// BreakerConfig configures per-cluster circuit breaking.
type BreakerConfig struct {
	// FailureThreshold consecutive transient failures open the circuit. Default 3.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again. Default 2.
	SuccessThreshold int
	// OpenDuration is how long the circuit rejects before admitting a trial probe. Default 30s.
	OpenDuration time.Duration
	// HalfOpenMaxRequests bounds concurrent trial probes. Default 1.
	HalfOpenMaxRequests int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenDuration:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// Breaker tracks reachability of a single cluster.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock clock.PassiveClock
	log   *zap.SugaredLogger

	// untracked breakers never leave the closed state and export no metrics.
	untracked bool

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	consecutiveSuccs int
	halfOpenInFlight int
	lastStateChange  time.Time
	lastError        error
}

func newBreaker(name string, cfg BreakerConfig, clk clock.PassiveClock, log *zap.SugaredLogger) *Breaker {
	b := &Breaker{
		name:            name,
		cfg:             cfg.withDefaults(),
		clock:           clk,
		log:             log.With("cluster", name, "component", "circuit-breaker"),
		state:           CircuitClosed,
		lastStateChange: clk.Now(),
	}
	metrics.ClusterCircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))
	return b
}

// Allow returns nil when a probe may proceed and ErrCircuitOpen otherwise.
// An open circuit whose open duration has elapsed moves to half-open and
// admits the caller as a trial probe.
func (b *Breaker) Allow() error {
	if b.untracked {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.clock.Since(b.lastStateChange) >= b.cfg.OpenDuration {
			b.transitionLocked(CircuitHalfOpen)
			b.halfOpenInFlight++
			return nil
		}
		metrics.ClusterCircuitBreakerRejections.WithLabelValues(b.name).Inc()
		return fmt.Errorf("%w: cluster %s temporarily unavailable", ErrCircuitOpen, b.name)
	case CircuitHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxRequests {
			b.halfOpenInFlight++
			return nil
		}
		metrics.ClusterCircuitBreakerRejections.WithLabelValues(b.name).Inc()
		return fmt.Errorf("%w: cluster %s (half-open, max probe requests reached)", ErrCircuitOpen, b.name)
	default:
		return nil
	}
}

// RecordSuccess records a successful probe.
func (b *Breaker) RecordSuccess() {
	if b.untracked {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.consecutiveSuccs++
	if b.state == CircuitHalfOpen {
		b.halfOpenInFlight--
		if b.consecutiveSuccs >= b.cfg.SuccessThreshold {
			b.transitionLocked(CircuitClosed)
		}
	}
}

// RecordFailure records a failed probe. Only transient errors count; a TLS
// or authentication problem means the cluster answered.
func (b *Breaker) RecordFailure(err error) {
	if b.untracked {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.halfOpenInFlight--
	}
	if !IsTransientError(err) {
		return
	}
	b.consecutiveSuccs = 0
	b.consecutiveFails++
	b.lastError = err

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionLocked(CircuitOpen)
	}
}

// transitionLocked changes state. Caller holds b.mu.
func (b *Breaker) transitionLocked(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.clock.Now()
	b.consecutiveFails = 0
	b.consecutiveSuccs = 0
	b.halfOpenInFlight = 0

	b.log.Infow("circuit breaker state changed", "from", from.String(), "to", to.String())
	metrics.ClusterCircuitBreakerState.WithLabelValues(b.name).Set(float64(to))
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the most recent transient failure, if any.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// maxBreakers bounds the number of tracked clusters and thus metric cardinality.
const maxBreakers = 1000

// BreakerRegistry hands out one Breaker per cluster id.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	clock    clock.PassiveClock
	log      *zap.SugaredLogger
	overflow int
}

func NewBreakerRegistry(cfg BreakerConfig, clk clock.PassiveClock, log *zap.SugaredLogger) *BreakerRegistry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BreakerRegistry{
		breakers: map[string]*Breaker{},
		cfg:      cfg,
		clock:    clk,
		log:      log,
	}
}

// Get returns the breaker for clusterID, creating it on first use. Past
// maxBreakers an untracked breaker is returned that never opens.
func (r *BreakerRegistry) Get(clusterID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[clusterID]; ok {
		return b
	}
	if len(r.breakers) >= maxBreakers {
		r.overflow++
		if r.overflow == 1 || r.overflow%100 == 0 {
			r.log.Warnw("circuit breaker registry at capacity, cluster is not tracked",
				"cluster", clusterID, "max", maxBreakers, "overflowCount", r.overflow)
		}
		return &Breaker{name: clusterID, cfg: r.cfg.withDefaults(), clock: r.clock, log: r.log, untracked: true}
	}
	b := newBreaker(clusterID, r.cfg, r.clock, r.log)
	r.breakers[clusterID] = b
	return b
}

// Remove forgets a cluster and drops its metric series.
func (r *BreakerRegistry) Remove(clusterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, clusterID)
	metrics.ClusterCircuitBreakerState.DeleteLabelValues(clusterID)
	metrics.ClusterCircuitBreakerRejections.DeleteLabelValues(clusterID)
}

// States returns the current state of every tracked cluster.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.Lock()
	tracked := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		tracked = append(tracked, b)
	}
	r.mu.Unlock()

	out := make(map[string]CircuitState, len(tracked))
	for _, b := range tracked {
		out[b.name] = b.State()
	}
	return out
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"dial tcp",
	"dial timeout",
	"context deadline exceeded",
	"tls handshake timeout",
	"unexpected eof",
	"broken pipe",
	"connection timed out",
}

// IsTransientError reports whether err is a network-level or timeout failure.
// Certificate, authentication and not-found errors mean the API server was
// reached and do not count against a cluster.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		if opErr.Err != nil {
			return IsTransientError(opErr.Err)
		}
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && IsTransientError(urlErr.Err) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
