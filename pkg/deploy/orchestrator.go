// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-chartdeploy/pkg/events"
	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/process"
	"github.com/telekom/k8s-chartdeploy/pkg/validation"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("deployment queue is full")
	// ErrStopped is returned by Submit after Stop was called.
	ErrStopped = errors.New("deployment orchestrator is stopped")
)

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of concurrent installs. Default 5.
	Workers int
	// QueueSize bounds accepted but not yet started tasks. Default 100.
	QueueSize int
	// CommandTimeout is the install ceiling when the request does not wait. Default 60s.
	CommandTimeout time.Duration
	// WaitGrace is added to the request timeout when helm waits for readiness. Default 60s.
	WaitGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        5,
		QueueSize:      100,
		CommandTimeout: process.DefaultTimeout,
		WaitGrace:      60 * time.Second,
	}
}

// Task is one accepted deployment.
type Task struct {
	ID          string
	Request     model.DeploymentRequest
	Credential  model.ClusterCredential
	Repository  model.Repository
	SubmittedAt time.Time
}

// Health is a snapshot of the orchestrator.
type Health struct {
	Healthy         bool      `json:"healthy"`
	Running         bool      `json:"running"`
	Workers         int       `json:"workers"`
	QueueLength     int       `json:"queueLength"`
	QueueCapacity   int       `json:"queueCapacity"`
	InFlight        int64     `json:"inFlight"`
	Submitted       int64     `json:"submitted"`
	Succeeded       int64     `json:"succeeded"`
	Failed          int64     `json:"failed"`
	Rejected        int64     `json:"rejected"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

type Option func(*Orchestrator)

// WithClock overrides the clock used for task and health timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithProber probes the cluster before each install.
func WithProber(p validation.ClusterProber) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithRecorder publishes task state changes as deployment events.
func WithRecorder(r *events.Recorder) Option {
	return func(o *Orchestrator) { o.events = r }
}

// Orchestrator owns the deployment queue and its workers.
type Orchestrator struct {
	cfg         Config
	commands    *helm.CommandBuilder
	descriptors kubeconfig.Factory
	runner      process.Executor
	prober      validation.ClusterProber
	clock       clock.PassiveClock
	events      *events.Recorder
	log         *zap.SugaredLogger

	queue  chan *Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the lifecycle flags and makes sends on queue safe against close.
	mu      sync.RWMutex
	started bool
	stopped bool

	inFlight  atomic.Int64
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	statusMu        sync.RWMutex
	lastError       string
	lastErrorTime   time.Time
	lastSuccessTime time.Time
}

func NewOrchestrator(cfg Config, commands *helm.CommandBuilder, descriptors kubeconfig.Factory,
	runner process.Executor, log *zap.SugaredLogger, opts ...Option) *Orchestrator {
	d := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = d.CommandTimeout
	}
	if cfg.WaitGrace <= 0 {
		cfg.WaitGrace = d.WaitGrace
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:         cfg,
		commands:    commands,
		descriptors: descriptors,
		runner:      runner,
		clock:       clock.RealClock{},
		log:         log.Named("deploy"),
		queue:       make(chan *Task, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the workers. Calling it more than once has no effect.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.stopped {
		return
	}
	o.started = true
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.log.Infow("Deployment orchestrator started", "workers", o.cfg.Workers, "queueSize", o.cfg.QueueSize)
}

// Submit enqueues an already validated request and returns its task id
// without waiting for the install.
func (o *Orchestrator) Submit(req model.DeploymentRequest, cred model.ClusterCredential, repo model.Repository) (string, error) {
	task := &Task{
		ID:          uuid.NewString(),
		Request:     req,
		Credential:  cred,
		Repository:  repo,
		SubmittedAt: o.clock.Now(),
	}
	log := o.taskLogger(task)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		o.reject(req, "stopped", ErrStopped)
		return "", ErrStopped
	}
	select {
	case o.queue <- task:
	default:
		o.reject(req, "queue_full", ErrQueueFull)
		log.Warnw("Deployment queue is full, rejecting request", "queueCapacity", cap(o.queue))
		return "", ErrQueueFull
	}

	o.submitted.Add(1)
	metrics.DeploymentsSubmitted.WithLabelValues(req.ClusterID).Inc()
	metrics.DeploymentQueueDepth.Set(float64(len(o.queue)))
	log.Infow("Deployment task state changed", "state", StateQueued)
	o.events.Emit(events.ForRequest(events.TypeQueued, task.ID, req))
	return task.ID, nil
}

func (o *Orchestrator) reject(req model.DeploymentRequest, reason string, err error) {
	o.rejected.Add(1)
	metrics.DeploymentsRejected.WithLabelValues(req.ClusterID, reason).Inc()
	e := events.ForRequest(events.TypeRejected, "", req)
	e.Reason = reason
	e.Message = err.Error()
	o.events.Emit(e)
}

// Stop refuses new submissions and waits until queued tasks are done. When
// ctx ends first, running commands are cancelled and ctx.Err() is returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	close(o.queue)
	started := o.started
	o.mu.Unlock()

	if !started {
		o.cancel()
		for task := range o.queue {
			o.recordFailure(task, o.taskLogger(task), errors.New("deployment task dropped: orchestrator stopped before it was started"))
		}
		metrics.DeploymentQueueDepth.Set(0)
		return nil
	}

	o.log.Infow("Stopping deployment orchestrator", "queued", len(o.queue), "inFlight", o.inFlight.Load())
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		o.log.Infow("Deployment orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		o.log.Warnw("Deployment orchestrator stopped before the queue drained", "error", ctx.Err())
		return ctx.Err()
	}
}

// Health reports queue usage and task counters.
func (o *Orchestrator) Health() Health {
	o.mu.RLock()
	running := o.started && !o.stopped
	o.mu.RUnlock()

	o.statusMu.RLock()
	lastError, lastErrorTime, lastSuccess := o.lastError, o.lastErrorTime, o.lastSuccessTime
	o.statusMu.RUnlock()

	queueLen, queueCap := len(o.queue), cap(o.queue)
	return Health{
		Healthy:         running && float64(queueLen) < float64(queueCap)*0.8,
		Running:         running,
		Workers:         o.cfg.Workers,
		QueueLength:     queueLen,
		QueueCapacity:   queueCap,
		InFlight:        o.inFlight.Load(),
		Submitted:       o.submitted.Load(),
		Succeeded:       o.succeeded.Load(),
		Failed:          o.failed.Load(),
		Rejected:        o.rejected.Load(),
		LastError:       lastError,
		LastErrorTime:   lastErrorTime,
		LastSuccessTime: lastSuccess,
	}
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	for task := range o.queue {
		metrics.DeploymentQueueDepth.Set(float64(len(o.queue)))
		if err := o.ctx.Err(); err != nil {
			o.recordFailure(task, o.taskLogger(task), fmt.Errorf("deployment task dropped during shutdown: %w", err))
			continue
		}
		o.run(id, task)
	}
}

// run executes one task and records its outcome. A panic fails the task
// without taking the worker down.
func (o *Orchestrator) run(worker int, task *Task) {
	log := o.taskLogger(task).With("worker", worker)
	o.inFlight.Add(1)
	metrics.DeploymentsRunning.Inc()
	defer func() {
		o.inFlight.Add(-1)
		metrics.DeploymentsRunning.Dec()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.recordFailure(task, log, fmt.Errorf("deployment task panicked: %v", r))
		}
	}()

	log.Infow("Deployment task state changed", "state", StateRunning, "queuedFor", o.clock.Since(task.SubmittedAt))
	o.events.Emit(events.ForRequest(events.TypeRunning, task.ID, task.Request))
	out, err := o.execute(o.ctx, task)
	if err != nil {
		o.recordFailure(task, log, err)
		return
	}

	o.succeeded.Add(1)
	metrics.DeploymentsSucceeded.WithLabelValues(task.Request.ClusterID).Inc()
	o.statusMu.Lock()
	o.lastSuccessTime = o.clock.Now()
	o.statusMu.Unlock()
	log.Infow("Deployment task state changed", "state", StateSucceeded, "output", truncate(out))
	e := events.ForRequest(events.TypeSucceeded, task.ID, task.Request)
	e.Duration = o.clock.Since(task.SubmittedAt)
	o.events.Emit(e)
}

func (o *Orchestrator) recordFailure(task *Task, log *zap.SugaredLogger, err error) {
	reason := string(failure.KindOf(err))
	if reason == "" {
		reason = "internal"
	}
	o.failed.Add(1)
	metrics.DeploymentsFailed.WithLabelValues(task.Request.ClusterID, reason).Inc()

	o.statusMu.Lock()
	o.lastError = err.Error()
	o.lastErrorTime = o.clock.Now()
	o.statusMu.Unlock()

	fields := []any{"state", StateFailed, "kind", reason, "error", err}
	if fe, ok := failure.As(err); ok && fe.Output != "" {
		fields = append(fields, "output", fe.Output)
	}
	log.Errorw("Deployment task state changed", fields...)

	e := events.ForRequest(events.TypeFailed, task.ID, task.Request)
	e.Reason = reason
	e.Message = err.Error()
	e.Duration = o.clock.Since(task.SubmittedAt)
	o.events.Emit(e)
}

// execute builds a fresh descriptor, runs the install and always removes the
// descriptor and any values file, whatever the outcome.
func (o *Orchestrator) execute(ctx context.Context, task *Task) (string, error) {
	req, cred := task.Request, task.Credential

	if o.prober != nil {
		if _, err := o.prober.Probe(ctx, cred); err != nil {
			return "", err
		}
	}

	desc, err := o.descriptors.Build(cred)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := o.descriptors.Remove(desc); err != nil {
			o.log.Warnw("Failed to remove kubeconfig after deployment", "task", task.ID, "path", desc.Path, "error", err)
		}
	}()

	script, err := o.commands.Install(req, task.Repository, desc.Path)
	if err != nil {
		return "", failure.Configuration("render install command").Wrap(err)
	}
	defer func() {
		if err := script.Cleanup(); err != nil {
			o.log.Warnw("Failed to remove values file after deployment", "task", task.ID, "error", err)
		}
	}()

	return o.runner.Run(ctx, script.Command(o.installTimeout(req)))
}

// installTimeout is the process ceiling: the command timeout, or helm's own
// --timeout plus a grace period when the install waits for readiness.
func (o *Orchestrator) installTimeout(req model.DeploymentRequest) time.Duration {
	if !req.Wait {
		return o.cfg.CommandTimeout
	}
	t := req.Timeout
	if t <= 0 {
		t = model.DefaultDeployTimeout
	}
	return t + o.cfg.WaitGrace
}

func (o *Orchestrator) taskLogger(task *Task) *zap.SugaredLogger {
	r := task.Request
	return o.log.With("task", task.ID, "release", r.ReleaseName, "namespace", r.Namespace,
		"cluster", r.ClusterID, "repository", r.Repository, "chart", r.Chart)
}

const maxLoggedOutput = 2048

func truncate(s string) string {
	if len(s) <= maxLoggedOutput {
		return s
	}
	return s[:maxLoggedOutput] + "...(truncated)"
}
