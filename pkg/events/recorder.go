/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
)

const (
	DefaultQueueSize    = 1000
	DefaultWriteTimeout = 5 * time.Second
)

// RecorderConfig sizes the asynchronous event queue.
type RecorderConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder hands events to a sink from a single background goroutine.
// Emit never blocks: when the queue is full the event is dropped and
// counted. A nil *Recorder discards everything.
type Recorder struct {
	sink   Sink
	cfg    RecorderConfig
	clock  clock.PassiveClock
	logger *zap.Logger

	queue chan *Event
	wg    sync.WaitGroup

	// mu makes sends on queue safe against Close.
	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Stats are the recorder counters.
type Stats struct {
	Written int64
	Dropped int64
	Failed  int64
}

func NewRecorder(sink Sink, cfg RecorderConfig, clk clock.PassiveClock, logger *zap.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("event-recorder"),
		queue:  make(chan *Event, cfg.QueueSize),
	}
	r.wg.Add(1)
	go r.process()
	r.logger.Info("event recorder started", zap.String("sink", sink.Name()), zap.Int("queue_size", cfg.QueueSize))
	return r
}

// Emit stamps id and timestamp when unset and queues the event.
func (r *Recorder) Emit(event *Event) {
	if r == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(event)
		return
	}
	select {
	case r.queue <- event:
		metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
	default:
		r.drop(event)
	}
}

func (r *Recorder) drop(event *Event) {
	r.dropped.Add(1)
	metrics.EventsDropped.Inc()
	r.logger.Debug("dropping deployment event", zap.String("event_type", string(event.Type)), zap.String("event_id", event.ID))
}

func (r *Recorder) process() {
	defer r.wg.Done()
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		if err := r.sink.Write(ctx, event); err != nil {
			r.failed.Add(1)
			r.logger.Warn("failed to write deployment event",
				zap.String("sink", r.sink.Name()),
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else {
			r.written.Add(1)
		}
		cancel()
	}
}

// Close drains queued events and closes the sink. Safe to call twice.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("event recorder stopped",
		zap.Int64("written", r.written.Load()),
		zap.Int64("dropped", r.dropped.Load()),
		zap.Int64("failed", r.failed.Load()))
	return r.sink.Close()
}

func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{Written: r.written.Load(), Dropped: r.dropped.Load(), Failed: r.failed.Load()}
}
