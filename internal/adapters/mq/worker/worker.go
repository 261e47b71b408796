// Package worker drains queued assignments into the custodian tally store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
	"github.com/okian/equity/pkg/logger"
	"github.com/okian/equity/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	metricsUpdateInterval   = 5 * time.Second
	workerStopTimeout       = 5 * time.Second
)

// ErrBlankCustodian is returned for assignments whose custodian name
// normalises to an empty key.
var ErrBlankCustodian = errors.New("blank custodian name")

// Assignment is what workers read off the queue.
type Assignment = model.Assignment

// Recorder adds assignment units to a custodian's running tally.
type Recorder interface {
	Add(ctx context.Context, key, name string, delta float64) (float64, error)
}

// Queue defines how workers receive assignments.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Assignment
}

// Worker processes assignments until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, the queue closes or
	// Shutdown is called.
	Run(ctx context.Context)

	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	recorder Recorder
	name     string

	processed *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     queue,
		recorder:  recorder,
		name:      "worker",
		processed: &atomic.Int64{},
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ch := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			if err := w.process(ctx, a); err != nil {
				w.logger.Warn(ctx, "assignment not applied",
					logger.String("assignmentID", a.AssignmentID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown signals the worker to stop and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.signal()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) signal() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// process applies a single assignment.
func (w *InMemoryWorker) process(ctx context.Context, a Assignment) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	key := names.Normalize(a.Custodian)
	if key == "" {
		metrics.RecordWorkerError("blank_custodian")
		metrics.RecordAssignmentRejected("blank_custodian")
		return ErrBlankCustodian
	}

	units := a.UnitsOrDefault()
	total, err := w.recorder.Add(ctx, key, a.Custodian, units)
	if err != nil {
		metrics.RecordWorkerError("store_error")
		metrics.RecordErrorByComponent("worker", "store_error")
		return fmt.Errorf("add %s to %q: %w", a.AssignmentID, key, err)
	}

	w.processed.Add(1)
	metrics.RecordAssignmentApplied(units)
	w.logger.Debug(ctx, "assignment applied",
		logger.String("assignmentID", a.AssignmentID),
		logger.String("custodian", key),
		logger.Float64("total", total),
	)
	return nil
}

// Pool manages multiple workers sharing one queue and recorder.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one defaults
// to twice the number of CPUs.
func NewPool(workerCount int, queue Queue, recorder Recorder) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(queue, recorder,
			WithName("worker-"+strconv.Itoa(i)),
			withCounter(&p.processed),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many assignments the pool has applied.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start runs every worker plus the metrics updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runMetricsUpdater(ctx)
	}()
}

func (p *Pool) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	last := p.processed.Load()
	lastAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case now := <-ticker.C:
			cur := p.processed.Load()
			if secs := now.Sub(lastAt).Seconds(); secs > 0 {
				metrics.UpdateWorkerThroughput(float64(cur-last) / secs)
			}
			last, lastAt = cur, now
		}
	}
}

// Stop signals every worker to stop without draining the queue.
func (p *Pool) Stop() {
	p.shutdownOnce.Do(func() { close(p.shutdown) })
	for _, w := range p.workers {
		w.signal()
		select {
		case <-w.done:
		case <-time.After(workerStopTimeout):
			p.logger.Warn(context.Background(), "worker stop timed out", logger.String("worker", w.name))
		}
	}
	p.wg.Wait()
}

// Shutdown closes the queue and lets workers drain it, bounded by ctx.
// Workers still running when ctx expires are signalled to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
		}
		if timedOut {
			break
		}
	}
	p.Stop()

	if timedOut {
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
	return nil
}
