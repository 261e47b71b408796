// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	assignmentqueue "github.com/okian/equity/internal/adapters/mq/queue"
	workerpool "github.com/okian/equity/internal/adapters/mq/worker"
	"github.com/okian/equity/internal/adapters/repository"
	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/dedupe"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
	"github.com/okian/equity/internal/domain/types"
	"github.com/okian/equity/pkg/logger"
	"github.com/okian/equity/pkg/metrics"
)

const (
	defaultDrainTimeout   = 10 * time.Second
	systemMetricsInterval = 10 * time.Second
)

// Audit sources, used as the metrics label.
const (
	SourceLive    = "live"
	SourceValues  = "values"
	SourceTallies = "tallies"
)

// ErrNotStarted is returned by operations that need the pipeline running.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the fairness audit system.
type Service struct {
	mu sync.RWMutex

	// Core components
	tallies *repository.TallyStore
	deduper dedupe.Deduper
	queue   *assignmentqueue.InMemoryQueue
	pool    *workerpool.Pool

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	maxAuditEntities int
	mergeNames       bool
	drainTimeout     time.Duration

	// State
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the assignment queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds the deduplication cache. Zero means unbounded.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxAuditEntities caps how many entities a single report may cover.
func WithMaxAuditEntities(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAuditEntities = n
		}
	}
}

// WithNameMerging toggles folding spelling variants together in reports.
func WithNameMerging(enabled bool) Option {
	return func(s *Service) {
		s.mergeNames = enabled
	}
}

// WithDrainTimeout bounds how long Stop waits for queued assignments.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        100_000,
		dedupeSize:       50_000,
		maxAuditEntities: 50_000,
		mergeNames:       true,
		drainTimeout:     defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting fairness audit service")

	s.tallies = repository.NewTallyStore(ctx)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = assignmentqueue.NewInMemoryQueue(assignmentqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.tallies)
	s.pool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.collectSystemMetrics(ctx)
	}()

	s.started = true
	s.logger.Info(ctx, "fairness audit service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Bool("mergeNames", s.mergeNames),
	)
	return nil
}

// Stop drains queued assignments, bounded by the drain timeout, and shuts
// every component down.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping fairness audit service")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err), logger.Int("remaining", s.queue.Len(ctx)))
	}
	_ = s.tallies.Close()

	close(s.stopCh)
	s.wg.Wait()

	s.started = false
	s.logger.Info(ctx, "fairness audit service stopped", logger.Int64("processed", s.pool.Processed()))
}

// collectSystemMetrics publishes runtime gauges until Stop or ctx ends.
func (s *Service) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	var lastNumGC uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			metrics.UpdateSystemMemoryUsage(ms.HeapAlloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
			if ms.NumGC != lastNumGC {
				pause := ms.PauseNs[(ms.NumGC+255)%256]
				metrics.RecordSystemGCPauseTime(float64(pause) / float64(time.Millisecond))
				lastNumGC = ms.NumGC
			}
		}
	}
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// SeenAndRecord atomically checks if an assignment id was seen and records
// it if not. Returns true if the id was already seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	if !s.running() {
		return false
	}
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordAssignmentDuplicate()
	}
	return seen
}

// Unrecord removes an assignment ID from the seen list, allowing a retry.
func (s *Service) Unrecord(ctx context.Context, id string) {
	if !s.running() {
		return
	}
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if !s.running() {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits an assignment for asynchronous tallying. It returns false
// on backpressure or when the service is not running.
func (s *Service) Enqueue(ctx context.Context, a model.Assignment) bool { //nolint:gocritic // hugeParam: value semantics match the queue
	if !s.running() {
		return false
	}
	if !s.queue.Enqueue(ctx, a) {
		metrics.RecordAssignmentRejected("backpressure")
		return false
	}
	metrics.RecordAssignmentReceived()
	s.logger.Debug(ctx, "assignment enqueued",
		logger.String("assignmentID", a.AssignmentID),
		logger.String("custodian", a.Custodian),
	)
	return true
}

// TopN returns the n most assigned custodians.
func (s *Service) TopN(ctx context.Context, n int) ([]types.CustodianEntry, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	entries, err := s.tallies.TopN(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.CustodianEntry, len(entries))
	for i, e := range entries {
		out[i] = toCustodianEntry(e)
	}
	return out, nil
}

// Rank returns the ranking row for a custodian. The name is normalised
// first, so any spelling variant finds the same row.
func (s *Service) Rank(ctx context.Context, name string) (types.CustodianEntry, error) {
	if !s.running() {
		return types.CustodianEntry{}, ErrNotStarted
	}
	key := names.Normalize(name)
	if key == "" {
		return types.CustodianEntry{}, repository.ErrNotFound
	}
	e, err := s.tallies.Rank(ctx, key)
	if err != nil {
		return types.CustodianEntry{}, err
	}
	return toCustodianEntry(e), nil
}

func toCustodianEntry(e repository.Entry) types.CustodianEntry {
	return types.CustodianEntry{Rank: e.Rank, Key: e.Key, Name: e.Name, Assignments: e.Assignments}
}

// Audit builds a fairness report over the live tallies and publishes the
// headline indicators as gauges.
func (s *Service) Audit(ctx context.Context) (audit.Report, error) {
	if !s.running() {
		return audit.Report{}, ErrNotStarted
	}
	start := time.Now()
	r, err := audit.Build(ctx, s.tallies.Tallies(ctx), s.auditOptions()...)
	if err != nil {
		metrics.RecordErrorByComponent("audit", "build")
		return audit.Report{}, err
	}
	metrics.RecordAudit(SourceLive, float64(time.Since(start).Microseconds())/1000)
	metrics.UpdateFairnessGauges(r.Gini, r.HHI, r.Evenness, r.Palma, r.Entities)

	if r.Concentrated {
		s.logger.Warn(ctx, "assignments are concentrated",
			logger.Float64("gini", r.Gini),
			logger.String("giniBand", r.GiniBand),
			logger.Float64("hhi", r.HHI),
			logger.String("hhiBand", r.HHIBand),
			logger.Int("custodians", r.Entities),
		)
	}
	return r, nil
}

// AuditValues builds a report for an anonymous value vector.
func (s *Service) AuditValues(ctx context.Context, values []float64) (audit.Report, error) {
	start := time.Now()
	r, err := audit.FromValues(ctx, values, s.auditOptions()...)
	if err != nil {
		return audit.Report{}, err
	}
	metrics.RecordAudit(SourceValues, float64(time.Since(start).Microseconds())/1000)
	return r, nil
}

// AuditTallies builds a report for caller-supplied named tallies.
func (s *Service) AuditTallies(ctx context.Context, tallies []model.Tally) (audit.Report, error) {
	start := time.Now()
	r, err := audit.Build(ctx, tallies, s.auditOptions()...)
	if err != nil {
		return audit.Report{}, err
	}
	metrics.RecordAudit(SourceTallies, float64(time.Since(start).Microseconds())/1000)
	return r, nil
}

func (s *Service) auditOptions() []audit.Option {
	return []audit.Option{
		audit.WithMaxEntities(s.maxAuditEntities),
		audit.WithNameMerging(s.mergeNames),
	}
}

// Reset clears the tallies to start a new audit period. Seen assignment
// IDs are kept so a replayed feed is not counted into the new period.
func (s *Service) Reset(ctx context.Context) error {
	if !s.running() {
		return ErrNotStarted
	}
	s.tallies.Reset(ctx)
	s.logger.Info(ctx, "tallies reset")
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"mergeNames":  s.mergeNames,
	}

	if s.started {
		ctx := context.Background()
		queueLen := s.queue.Len(ctx)
		custodians := s.tallies.Count(ctx)

		stats["queueLength"] = queueLen
		stats["custodians"] = custodians
		stats["processed"] = s.pool.Processed()
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateCustodiansTotal(custodians)
	}
	return stats
}
