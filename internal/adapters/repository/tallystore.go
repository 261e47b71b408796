package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: tally DESC, then key ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the ranking
// from most to least assigned.

// unitScale converts float units to fixed point (six decimals) so repeated
// fractional additions compare exactly.
const (
	unitScale                    = 1_000_000
	maxTally                     = math.MaxInt64 / 2
	defaultMetricsUpdateInterval = 5 * time.Second
)

type tallyFP int64

func toFixedPoint(x float64) (tallyFP, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) || x <= 0 {
		return 0, false
	}
	scaled := math.Round(x * unitScale)
	if scaled < 1 || scaled > maxTally {
		return 0, false
	}
	return tallyFP(scaled), true
}

func toFloat(x tallyFP) float64 {
	return float64(x) / unitScale
}

// record is the per-custodian state.
type record struct {
	total tallyFP
	name  string
}

// treap node
type node struct {
	key   string
	total tallyFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aTotal, aKey) ranks before (bTotal, bKey).
func less(aTotal tallyFP, aKey string, bTotal tallyFP, bKey string) bool {
	if aTotal != bTotal {
		return aTotal > bTotal
	}
	return aKey < bKey
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n, nn *node) *node {
	if n == nil {
		return nn
	}
	if less(nn.total, nn.key, n.total, n.key) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, key string, total tallyFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case total == n.total && key == n.key:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, key, total)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, key, total)
		}
	case less(total, key, n.total, n.key):
		n.left = deleteNode(n.left, key, total)
	default:
		n.right = deleteNode(n.right, key, total)
	}
	fix(n)
	return n
}

// walk visits nodes in rank order until visit returns false.
func walk(n *node, visit func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, visit) {
		return false
	}
	if !visit(n) {
		return false
	}
	return walk(n.right, visit)
}

// TallyStore is an ordered in-memory Store.
type TallyStore struct {
	mu    sync.RWMutex
	root  *node
	byKey map[string]record

	nextPrio              func() uint64
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewTallyStore constructs a treap store and starts its metrics updater.
// Call Close to stop it.
func NewTallyStore(ctx context.Context, opts ...Option) *TallyStore {
	s := &TallyStore{
		byKey:                 make(map[string]record),
		nextPrio:              rand.Uint64,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background goroutine. It is safe to call more than once.
func (s *TallyStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Add implements Store.Add in O(log n) expected time.
func (s *TallyStore) Add(_ context.Context, key, name string, delta float64) (float64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	d, ok := toFixedPoint(delta)
	if !ok || key == "" {
		metrics.RecordErrorByComponent("repository", "invalid_delta")
		return 0, ErrInvalidDelta
	}

	s.mu.Lock()
	rec, exists := s.byKey[key]
	if exists {
		if rec.total > maxTally-d {
			s.mu.Unlock()
			metrics.RecordErrorByComponent("repository", "overflow")
			return 0, ErrInvalidDelta
		}
		s.root = deleteNode(s.root, key, rec.total)
	} else {
		rec.name = name
		if rec.name == "" {
			rec.name = key
		}
	}
	rec.total += d
	s.byKey[key] = rec
	s.root = insert(s.root, &node{key: key, total: rec.total, prio: s.nextPrio(), size: 1})
	count := len(s.byKey)
	s.mu.Unlock()

	if !exists {
		metrics.UpdateCustodiansTotal(count)
	}
	return toFloat(rec.total), nil
}

// Rank returns the dense rank and tally for key. Custodians with equal
// tallies share a rank and the next distinct tally takes the next rank.
func (s *TallyStore) Rank(_ context.Context, key string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byKey[key]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}

	rank := 0
	var prev tallyFP = -1
	walk(s.root, func(n *node) bool {
		if n.total != prev {
			rank++
			prev = n.total
		}
		return n.total != rec.total
	})

	return Entry{Rank: rank, Key: key, Name: rec.name, Assignments: toFloat(rec.total)}, nil
}

// TopN returns the top n entries ordered by tally desc.
func (s *TallyStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(s.byKey)))
	rank := 0
	var prev tallyFP = -1
	walk(s.root, func(nd *node) bool {
		if nd.total != prev {
			rank++
			prev = nd.total
		}
		out = append(out, Entry{
			Rank:        rank,
			Key:         nd.key,
			Name:        s.byKey[nd.key].name,
			Assignments: toFloat(nd.total),
		})
		return len(out) < n
	})
	return out, nil
}

// Tallies returns a copy of every tally in rank order.
func (s *TallyStore) Tallies(_ context.Context) []model.Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Tally, 0, len(s.byKey))
	walk(s.root, func(n *node) bool {
		out = append(out, model.Tally{Name: s.byKey[n.key].name, Value: toFloat(n.total)})
		return true
	})
	return out
}

// Count returns the number of custodians.
func (s *TallyStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Reset drops every tally, starting a new period.
func (s *TallyStore) Reset(_ context.Context) {
	s.mu.Lock()
	s.root = nil
	s.byKey = make(map[string]record)
	s.mu.Unlock()

	metrics.RecordRepositoryReset()
	metrics.UpdateCustodiansTotal(0)
}

// startMetricsUpdater periodically republishes the custodian gauge.
func (s *TallyStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateCustodiansTotal(s.Count(ctx))
			}
		}
	}()
}

var _ Store = (*TallyStore)(nil)
