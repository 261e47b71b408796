package repository

import "time"

// Option applies a configuration option to the TallyStore.
type Option func(*TallyStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *TallyStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithPriorities overrides the source of treap priorities. Tests use it to
// build deterministic trees.
func WithPriorities(next func() uint64) Option {
	return func(s *TallyStore) {
		if next != nil {
			s.nextPrio = next
		}
	}
}
