package audit

// Option configures a report build.
type Option func(*builder)

// WithMaxEntities caps the number of entities a report may cover after
// names are merged. Non-positive values disable the cap.
func WithMaxEntities(n int) Option {
	return func(b *builder) {
		b.maxEntities = n
	}
}

// WithNameMerging toggles folding of tallies whose names normalise to the
// same key.
func WithNameMerging(enabled bool) Option {
	return func(b *builder) {
		b.mergeNames = enabled
	}
}
