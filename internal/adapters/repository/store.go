// Package repository keeps per-custodian assignment tallies in rank order.
package repository

import (
	"context"

	"github.com/okian/equity/internal/domain/model"
)

// Entry is one custodian row of the ranking.
type Entry struct {
	Rank        int
	Key         string
	Name        string
	Assignments float64
}

// Store provides read/write access to the tallies of the current period.
type Store interface {
	// Add increments the tally for key by delta and returns the new total.
	// name is remembered the first time key is seen.
	Add(ctx context.Context, key, name string, delta float64) (float64, error)

	// Rank returns the current dense rank and tally for key.
	// Returns ErrNotFound if the key is unknown.
	Rank(ctx context.Context, key string) (Entry, error)

	// TopN returns the top-N entries ordered by assignments desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Tallies returns every tally in rank order.
	Tallies(ctx context.Context) []model.Tally

	// Count returns the number of custodians tracked.
	Count(ctx context.Context) int

	// Reset forgets every tally.
	Reset(ctx context.Context)
}
