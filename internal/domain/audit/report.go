// Package audit assembles the fairness metrics of package stats into a
// single report over a set of per-custodian tallies.
package audit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
	"github.com/okian/equity/internal/domain/stats"
)

const (
	defaultMaxEntities = 50_000
	percent            = 100
)

// EntityStat is one entity's row in a report.
type EntityStat struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Value    float64         `json:"value"`
	Share    float64         `json:"share_pct"`
	ZScore   float64         `json:"z_score"`
	Category stats.ZCategory `json:"category"`
}

// Report combines every fairness metric for one value vector.
//
// When PalmaDefined is false, Palma holds the sentinel from
// stats.PalmaRatio and should be read as "not applicable".
type Report struct {
	GeneratedAt  time.Time               `json:"generated_at"`
	Entities     int                     `json:"entities"`
	Total        float64                 `json:"total"`
	Mean         float64                 `json:"mean"`
	StdDev       float64                 `json:"std_dev"`
	Gini         float64                 `json:"gini"`
	GiniBand     string                  `json:"gini_band"`
	Entropy      float64                 `json:"entropy"`
	MaxEntropy   float64                 `json:"max_entropy"`
	Evenness     float64                 `json:"evenness"`
	HHI          float64                 `json:"hhi"`
	HHIBand      string                  `json:"hhi_band"`
	Palma        float64                 `json:"palma"`
	PalmaDefined bool                    `json:"palma_defined"`
	Concentrated bool                    `json:"concentrated"`
	Categories   map[stats.ZCategory]int `json:"categories"`
	Rows         []EntityStat            `json:"rows"`
}

type builder struct {
	maxEntities int
	mergeNames  bool
}

func newBuilder(opts []Option) *builder {
	b := &builder{
		maxEntities: defaultMaxEntities,
		mergeNames:  true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates tallies and computes the full report. Tallies whose names
// share a normalised key are merged first unless WithNameMerging(false).
func Build(ctx context.Context, tallies []model.Tally, opts ...Option) (Report, error) {
	b := newBuilder(opts)
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("audit build: %w", err)
	}

	for _, t := range tallies {
		if err := validate(t); err != nil {
			return Report{}, err
		}
	}
	if b.mergeNames {
		tallies = names.Merge(tallies)
	}
	if b.maxEntities > 0 && len(tallies) > b.maxEntities {
		return Report{}, fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyEntities, len(tallies), b.maxEntities)
	}
	return compute(tallies), nil
}

// FromValues builds a report over an anonymous vector. Entities are named
// #1..#n and never merged.
func FromValues(ctx context.Context, values []float64, opts ...Option) (Report, error) {
	tallies := make([]model.Tally, len(values))
	for i, v := range values {
		tallies[i] = model.Tally{Name: "#" + strconv.Itoa(i+1), Value: v}
	}
	opts = append(opts, WithNameMerging(false))
	return Build(ctx, tallies, opts...)
}

func validate(t model.Tally) error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("%w: blank entity name", ErrInvalidValue)
	case math.IsNaN(t.Value), math.IsInf(t.Value, 0):
		return fmt.Errorf("%w: %q is not finite", ErrInvalidValue, t.Name)
	case t.Value < 0:
		return fmt.Errorf("%w: %q is negative (%v)", ErrInvalidValue, t.Name, t.Value)
	}
	return nil
}

func compute(tallies []model.Tally) Report {
	values := model.Values(tallies)
	total := 0.0
	for _, v := range values {
		total += v
	}

	entropy := stats.Entropy(values)
	gini := stats.Gini(values)
	hhi := stats.HHI(values)
	palma, palmaOK := stats.PalmaRatioChecked(values)
	zs := stats.ZScores(values)

	r := Report{
		GeneratedAt:  time.Now().UTC(),
		Entities:     len(values),
		Total:        total,
		Mean:         stats.Mean(values),
		StdDev:       stats.StdDev(values),
		Gini:         gini,
		GiniBand:     stats.GiniBand(gini),
		Entropy:      entropy.Entropy,
		MaxEntropy:   entropy.Max,
		Evenness:     entropy.Evenness(),
		HHI:          hhi,
		HHIBand:      stats.HHIBand(hhi),
		Palma:        palma,
		PalmaDefined: palmaOK,
		Categories:   make(map[stats.ZCategory]int, len(stats.Categories())),
		Rows:         make([]EntityStat, len(tallies)),
	}
	r.Concentrated = r.GiniBand == stats.GiniHigh || r.HHIBand == stats.HHIHigh

	for _, c := range stats.Categories() {
		r.Categories[c] = 0
	}
	for i, t := range tallies {
		var share float64
		if total > 0 {
			share = t.Value / total * percent
		}
		cat := stats.CategorizeZScore(zs[i])
		r.Categories[cat]++
		r.Rows[i] = EntityStat{
			Key:      names.Normalize(t.Name),
			Name:     t.Name,
			Value:    t.Value,
			Share:    share,
			ZScore:   zs[i],
			Category: cat,
		}
	}
	return r
}
