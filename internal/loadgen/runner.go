package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/pkg/logger"
)

const (
	maxThrottleRetries = 5
	throttleBackoff    = 20 * time.Millisecond
	pollInterval       = 50 * time.Millisecond
	outputPermission   = 0o600
)

// ErrMismatch is returned when the live audit disagrees with the local one.
var ErrMismatch = errors.New("live audit does not match expected")

// Metrics is the subset of a report compared between service and client.
type Metrics struct {
	Entities int     `json:"entities"`
	Total    float64 `json:"total"`
	Gini     float64 `json:"gini"`
	Entropy  float64 `json:"entropy"`
	HHI      float64 `json:"hhi"`
	Palma    float64 `json:"palma"`
	GiniBand string  `json:"gini_band"`
	HHIBand  string  `json:"hhi_band"`
}

func metricsOf(r *audit.Report) Metrics {
	return Metrics{
		Entities: r.Entities,
		Total:    r.Total,
		Gini:     r.Gini,
		Entropy:  r.Entropy,
		HHI:      r.HHI,
		Palma:    r.Palma,
		GiniBand: r.GiniBand,
		HHIBand:  r.HHIBand,
	}
}

// Result summarises one run.
type Result struct {
	Generated   int           `json:"generated"`
	Accepted    int64         `json:"accepted"`
	Duplicates  int64         `json:"duplicates"`
	Throttled   int64         `json:"throttled"`
	Failed      int64         `json:"failed"`
	Resubmitted int           `json:"resubmitted"`
	ReplayLeaks int64         `json:"replay_leaks"`
	Expected    Metrics       `json:"expected"`
	Observed    Metrics       `json:"observed"`
	Mismatches  []string      `json:"mismatches,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Runner executes load runs against one service.
type Runner struct {
	cfg    *Config
	client *Client
	log    logger.Logger
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.Timeout),
		log:    logger.Get().Named("loadgen"),
	}, nil
}

// Run resets the service, submits a generated batch, replays a sample,
// waits for the tallies to settle and compares the live audit with one
// computed locally from the accepted assignments.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := r.client.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	batch := Generate(r.cfg)
	res := &Result{Generated: len(batch.Assignments)}
	r.log.Info(ctx, "submitting assignments",
		logger.Int("assignments", len(batch.Assignments)),
		logger.Int("custodians", r.cfg.Custodians),
		logger.Int("workers", r.cfg.Workers),
	)

	accepted := make([]atomic.Bool, len(batch.Assignments))
	var counts [4]atomic.Int64
	err := r.submitAll(ctx, len(batch.Assignments), func(ctx context.Context, i int) {
		o := r.submit(ctx, batch.Assignments[i])
		counts[o].Add(1)
		if o == Accepted {
			accepted[i].Store(true)
		}
	})
	if err != nil {
		return nil, err
	}
	res.Accepted = counts[Accepted].Load()
	res.Duplicates = counts[Duplicate].Load()
	res.Throttled = counts[Throttled].Load()
	res.Failed = counts[Failed].Load()

	replay := batch.Sample(r.cfg.Resubmit, r.cfg.Seed+1)
	res.Resubmitted = len(replay)
	var leaks atomic.Int64
	err = r.submitAll(ctx, len(replay), func(ctx context.Context, i int) {
		if o, _ := r.client.Submit(ctx, replay[i]); o == Accepted {
			leaks.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	res.ReplayLeaks = leaks.Load()

	tallies := make([]model.Tally, 0, len(batch.Assignments))
	for i, a := range batch.Assignments {
		if accepted[i].Load() {
			tallies = append(tallies, model.Tally{Name: a.Custodian, Value: a.UnitsOrDefault()})
		}
	}
	want, err := audit.Build(ctx, tallies, audit.WithMaxEntities(0))
	if err != nil {
		return nil, fmt.Errorf("local audit: %w", err)
	}
	res.Expected = metricsOf(&want)

	got, err := r.awaitTotal(ctx, want.Total)
	if err != nil {
		return nil, err
	}
	res.Observed = metricsOf(&got)
	res.Mismatches = compare(res.Expected, res.Observed, r.cfg.Tolerance)
	if res.ReplayLeaks > 0 {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("%d replayed assignments were accepted", res.ReplayLeaks))
	}
	res.Elapsed = time.Since(start)

	r.log.Info(ctx, "run finished",
		logger.Int64("accepted", res.Accepted),
		logger.Int64("failed", res.Failed),
		logger.Float64("gini", res.Observed.Gini),
		logger.Float64("hhi", res.Observed.HHI),
		logger.Int("mismatches", len(res.Mismatches)),
		logger.Duration("elapsed", res.Elapsed),
	)

	if r.cfg.Output != "" {
		if err := writeResult(r.cfg.Output, res); err != nil {
			return res, err
		}
	}
	if len(res.Mismatches) > 0 {
		return res, fmt.Errorf("%w: %v", ErrMismatch, res.Mismatches)
	}
	return res, nil
}

// submitAll runs fn for 0..n-1 with at most cfg.Workers in flight.
func (r *Runner) submitAll(ctx context.Context, n int, fn func(context.Context, int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// submit posts a, retrying while the service applies backpressure.
func (r *Runner) submit(ctx context.Context, a model.Assignment) Outcome { //nolint:gocritic // hugeParam: value semantics
	for attempt := 0; ; attempt++ {
		o, err := r.client.Submit(ctx, a)
		if err != nil {
			r.log.Debug(ctx, "submission failed", logger.String("assignmentID", a.AssignmentID), logger.Error(err))
		}
		if o != Throttled || attempt >= maxThrottleRetries {
			return o
		}
		select {
		case <-ctx.Done():
			return Failed
		case <-time.After(throttleBackoff * time.Duration(attempt+1)):
		}
	}
}

// awaitTotal polls the live audit until its total reaches want or the wait
// budget runs out, returning the last report either way.
func (r *Runner) awaitTotal(ctx context.Context, want float64) (audit.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Wait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last audit.Report
	for {
		got, err := r.client.Audit(ctx)
		switch {
		case err == nil:
			last = got
			if math.Abs(got.Total-want) <= r.cfg.Tolerance {
				return got, nil
			}
		case ctx.Err() == nil:
			return audit.Report{}, fmt.Errorf("live audit: %w", err)
		}
		select {
		case <-ctx.Done():
			r.log.Warn(ctx, "tallies did not settle in time",
				logger.Float64("want", want), logger.Float64("got", last.Total))
			return last, nil
		case <-ticker.C:
		}
	}
}

func compare(want, got Metrics, tol float64) []string {
	var out []string
	if want.Entities != got.Entities {
		out = append(out, fmt.Sprintf("entities: want %d, got %d", want.Entities, got.Entities))
	}
	if want.GiniBand != got.GiniBand || want.HHIBand != got.HHIBand {
		out = append(out, fmt.Sprintf("bands: want %s/%s, got %s/%s", want.GiniBand, want.HHIBand, got.GiniBand, got.HHIBand))
	}
	check := func(name string, w, g float64) {
		if math.Abs(w-g) > tol {
			out = append(out, fmt.Sprintf("%s: want %.9f, got %.9f", name, w, g))
		}
	}
	check("total", want.Total, got.Total)
	check("gini", want.Gini, got.Gini)
	check("entropy", want.Entropy, got.Entropy)
	check("hhi", want.HHI, got.HHI)
	check("palma", want.Palma, got.Palma)
	return out
}

func writeResult(path string, res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, outputPermission); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
