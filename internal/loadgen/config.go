// Package loadgen drives a running equity service with synthetic, skewed
// assignment traffic and checks that the live audit matches a locally
// computed one.
package loadgen

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "http://localhost:9080"
	DefaultAssignments = 10_000
	DefaultCustodians  = 40
	DefaultTimeout     = 30 * time.Second
	DefaultSkew        = 1.2
	DefaultWait        = 10 * time.Second
	DefaultResubmit    = 0.05
	DefaultTolerance   = 1e-6
)

// ErrInvalidConfig is wrapped by Config.Validate.
var ErrInvalidConfig = errors.New("invalid load configuration")

// Config controls one load run.
type Config struct {
	BaseURL     string
	Assignments int
	Custodians  int
	Workers     int
	Timeout     time.Duration

	// Skew is the Zipf exponent used to pick custodians. Values <= 1 pick
	// uniformly.
	Skew float64

	// Resubmit is the fraction of assignments posted a second time to
	// exercise deduplication.
	Resubmit float64

	// Wait bounds how long the run polls for the service to drain.
	Wait time.Duration

	// Tolerance is the largest accepted absolute difference per metric.
	Tolerance float64

	// Output, when set, receives the run result as JSON.
	Output string

	// Seed makes generation reproducible. Zero picks a random seed.
	Seed uint64
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Assignments: DefaultAssignments,
		Custodians:  DefaultCustodians,
		Workers:     runtime.NumCPU() * 2,
		Timeout:     DefaultTimeout,
		Skew:        DefaultSkew,
		Resubmit:    DefaultResubmit,
		Wait:        DefaultWait,
		Tolerance:   DefaultTolerance,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return fmt.Errorf("%w: url must not be empty", ErrInvalidConfig)
	case c.Assignments < 1:
		return fmt.Errorf("%w: assignments must be positive", ErrInvalidConfig)
	case c.Custodians < 1:
		return fmt.Errorf("%w: custodians must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.Resubmit < 0 || c.Resubmit > 1:
		return fmt.Errorf("%w: resubmit must be within [0, 1]", ErrInvalidConfig)
	case c.Wait <= 0:
		return fmt.Errorf("%w: wait must be positive", ErrInvalidConfig)
	case c.Tolerance < 0:
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidConfig)
	}
	return nil
}
