package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
)

// Outcome classifies the service's answer to one submission.
type Outcome int

// Submission outcomes.
const (
	Accepted Outcome = iota
	Duplicate
	Throttled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Throttled:
		return "throttled"
	default:
		return "failed"
	}
}

// ErrUnexpectedStatus is returned for responses the client cannot interpret.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client talks to the equity HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type assignmentBody struct {
	AssignmentID string  `json:"assignment_id"`
	Custodian    string  `json:"custodian"`
	Units        float64 `json:"units"`
	ServiceType  string  `json:"service_type"`
	TS           string  `json:"ts"`
}

// Submit posts one assignment.
func (c *Client) Submit(ctx context.Context, a model.Assignment) (Outcome, error) { //nolint:gocritic // hugeParam: value semantics
	body, err := json.Marshal(assignmentBody{
		AssignmentID: a.AssignmentID,
		Custodian:    a.Custodian,
		Units:        a.Units,
		ServiceType:  a.ServiceType,
		TS:           a.TS.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Failed, fmt.Errorf("encode assignment: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assignments", bytes.NewReader(body))
	if err != nil {
		return Failed, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Failed, fmt.Errorf("post assignment: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return Accepted, nil
	case http.StatusOK:
		return Duplicate, nil
	case http.StatusTooManyRequests:
		return Throttled, nil
	default:
		return Failed, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// Audit fetches the report over the service's live tallies.
func (c *Client) Audit(ctx context.Context) (audit.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audit", http.NoBody)
	if err != nil {
		return audit.Report{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return audit.Report{}, fmt.Errorf("get audit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return audit.Report{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	var r audit.Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return audit.Report{}, fmt.Errorf("decode audit: %w", err)
	}
	return r, nil
}

// Reset clears the service's tallies.
func (c *Client) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tallies/reset", http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reset tallies: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
