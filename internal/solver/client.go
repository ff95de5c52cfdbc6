// Package solver provides the client for the external combinatorial
// optimization service. The service accepts a square QUBO matrix over a
// submit/poll protocol and is strictly best-effort: every call may fail or
// time out, and callers must tolerate all documented result shapes.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"decisiond/internal/config"
	"decisiond/internal/logging"
)

// JobStatus is the lifecycle state reported by the solver service.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Problem is a QUBO instance: minimize x^T Q x over binary x.
type Problem struct {
	// Matrix is the square coefficient matrix Q.
	Matrix [][]float64 `json:"matrix"`

	// NumReads is the requested number of annealing samples.
	NumReads int `json:"num_reads"`

	// Label tags the job for tracing back to a decision cycle.
	Label string `json:"label,omitempty"`
}

// Size returns the number of decision variables.
func (p *Problem) Size() int { return len(p.Matrix) }

// JobRef identifies a submitted problem.
type JobRef struct {
	ID          string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Sample is one solver read with its energy and multiplicity.
type Sample struct {
	Energy      float64 `json:"energy"`
	Occurrences int     `json:"occurrences"`
	Solution    []int   `json:"solution"`
}

// RawResult is the solver's reply, decoded permissively. Exactly one of the
// payload shapes is expected to be populated:
//   - Solutions: binary vectors, preferred contract
//   - Variables: named-variable map ("x0": 1, ...), legacy shape
//   - Samples: energy/occurrence summaries, legacy shape
type RawResult struct {
	Status    JobStatus          `json:"status"`
	Solutions [][]int            `json:"solutions,omitempty"`
	Variables map[string]float64 `json:"variables,omitempty"`
	Samples   []Sample           `json:"samples,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Client is the submit/poll contract the selector depends on.
type Client interface {
	Submit(ctx context.Context, p *Problem) (JobRef, error)
	Poll(ctx context.Context, ref JobRef) (*RawResult, error)

	// Version identifies the solver backend for decision stamping.
	Version() string
}

// ErrJobFailed reports a job the service itself marked failed.
var ErrJobFailed = errors.New("solver job failed")

// Solve submits a problem and polls until completion or ctx expiry. It is the
// only network-bound suspension point in a decision cycle and is always
// bounded by the caller's deadline.
func Solve(ctx context.Context, c Client, p *Problem, pollInterval time.Duration) (*RawResult, JobRef, error) {
	ref, err := c.Submit(ctx, p)
	if err != nil {
		return nil, JobRef{}, fmt.Errorf("submit: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ref, fmt.Errorf("waiting for job %s: %w", ref.ID, ctx.Err())
		case <-ticker.C:
		}

		res, err := c.Poll(ctx, ref)
		if err != nil {
			return nil, ref, fmt.Errorf("poll job %s: %w", ref.ID, err)
		}
		switch res.Status {
		case JobCompleted:
			return res, ref, nil
		case JobFailed:
			return nil, ref, fmt.Errorf("%w: %s", ErrJobFailed, res.Error)
		default:
			// pending/running: keep polling
		}
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// HTTPClient talks to a QUBO gateway over JSON/HTTP:
//
//	POST {base}/v1/problems       -> {"job_id": "..."}
//	GET  {base}/v1/jobs/{job_id}  -> RawResult
type HTTPClient struct {
	baseURL string
	version string
	http    *http.Client
}

// NewHTTPClient builds a client from configuration.
func NewHTTPClient(cfg config.SolverConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		version: "qubo-gateway/v1",
		http:    &http.Client{Timeout: cfg.SubmitTimeout},
	}
}

func (c *HTTPClient) Version() string { return c.version }

// Submit posts the problem and returns the job reference.
func (c *HTTPClient) Submit(ctx context.Context, p *Problem) (JobRef, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return JobRef{}, fmt.Errorf("encode problem: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/problems", bytes.NewReader(body))
	if err != nil {
		return JobRef{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return JobRef{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return JobRef{}, fmt.Errorf("solver submit returned %d: %s", resp.StatusCode, snippet)
	}

	var ref JobRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return JobRef{}, fmt.Errorf("decode job ref: %w", err)
	}
	if ref.ID == "" {
		return JobRef{}, fmt.Errorf("solver submit returned empty job_id")
	}
	ref.SubmittedAt = time.Now()

	logging.L(logging.CategorySolver).Debug("problem submitted",
		zap.String("job_id", ref.ID), zap.Int("variables", p.Size()))
	return ref, nil
}

// Poll fetches the current result for a job.
func (c *HTTPClient) Poll(ctx context.Context, ref JobRef) (*RawResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+ref.ID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("solver poll returned %d: %s", resp.StatusCode, snippet)
	}

	var res RawResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
