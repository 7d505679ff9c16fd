package flux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/samber/lo"
)

const (
	DefaultBaseURL      = "https://api.bfl.ml/v1"
	DefaultPollInterval = 10 * time.Second
	DefaultMaxAttempts  = 60

	keyHeader    = "X-Key"
	maxErrorBody = 4 << 10
)

type Options struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxAttempts  int
}

// Client talks to the FLUX API. It holds no mutable state and is safe for
// concurrent use.
type Client struct {
	http         *http.Client
	baseURL      string
	key          string
	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		http:         lo.Ternary(opts.HTTPClient != nil, opts.HTTPClient, http.DefaultClient),
		baseURL:      lo.Ternary(baseURL != "", baseURL, DefaultBaseURL),
		key:          strings.TrimSpace(opts.APIKey),
		pollInterval: lo.Ternary(opts.PollInterval > 0, opts.PollInterval, DefaultPollInterval),
		maxAttempts:  lo.Ternary(opts.MaxAttempts > 0, opts.MaxAttempts, DefaultMaxAttempts),
	}
}

// JobResult is the result object of a finished job.
type JobResult struct {
	Sample string `json:"sample"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// GenerateImage submits req and blocks until the job resolves, returning the
// sample URL.
func (c *Client) GenerateImage(ctx context.Context, req Request) (string, error) {
	id, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return c.WaitForCompletion(ctx, id, c.pollInterval, c.maxAttempts)
}

func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	endpoint := req.Endpoint()
	logger := log.FromContextOrDiscard(ctx).WithGroup("flux").With("endpoint", endpoint)
	logger.Info("submitting generation request")

	if err := req.Validate(); err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: err}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(keyHeader, c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return "", &SubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &SubmissionError{Endpoint: endpoint}
	}

	logger.Info("task created", "id", out.ID)
	return out.ID, nil
}

// Poll fetches the current status of a job. The result is nil unless the
// service returned a decodable result object.
func (c *Client) Poll(ctx context.Context, id string) (Status, *JobResult, error) {
	u := c.baseURL + "/get_result?" + url.Values{"id": {id}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", nil, &PollError{ID: id, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(keyHeader, c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", nil, &PollError{ID: id, Err: err}
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return "", nil, &PollError{ID: id, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, &PollError{ID: id, Err: fmt.Errorf("decoding response: %w", err)}
	}

	var result *JobResult
	if len(out.Result) > 0 {
		var r JobResult
		if err := json.Unmarshal(out.Result, &r); err == nil {
			result = &r
		}
	}
	return out.Status, result, nil
}

// WaitForCompletion polls id every interval until the job is ready, fails, or
// maxAttempts polls have been made. The wait between polls ends early when
// ctx is done.
func (c *Client) WaitForCompletion(ctx context.Context, id string, interval time.Duration, maxAttempts int) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("flux").With("id", id)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, result, err := c.Poll(ctx, id)
		if err != nil {
			return "", err
		}
		logger.Debug("polled task", "attempt", attempt, "status", status)

		switch {
		case status.Ready():
			if result == nil || strings.TrimSpace(result.Sample) == "" {
				return "", &MalformedResultError{ID: id}
			}
			logger.Info("task ready", "attempts", attempt)
			return result.Sample, nil
		case status.Failed():
			return "", &JobFailedError{ID: id, Status: status}
		}

		if attempt == maxAttempts {
			break
		}
		if err := wait(ctx, interval); err != nil {
			return "", fmt.Errorf("waiting for task %s: %w", id, err)
		}
	}

	return "", &TimeoutError{ID: id, Attempts: max(maxAttempts, 0)}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func success(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
