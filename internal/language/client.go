package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"redactly/pkg/logger"
	"redactly/pkg/resilience"

	"go.uber.org/zap"
)

const (
	DefaultAPIVersion = "2023-04-01"

	jobsPath = "/language/analyze-conversations/jobs"
)

// ErrThrottled marks a rate-limit response from the service. It is never
// absorbed here; callers retry with backoff.
var ErrThrottled = errors.New("request was throttled")

type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	client     *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.RateLimiter
}

// New conversation-analysis client. Per-call deadlines come from the caller's
// context, so the underlying http.Client has no timeout of its own.
func NewClient(endpoint, apiKey, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		client:     &http.Client{},
		breaker:    resilience.NewCircuitBreaker(5, 30*time.Second),
		limiter:    resilience.NewRateLimiter(10, time.Second),
	}
}

// SubmitJob starts an asynchronous analysis job and returns its job id,
// extracted from the operation-location response header.
func (c *Client) SubmitJob(ctx context.Context, request *AnalyzeRequest) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	submitURL := fmt.Sprintf("%s%s?api-version=%s", c.endpoint, jobsPath, c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("Submitting analysis job",
		zap.String("display_name", request.DisplayName),
		zap.Int("conversations", len(request.AnalysisInput.Conversations)))

	resp, respBody, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("job submission failed: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	location := resp.Header.Get("Operation-Location")
	jobID, err := jobIDFromLocation(location)
	if err != nil {
		return "", err
	}

	logger.Info("Analysis job submitted", zap.String("job_id", jobID))

	return jobID, nil
}

// GetJob fetches the current state of a job, including task results once the
// job is terminal.
func (c *Client) GetJob(ctx context.Context, jobID string) (*AnalyzeJob, error) {
	jobURL := fmt.Sprintf("%s%s/%s?api-version=%s", c.endpoint, jobsPath, url.PathEscape(jobID), c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, respBody, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job query failed: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	var job AnalyzeJob
	if err := json.Unmarshal(respBody, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.JobID == "" {
		job.JobID = jobID
	}

	logger.Debug("Job state fetched",
		zap.String("job_id", jobID),
		zap.String("status", job.Status))

	return &job, nil
}

// do sends a request through the client-side rate limiter and circuit
// breaker, translating 429 into ErrThrottled.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var resp *http.Response
	var respBody []byte

	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			return fmt.Errorf("status=429 retry-after=%q: %w", retryAfter, ErrThrottled)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return resp, respBody, nil
}

// jobIDFromLocation extracts the job id from an operation-location URL,
// dropping any query string.
func jobIDFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("response is missing operation-location header")
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse operation-location %q: %w", location, err)
	}

	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	jobID := parts[len(parts)-1]
	if jobID == "" {
		return "", fmt.Errorf("operation-location %q has no job id", location)
	}

	return jobID, nil
}
