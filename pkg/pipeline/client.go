// Package pipeline is the client for the policy-digitization pipeline, the
// upstream service that turns payer PDF policies into digitized policy
// documents.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pa-policy-engine/internal/domain"
)

// Client fetches digitized policy documents over HTTP. Calls go through a
// rate limiter and a circuit breaker so a degraded pipeline cannot stall the
// engine's request handling.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
}

// NewClient creates a pipeline client from configuration.
func NewClient(config domain.PipelineConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.RateBurst == 0 {
		config.RateBurst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "DigitizationPipeline",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		breaker:    breaker,
		maxRetries: config.MaxRetries,
	}
}

// FetchPolicy retrieves one digitized policy version from the pipeline.
func (c *Client) FetchPolicy(ctx context.Context, payer, medication, version string) (*domain.DigitizedPolicy, error) {
	endpoint := fmt.Sprintf("%s/v1/policies/%s/%s/versions/%s",
		c.baseURL, url.PathEscape(payer), url.PathEscape(medication), url.PathEscape(version))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var policy domain.DigitizedPolicy
	if err := json.Unmarshal(body, &policy); err != nil {
		return nil, fmt.Errorf("decoding policy document: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline returned invalid policy: %w", err)
	}
	return &policy, nil
}

// ListVersions retrieves the version identifiers the pipeline has published
// for the pair, oldest first.
func (c *Client) ListVersions(ctx context.Context, payer, medication string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/v1/policies/%s/%s/versions",
		c.baseURL, url.PathEscape(payer), url.PathEscape(medication))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding version list: %w", err)
	}
	return result.Versions, nil
}

// get performs a rate-limited, circuit-broken GET with retries on 5xx.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getWithRetries(ctx, endpoint)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("digitization pipeline unavailable (circuit breaker open)")
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) getWithRetries(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, retryable, err := c.doGet(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("pipeline request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doGet performs one request. Server-side errors are retryable, everything
// else is not.
func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("pipeline request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading pipeline response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("pipeline resource not found: %w", domain.ErrPolicyNotFound)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("pipeline returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("pipeline returned status %d: %s", resp.StatusCode, string(body))
	}
}

// BreakerState reports the circuit breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
