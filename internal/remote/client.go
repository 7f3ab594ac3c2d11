// Package remote talks to the storefront's external personalization backend:
// the recommender and the interactions collector.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/metrics"
)

var (
	ErrUnexpectedStatus  = errors.New("remote: unexpected status")
	ErrMalformedResponse = errors.New("remote: malformed response")
	ErrDisabled          = errors.New("remote: endpoint not configured")
)

const maxResponseBytes = 4 << 20

// Client is an HTTP client for one remote endpoint, guarded by a circuit
// breaker so a failing backend is skipped instead of waited on.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *logrus.Logger
}

func NewClient(name string, cfg config.RemoteEndpointConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}

	// Circuit breaker
	minRequests := cfg.Breaker.MinRequests
	failureRatio := cfg.Breaker.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.6
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"endpoint": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Remote circuit breaker changed state")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return c
}

func (c *Client) Name() string { return c.name }

// State reports the breaker state: closed, half-open or open.
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Do sends one request and returns the response body of a 2xx reply. body,
// when non-nil, is encoded as JSON.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrDisabled
	}

	start := time.Now()
	payload, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, body)
	})

	// Record outcome
	outcome := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
	case err != nil:
		outcome = "failure"
	}
	metrics.RemoteRequestDuration.WithLabelValues(c.name, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	// Encode body
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Send request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.name, err)
	}

	// Check status
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, c.name, resp.StatusCode)
	}

	return data, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
