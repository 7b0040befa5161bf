// Package solver is the HTTP client for an external challenge-solving service.
// It never solves anything itself; it forwards the challenge parameters and
// returns whatever token the service produces.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDisabled is returned by NoOpClient.
var ErrDisabled = errors.New("challenge solver is disabled")

// Challenge identifies a challenge widget on a page.
type Challenge struct {
	SiteKey string
	PageURL string
}

// Client solves page challenges.
type Client interface {
	// Solve returns the response token for the challenge.
	Solve(ctx context.Context, ch Challenge) (string, error)

	// IsHealthy returns true if the solving service is available.
	IsHealthy() bool

	// Close releases resources.
	Close()
}

// ClientConfig contains configuration for the solver client.
type ClientConfig struct {
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey         string
	Timeout        time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// DefaultClientConfig returns default solver client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://localhost:8000",
		Timeout:        2 * time.Minute,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  3 * time.Second,
	}
}

// HTTPClient implements Client using HTTP calls to the solving service.
type HTTPClient struct {
	config       *ClientConfig
	httpClient   *http.Client
	healthy      atomic.Bool
	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// NewHTTPClient creates a new HTTP-based solver client.
func NewHTTPClient(config *ClientConfig) *HTTPClient {
	if config == nil {
		config = DefaultClientConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		healthCtx:    ctx,
		healthCancel: cancel,
	}

	client.performHealthCheck()

	client.healthWg.Add(1)
	go client.healthCheckLoop()

	return client
}

// Solve posts the challenge and waits for the service's token.
func (c *HTTPClient) Solve(ctx context.Context, ch Challenge) (string, error) {
	if !c.IsHealthy() {
		return "", fmt.Errorf("challenge solver is currently unavailable")
	}
	if ch.SiteKey == "" {
		return "", fmt.Errorf("challenge has no site key")
	}

	payload, err := json.Marshal(struct {
		SiteKey string `json:"site_key"`
		PageURL string `json:"page_url"`
	}{ch.SiteKey, ch.PageURL})
	if err != nil {
		return "", fmt.Errorf("failed to encode challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/solve", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Token == "" {
		return "", fmt.Errorf("solver returned an empty token")
	}

	return apiResp.Token, nil
}

// IsHealthy returns true if the solving service is available.
func (c *HTTPClient) IsHealthy() bool {
	return c.healthy.Load()
}

// Close releases resources.
func (c *HTTPClient) Close() {
	if c.healthCancel != nil {
		c.healthCancel()
	}
	c.healthWg.Wait()
}

func (c *HTTPClient) healthCheckLoop() {
	defer c.healthWg.Done()

	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCtx.Done():
			return
		case <-ticker.C:
			c.performHealthCheck()
		}
	}
}

func (c *HTTPClient) performHealthCheck() {
	ctx, cancel := context.WithTimeout(c.healthCtx, c.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		c.healthy.Store(false)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.healthy.Store(false)
		return
	}
	defer resp.Body.Close()

	c.healthy.Store(resp.StatusCode == http.StatusOK)
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)

// NoOpClient is used when no solving service is configured.
type NoOpClient struct{}

// NewNoOpClient creates a no-operation solver client.
func NewNoOpClient() *NoOpClient {
	return &NoOpClient{}
}

func (c *NoOpClient) Solve(ctx context.Context, ch Challenge) (string, error) {
	return "", ErrDisabled
}

func (c *NoOpClient) IsHealthy() bool {
	return false
}

func (c *NoOpClient) Close() {}

var _ Client = (*NoOpClient)(nil)
