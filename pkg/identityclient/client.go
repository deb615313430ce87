/**
 * @description
 * Client for the identity service's internal user status endpoint. Calls go
 * through a circuit breaker so an identity outage fails scheduler items fast
 * instead of holding every tick for the full HTTP timeout.
 *
 * @dependencies
 * - github.com/sony/gobreaker: circuit breaker.
 */
package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable wraps every failure to get an answer from the identity service,
// including an open breaker.
var ErrUnavailable = errors.New("identity service unavailable")

type statusResponse struct {
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

// Client is a client for the identity service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new identity service client. apiKey is sent as
// X-Internal-API-Key when set.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "identity-service",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// IsUserActive reports whether userID exists and is active. An unknown user is
// reported as inactive.
func (c *Client) IsUserActive(ctx context.Context, userID string) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("%w: base URL is not configured", ErrUnavailable)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchStatus(ctx, userID)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.(bool), nil
}

func (c *Client) fetchStatus(ctx context.Context, userID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%s/status", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request to identity service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("identity service returned error status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return status.Active, nil
}
