package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Relay Server Client
// ============================================================================

// RelayClient calls the relay server's device and session endpoints
type RelayClient struct {
	url        string
	httpClient *http.Client
}

// RelayConfig configures the relay client
type RelayConfig struct {
	// URL is the base URL of the relay server
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

// DefaultRelayURL is the production relay server
const DefaultRelayURL = "https://api.lucid.sh"

// DefaultTimeout bounds every relay server call
const DefaultTimeout = 30 * time.Second

// NewRelayClient creates a new relay server client
func NewRelayClient(config *RelayConfig) *RelayClient {
	if config == nil {
		config = &RelayConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultRelayURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &RelayClient{
		url:        url,
		httpClient: httpClient,
	}
}

// URL returns the relay server base URL
func (c *RelayClient) URL() string {
	return c.url
}

// HTTPClient returns the underlying HTTP client
func (c *RelayClient) HTTPClient() *http.Client {
	return c.httpClient
}

// RegisterDevice registers this browser as a new initiator device
func (c *RelayClient) RegisterDevice(ctx context.Context, deviceName string) (*AuthResponse, error) {
	body, err := json.Marshal(RegisterDeviceRequest{
		DeviceName: deviceName,
		DeviceType: DeviceTypeInitiator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal register request: %w", err)
	}

	var auth AuthResponse
	if err := c.do(ctx, http.MethodPost, PathRegisterDevice, "", body, &auth); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	if auth.Data.JWT == "" {
		return nil, fmt.Errorf("failed to register device: response carries no jwt")
	}
	return &auth, nil
}

// RefreshSession exchanges a still-valid JWT for a fresh one
func (c *RelayClient) RefreshSession(ctx context.Context, jwt string) (*AuthResponse, error) {
	var auth AuthResponse
	if err := c.do(ctx, http.MethodPost, PathRefreshSession, jwt, nil, &auth); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if auth.Data.JWT == "" {
		return nil, fmt.Errorf("failed to refresh session: response carries no jwt")
	}
	return &auth, nil
}

// LinkToken fetches the short-lived token a phone uses to pair with this device
func (c *RelayClient) LinkToken(ctx context.Context, jwt string) (string, error) {
	var resp LinkTokenResponse
	if err := c.do(ctx, http.MethodGet, PathLinkToken, jwt, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get link token: %w", err)
	}
	return resp.Data, nil
}

// SubmitRequest builds the APIRequest that posts an encrypted transaction
func (c *RelayClient) SubmitRequest(jwt string, req SubmitRequest) (APIRequest, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return APIRequest{}, fmt.Errorf("failed to marshal submit request: %w", err)
	}
	return APIRequest{
		URL:    c.url + PathRequest,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Bearer " + jwt,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

func (c *RelayClient) do(ctx context.Context, method, path, jwt string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServerError{Status: resp.StatusCode, Data: parseBody(responseBody)}
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
