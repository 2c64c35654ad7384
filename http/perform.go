package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIRequest is a network call described as data, as the background relays
// it on behalf of the page
type APIRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Perform executes an APIRequest. A 2xx body is returned as JSON; a body
// that does not parse as JSON is returned as a JSON string. Non-2xx
// statuses yield a *ServerError carrying the same body.
func Perform(ctx context.Context, client *http.Client, apiReq APIRequest) (json.RawMessage, error) {
	if client == nil {
		client = http.DefaultClient
	}
	method := strings.ToUpper(apiReq.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(apiReq.Body) > 0 {
		body = bytes.NewReader(apiReq.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiReq.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range apiReq.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	data := parseBody(responseBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{Status: resp.StatusCode, Data: data}
	}
	return data, nil
}

// parseBody keeps valid JSON as is and wraps anything else as a string
func parseBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	text, _ := json.Marshal(string(body))
	return json.RawMessage(text)
}
