package http

import (
	"context"
	"fmt"
	"net/http"
)

// TokenSource returns a bearer token for the relay server
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// WrapHTTPClientWithBearer wraps an HTTP client so every request without an
// Authorization header carries a bearer token from source
func WrapHTTPClientWithBearer(client *http.Client, source TokenSource) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	wrapped := *client
	wrapped.Transport = &BearerRoundTripper{
		Transport: transport,
		Source:    source,
	}
	return &wrapped
}

// BearerRoundTripper implements http.RoundTripper with bearer authentication
type BearerRoundTripper struct {
	Transport http.RoundTripper
	Source    TokenSource
}

// RoundTrip implements http.RoundTripper
func (t *BearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.Transport.RoundTrip(req)
	}

	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := t.Source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bearer token: %w", err)
	}

	// RoundTrippers must not modify the caller's request
	authReq := req.Clone(ctx)
	authReq.Header.Set("Authorization", "Bearer "+token)
	return t.Transport.RoundTrip(authReq)
}
