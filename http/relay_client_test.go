package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRelayClient(t *testing.T) {
	// Test with default config
	client := NewRelayClient(nil)
	if client.URL() != DefaultRelayURL {
		t.Errorf("Expected default URL %s, got %s", DefaultRelayURL, client.URL())
	}
	if client.HTTPClient().Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout %s, got %s", DefaultTimeout, client.HTTPClient().Timeout)
	}

	// Test with custom config
	client = NewRelayClient(&RelayConfig{URL: "https://relay.example.com/", Timeout: time.Second})
	if client.URL() != "https://relay.example.com" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.URL())
	}
	if client.HTTPClient().Timeout != time.Second {
		t.Errorf("Expected 1s timeout, got %s", client.HTTPClient().Timeout)
	}
}

func TestRelayClientRegisterDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathRegisterDevice {
			t.Errorf("Expected path %s, got %s", PathRegisterDevice, r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Registration must not carry a bearer token")
		}

		var body RegisterDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if body.DeviceName != "Chrome Extension (test)" || body.DeviceType != DeviceTypeInitiator {
			t.Errorf("Unexpected body %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"device_id":"dev-1","device_type":"initiator","jwt":"a.b.c"}}`))
	}))
	defer server.Close()

	client := NewRelayClient(&RelayConfig{URL: server.URL})
	auth, err := client.RegisterDevice(context.Background(), "Chrome Extension (test)")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if auth.Data.DeviceID != "dev-1" || auth.Data.JWT != "a.b.c" {
		t.Errorf("Unexpected response %+v", auth)
	}
}

func TestRelayClientRefreshSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer old.jwt.token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"device_id":"dev-1","jwt":"new.jwt.token"}}`))
	}))
	defer server.Close()

	client := NewRelayClient(&RelayConfig{URL: server.URL})

	auth, err := client.RefreshSession(context.Background(), "old.jwt.token")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if auth.Data.JWT != "new.jwt.token" {
		t.Errorf("Expected new jwt, got %s", auth.Data.JWT)
	}

	_, err = client.RefreshSession(context.Background(), "stale")
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if serverErr.Status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", serverErr.Status)
	}
	if string(serverErr.Data) != `"unauthorized"` {
		t.Errorf("Expected raw text body as JSON string, got %s", serverErr.Data)
	}
}

func TestRelayClientLinkToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != PathLinkToken {
			t.Errorf("Unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","data":"link-123"}`))
	}))
	defer server.Close()

	token, err := NewRelayClient(&RelayConfig{URL: server.URL}).LinkToken(context.Background(), "a.b.c")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "link-123" {
		t.Errorf("Expected link-123, got %s", token)
	}
}

func TestPerform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			_, _ = w.Write([]byte(`{"status":"success"}`))
		case "/text":
			_, _ = w.Write([]byte("accepted"))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream"}`))
		}
	}))
	defer server.Close()

	ctx := context.Background()

	data, err := Perform(ctx, server.Client(), APIRequest{URL: server.URL + "/json", Method: "post", Body: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != `{"status":"success"}` {
		t.Errorf("Unexpected data %s", data)
	}

	data, err = Perform(ctx, server.Client(), APIRequest{URL: server.URL + "/text"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != `"accepted"` {
		t.Errorf("Expected text wrapped as JSON string, got %s", data)
	}

	data, err = Perform(ctx, server.Client(), APIRequest{URL: server.URL + "/empty"})
	if err != nil || data != nil {
		t.Errorf("Expected empty success, got %s, %v", data, err)
	}

	_, err = Perform(ctx, server.Client(), APIRequest{URL: server.URL + "/fail"})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Expected ServerError, got %v", err)
	}
	if err.Error() != "Server error: 502" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !strings.Contains(string(serverErr.Data), "upstream") {
		t.Errorf("Expected body in error data, got %s", serverErr.Data)
	}
}

func TestSubmitRequestWireFormat(t *testing.T) {
	client := NewRelayClient(&RelayConfig{URL: "https://relay.example.com"})
	apiReq, err := client.SubmitRequest("a.b.c", SubmitRequest{
		RequestType:  "permit",
		Content:      "AAAA",
		Notification: DefaultNotification,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if apiReq.URL != "https://relay.example.com/request" || apiReq.Method != http.MethodPost {
		t.Errorf("Unexpected target %s %s", apiReq.Method, apiReq.URL)
	}
	if apiReq.Headers["Authorization"] != "Bearer a.b.c" {
		t.Errorf("Unexpected auth header %q", apiReq.Headers["Authorization"])
	}

	var body map[string]interface{}
	if err := json.Unmarshal(apiReq.Body, &body); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if body["request_type"] != "permit" || body["content"] != "AAAA" {
		t.Errorf("Unexpected body %v", body)
	}
	notification := body["notification"].(map[string]interface{})
	if notification["title"] != "Trying to sign a transaction?" {
		t.Errorf("Unexpected notification %v", notification)
	}
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestWrapHTTPClientWithBearer(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
	}))
	defer server.Close()

	client := WrapHTTPClientWithBearer(server.Client(), staticToken("fresh"))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if req.Header.Get("Authorization") != "" {
		t.Error("Caller's request must not be modified")
	}

	req, _ = http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("Authorization", "Bearer explicit")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(seen) != 2 || seen[0] != "Bearer fresh" || seen[1] != "Bearer explicit" {
		t.Errorf("Unexpected headers %v", seen)
	}
}
