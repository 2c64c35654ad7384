package gin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(secret, append([]ServerOption{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestNewServer_RequiresSecret(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)
	client := lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL})
	ctx := context.Background()

	registered, err := client.RegisterDevice(ctx, "Lucid CLI (test)")
	require.NoError(t, err)
	assert.Equal(t, "success", registered.Status)
	assert.Equal(t, lucidhttp.DeviceTypeInitiator, registered.Data.DeviceType)
	require.Len(t, srv.Devices(), 1)
	assert.Equal(t, "Lucid CLI (test)", srv.Devices()[0].Name)

	claims := &DeviceClaims{}
	_, err = jwt.ParseWithClaims(registered.Data.JWT, claims, func(*jwt.Token) (interface{}, error) { return secret, nil })
	require.NoError(t, err)
	assert.Equal(t, registered.Data.DeviceID, claims.Subject)

	refreshed, err := client.RefreshSession(ctx, registered.Data.JWT)
	require.NoError(t, err)
	assert.Equal(t, registered.Data.DeviceID, refreshed.Data.DeviceID)
	assert.NotEqual(t, registered.Data.JWT, refreshed.Data.JWT)

	link, err := client.LinkToken(ctx, refreshed.Data.JWT)
	require.NoError(t, err)
	owner, ok := srv.LinkTokenDevice(link)
	assert.True(t, ok)
	assert.Equal(t, registered.Data.DeviceID, owner)
}

func TestRegisterRequiresName(t *testing.T) {
	_, ts := newTestServer(t)

	_, err := lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL}).RegisterDevice(context.Background(), "")
	var serverErr *lucidhttp.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusBadRequest, serverErr.Status)
}

func TestBearerMiddleware(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv, ts := newTestServer(t, WithClock(func() time.Time { return now }))
	client := lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL})

	sign := func(key []byte, method jwt.SigningMethod, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign([]byte("other-secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x", ExpiresAt: future})},
		{"expired", sign(secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})},
		{"no expiry", sign(secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"})},
		{"no subject", sign(secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: future})},
		{"unknown device", sign(secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ghost", ExpiresAt: future})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.RefreshSession(context.Background(), tt.token)
			var serverErr *lucidhttp.ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, http.StatusUnauthorized, serverErr.Status)
		})
	}
	assert.Empty(t, srv.Devices())
}

func TestSubmitDecryptsWithKnownKey(t *testing.T) {
	key, err := codec.GenerateKey()
	require.NoError(t, err)

	srv, ts := newTestServer(t, WithKeyResolver(func(context.Context, string) (*codec.Key, error) {
		return key, nil
	}))
	client := lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL})
	ctx := context.Background()

	session, err := client.RegisterDevice(ctx, "Lucid CLI (test)")
	require.NoError(t, err)

	tx := lucid.EoaTransaction{
		ChainID: "1", From: "0x01", To: "0x02", Value: "0x0", Data: "0x", Nonce: "5",
		GasLimit: "0x5208", MaxFeePerGas: "100", MaxPriorityFeePerGas: "2",
	}
	content, err := codec.Encode(tx, key)
	require.NoError(t, err)

	apiReq, err := client.SubmitRequest(session.Data.JWT, lucidhttp.SubmitRequest{
		RequestType:  string(tx.RequestType()),
		Content:      content,
		Notification: lucidhttp.DefaultNotification,
	})
	require.NoError(t, err)

	data, err := lucidhttp.Perform(ctx, ts.Client(), apiReq)
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RequestID string `json:"request_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "success", resp.Status)

	subs := srv.Submissions(session.Data.DeviceID)
	require.Len(t, subs, 1)
	assert.Equal(t, resp.Data.RequestID, subs[0].ID)
	assert.Equal(t, tx, subs[0].Transaction)
	assert.Equal(t, lucidhttp.DefaultNotification, subs[0].Notification)

	listed, err := lucidhttp.Perform(ctx, ts.Client(), lucidhttp.APIRequest{
		URL:     ts.URL + PathRequests,
		Headers: map[string]string{"Authorization": "Bearer " + session.Data.JWT},
	})
	require.NoError(t, err)
	assert.Contains(t, string(listed), resp.Data.RequestID)
}

func TestSubmitRejectsMalformed(t *testing.T) {
	wrongKey, err := codec.GenerateKey()
	require.NoError(t, err)
	_, ts := newTestServer(t, WithKeyResolver(func(context.Context, string) (*codec.Key, error) {
		return wrongKey, nil
	}))
	client := lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL})
	ctx := context.Background()

	session, err := client.RegisterDevice(ctx, "Lucid CLI (test)")
	require.NoError(t, err)

	otherKey, err := codec.GenerateKey()
	require.NoError(t, err)
	content, err := codec.Encode(lucid.PermitTransaction{ChainID: "1"}, otherKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  lucidhttp.SubmitRequest
	}{
		{"unknown type", lucidhttp.SubmitRequest{RequestType: "raw", Content: content}},
		{"short envelope", lucidhttp.SubmitRequest{RequestType: "permit", Content: "AAAA"}},
		{"not base64", lucidhttp.SubmitRequest{RequestType: "permit", Content: "!!!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiReq, err := client.SubmitRequest(session.Data.JWT, tt.req)
			require.NoError(t, err)
			_, err = lucidhttp.Perform(ctx, ts.Client(), apiReq)
			var serverErr *lucidhttp.ServerError
			require.True(t, errors.As(err, &serverErr), "expected server error, got %v", err)
			assert.Equal(t, http.StatusBadRequest, serverErr.Status)
		})
	}
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewHTTPMetrics(reg)
	require.NoError(t, err)
	_, ts := newTestServer(t, WithMetrics(metrics))

	_, _ = lucidhttp.NewRelayClient(&lucidhttp.RelayConfig{URL: ts.URL}).RegisterDevice(context.Background(), "Lucid CLI (test)")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodPost, lucidhttp.PathRegisterDevice, "200")))

	_, err = NewHTTPMetrics(reg)
	assert.Error(t, err, "duplicate registration is rejected")
}
