package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
	"github.com/lucid-sec/lucid/go/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "dev-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return token
}

type fakeRelay struct {
	registerToken string
	refreshToken  string
	refreshErr    error
	registerErr   error

	registered  int
	refreshed   int
	deviceNames []string
	linkJWTs    []string
}

func (f *fakeRelay) RegisterDevice(_ context.Context, name string) (*lucidhttp.AuthResponse, error) {
	f.registered++
	f.deviceNames = append(f.deviceNames, name)
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &lucidhttp.AuthResponse{
		Status: "success",
		Data:   lucidhttp.DeviceSession{DeviceID: "dev-new", DeviceType: lucidhttp.DeviceTypeInitiator, JWT: f.registerToken},
	}, nil
}

func (f *fakeRelay) RefreshSession(_ context.Context, _ string) (*lucidhttp.AuthResponse, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &lucidhttp.AuthResponse{
		Status: "success",
		Data:   lucidhttp.DeviceSession{JWT: f.refreshToken},
	}, nil
}

func (f *fakeRelay) LinkToken(_ context.Context, jwt string) (string, error) {
	f.linkJWTs = append(f.linkJWTs, jwt)
	return "link-123", nil
}

func newTestService(relay Relay, store storage.Store) *Service {
	return NewService(relay, store,
		WithClock(func() time.Time { return testNow }),
		WithDeviceName("Lucid CLI (test)"),
		WithLogger(zerolog.Nop()),
	)
}

func seed(t *testing.T, svc *Service, token string, key *codec.Key) {
	t.Helper()
	require.NoError(t, svc.save(&Session{
		Status:        "success",
		Data:          lucidhttp.DeviceSession{DeviceID: "dev-1", DeviceType: lucidhttp.DeviceTypeInitiator, JWT: token},
		EncryptionKey: key,
	}))
}

func TestGetOrRefresh_RegistersWhenEmpty(t *testing.T) {
	relay := &fakeRelay{registerToken: signedToken(t, testNow.Add(7*24*time.Hour))}
	svc := newTestService(relay, storage.NewMemoryStore())

	session, err := svc.GetOrRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, relay.registered)
	assert.Equal(t, []string{"Lucid CLI (test)"}, relay.deviceNames)
	assert.Equal(t, "dev-new", session.Data.DeviceID)
	require.NotNil(t, session.EncryptionKey)

	key, err := svc.EncryptionKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.EncryptionKey.K, key.K)
}

func TestGetOrRefresh_ReusesFreshSession(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(relay, storage.NewMemoryStore())
	key, err := codec.GenerateKey()
	require.NoError(t, err)
	token := signedToken(t, testNow.Add(3*24*time.Hour))
	seed(t, svc, token, key)

	got, err := svc.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, token, got)
	assert.Zero(t, relay.registered)
	assert.Zero(t, relay.refreshed)
}

func TestGetOrRefresh_RefreshesNearExpiryAndKeepsKey(t *testing.T) {
	for name, exp := range map[string]time.Time{
		"within a day": testNow.Add(2 * time.Hour),
		"expired":      testNow.Add(-time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			refreshed := signedToken(t, testNow.Add(7*24*time.Hour))
			relay := &fakeRelay{refreshToken: refreshed}
			svc := newTestService(relay, storage.NewMemoryStore())
			key, err := codec.GenerateKey()
			require.NoError(t, err)
			seed(t, svc, signedToken(t, exp), key)

			session, err := svc.GetOrRefresh(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, relay.refreshed)
			assert.Zero(t, relay.registered)
			assert.Equal(t, refreshed, session.Data.JWT)
			assert.Equal(t, "dev-1", session.Data.DeviceID)
			assert.Equal(t, key.K, session.EncryptionKey.K)
		})
	}
}

func TestGetOrRefresh_FallsBackToRegistration(t *testing.T) {
	relay := &fakeRelay{
		refreshErr:    &lucidhttp.ServerError{Status: 401},
		registerToken: signedToken(t, testNow.Add(7*24*time.Hour)),
	}
	svc := newTestService(relay, storage.NewMemoryStore())
	oldKey, err := codec.GenerateKey()
	require.NoError(t, err)
	seed(t, svc, signedToken(t, testNow.Add(time.Minute)), oldKey)

	session, err := svc.GetOrRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, relay.refreshed)
	assert.Equal(t, 1, relay.registered)
	assert.Equal(t, "dev-new", session.Data.DeviceID)
	assert.NotEqual(t, oldKey.K, session.EncryptionKey.K)
}

func TestGetOrRefresh_UnparseableTokenIsReplaced(t *testing.T) {
	relay := &fakeRelay{refreshToken: signedToken(t, testNow.Add(7*24*time.Hour))}
	svc := newTestService(relay, storage.NewMemoryStore())
	seed(t, svc, "not-a-jwt", nil)

	session, err := svc.GetOrRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, relay.refreshed)
	require.NotNil(t, session.EncryptionKey, "a key is provisioned when the stored session had none")
}

func TestGetOrRefresh_TokenWithoutExpiryIsKept(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(relay, storage.NewMemoryStore())
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "dev-1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	seed(t, svc, token, nil)

	got, err := svc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Zero(t, relay.refreshed)
}

func TestGetOrRefresh_RegistrationFailure(t *testing.T) {
	relay := &fakeRelay{registerErr: errors.New("network down")}
	svc := newTestService(relay, storage.NewMemoryStore())

	_, err := svc.Token(context.Background())
	require.Error(t, err)

	_, err = svc.EncryptionKey(context.Background())
	assert.ErrorIs(t, err, ErrNoEncryptionKey)
}

func TestEncryptionKey_Missing(t *testing.T) {
	svc := newTestService(&fakeRelay{}, storage.NewMemoryStore())

	_, err := svc.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = svc.EncryptionKey(context.Background())
	require.ErrorIs(t, err, ErrNoEncryptionKey)
	assert.Equal(t, "No encryption key found", err.Error())
}

func TestPairingLink(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(relay, storage.NewMemoryStore())
	key, err := codec.GenerateKey()
	require.NoError(t, err)
	token := signedToken(t, testNow.Add(7*24*time.Hour))
	seed(t, svc, token, key)

	link, err := svc.PairingLink(context.Background(), "lucid://app/")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(link, "lucid://app/--/connect?"), link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "link-123", q.Get("t"))
	assert.Equal(t, "Lucid CLI (test)", q.Get("n"))
	assert.Equal(t, key.K, q.Get("d"))
	assert.Equal(t, []string{token}, relay.linkJWTs)
}

func TestSessionPersistsAcrossServices(t *testing.T) {
	store := storage.NewMemoryStore()
	relay := &fakeRelay{registerToken: signedToken(t, testNow.Add(7*24*time.Hour))}

	first, err := newTestService(relay, store).GetOrRefresh(context.Background())
	require.NoError(t, err)

	second, err := newTestService(relay, store).GetOrRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, relay.registered)
	assert.Equal(t, first.Data.JWT, second.Data.JWT)
	assert.Equal(t, first.EncryptionKey.K, second.EncryptionKey.K)
}
