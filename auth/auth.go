// Package auth owns the device session with the relay server and the
// symmetric key transactions are encrypted with.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
	"github.com/lucid-sec/lucid/go/storage"
)

// StorageKey is the store key holding the session record
const StorageKey = "lucid_auth"

// DefaultRefreshWindow refreshes a session once less than a day remains
const DefaultRefreshWindow = 24 * time.Hour

var (
	// ErrNoEncryptionKey is returned when no key has been provisioned yet
	ErrNoEncryptionKey = errors.New("No encryption key found")

	// ErrNoSession is returned when the store holds no session
	ErrNoSession = errors.New("no session")
)

// Session is the persisted device session
type Session struct {
	Status        string                  `json:"status"`
	Data          lucidhttp.DeviceSession `json:"data"`
	EncryptionKey *codec.Key              `json:"encryptionKey,omitempty"`
}

// Relay is the subset of the relay client the service calls
type Relay interface {
	RegisterDevice(ctx context.Context, deviceName string) (*lucidhttp.AuthResponse, error)
	RefreshSession(ctx context.Context, jwt string) (*lucidhttp.AuthResponse, error)
	LinkToken(ctx context.Context, jwt string) (string, error)
}

var _ Relay = (*lucidhttp.RelayClient)(nil)

// Service obtains valid bearer tokens and the encryption key on demand
type Service struct {
	relay         Relay
	store         storage.Store
	deviceName    string
	refreshWindow time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	// mu makes GetOrRefresh single-flight
	mu sync.Mutex
}

// Option configures the service
type Option func(*Service)

// WithDeviceName overrides the name sent on registration
func WithDeviceName(name string) Option {
	return func(s *Service) {
		s.deviceName = name
	}
}

// WithRefreshWindow sets how long before expiry a session is refreshed
func WithRefreshWindow(d time.Duration) Option {
	return func(s *Service) {
		s.refreshWindow = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// DefaultDeviceName describes this client to the relay server
func DefaultDeviceName() string {
	return fmt.Sprintf("Lucid CLI (%s/%s)", runtime.GOOS, runtime.GOARCH)
}

// NewService creates an auth service
func NewService(relay Relay, store storage.Store, opts ...Option) *Service {
	s := &Service{
		relay:         relay,
		store:         store,
		deviceName:    DefaultDeviceName(),
		refreshWindow: DefaultRefreshWindow,
		now:           time.Now,
		logger:        log.Logger.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeviceName returns the name this device registers under
func (s *Service) DeviceName() string {
	return s.deviceName
}

// GetOrRefresh returns a usable session. A stored session close to expiry
// is refreshed; if refreshing fails, or nothing is stored, the device is
// registered again with a fresh encryption key.
func (s *Service) GetOrRefresh(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load()
	if err != nil && !errors.Is(err, ErrNoSession) {
		s.logger.Warn().Err(err).Msg("discarding unreadable session")
	}

	if stored != nil && stored.Data.JWT != "" {
		if !s.needsRefresh(stored.Data.JWT) {
			return stored, nil
		}

		refreshed, err := s.refresh(ctx, stored)
		if err == nil {
			return refreshed, nil
		}
		s.logger.Warn().Err(err).Msg("refresh failed, registering new device")
	}

	return s.register(ctx)
}

func (s *Service) refresh(ctx context.Context, stored *Session) (*Session, error) {
	resp, err := s.relay.RefreshSession(ctx, stored.Data.JWT)
	if err != nil {
		return nil, err
	}

	session := &Session{Status: resp.Status, Data: resp.Data, EncryptionKey: stored.EncryptionKey}
	if session.Data.DeviceID == "" {
		session.Data.DeviceID = stored.Data.DeviceID
	}
	if session.EncryptionKey == nil {
		if session.EncryptionKey, err = codec.GenerateKey(); err != nil {
			return nil, err
		}
	}

	if err := s.save(session); err != nil {
		return nil, err
	}
	s.logger.Info().Str("device_id", session.Data.DeviceID).Msg("session refreshed")
	return session, nil
}

func (s *Service) register(ctx context.Context) (*Session, error) {
	resp, err := s.relay.RegisterDevice(ctx, s.deviceName)
	if err != nil {
		return nil, err
	}

	key, err := codec.GenerateKey()
	if err != nil {
		return nil, err
	}

	session := &Session{Status: resp.Status, Data: resp.Data, EncryptionKey: key}
	if err := s.save(session); err != nil {
		return nil, err
	}
	s.logger.Info().Str("device_id", session.Data.DeviceID).Msg("device registered")
	return session, nil
}

// Token returns a valid bearer token, refreshing or registering as needed
func (s *Service) Token(ctx context.Context) (string, error) {
	session, err := s.GetOrRefresh(ctx)
	if err != nil {
		return "", err
	}
	return session.Data.JWT, nil
}

// Current returns the stored session without contacting the relay server
func (s *Service) Current(_ context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// EncryptionKey returns the stored key. It never registers or refreshes.
func (s *Service) EncryptionKey(_ context.Context) (*codec.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load()
	if err != nil || session.EncryptionKey == nil {
		return nil, ErrNoEncryptionKey
	}
	return session.EncryptionKey, nil
}

// LinkToken fetches a pairing token for the current session
func (s *Service) LinkToken(ctx context.Context) (string, error) {
	session, err := s.GetOrRefresh(ctx)
	if err != nil {
		return "", err
	}
	return s.relay.LinkToken(ctx, session.Data.JWT)
}

// PairingLink builds the deep link a phone opens to pair with this device.
// It carries the encryption key, so it must only be shown to the user.
func (s *Service) PairingLink(ctx context.Context, appLink string) (string, error) {
	linkToken, err := s.LinkToken(ctx)
	if err != nil {
		return "", err
	}
	key, err := s.EncryptionKey(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/--/connect?t=%s&n=%s&d=%s",
		strings.TrimRight(appLink, "/"),
		url.QueryEscape(linkToken),
		url.QueryEscape(s.deviceName),
		url.QueryEscape(key.K),
	), nil
}

// needsRefresh reports whether a JWT is expired or expires within the
// refresh window. Unparseable tokens always need a refresh.
func (s *Service) needsRefresh(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		s.logger.Debug().Err(err).Msg("unparseable session token")
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Sub(s.now()) < s.refreshWindow
}

func (s *Service) load() (*Session, error) {
	raw, err := s.store.Get(StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *Service) save(session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.store.Set(StorageKey, raw); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}
