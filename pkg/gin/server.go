// Package gin serves a development relay server: device registration,
// session refresh, link tokens and transaction submission. Submissions are
// checked and kept in memory; when the device's key is known they are
// decrypted too.
package gin

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
)

// DefaultSessionTTL is the lifetime of issued session tokens
const DefaultSessionTTL = 7 * 24 * time.Hour

// PathRequests lists a device's submissions
const PathRequests = "/requests"

// KeyResolver returns the encryption key of a device, if known
type KeyResolver func(ctx context.Context, deviceID string) (*codec.Key, error)

// Device is a registered device
type Device struct {
	ID         string    `json:"device_id"`
	Name       string    `json:"device_name"`
	Type       string    `json:"device_type"`
	Registered time.Time `json:"registered_at"`
}

// Submission is a received transaction
type Submission struct {
	ID           string                      `json:"request_id"`
	DeviceID     string                      `json:"device_id"`
	RequestType  lucid.RequestType           `json:"request_type"`
	Content      string                      `json:"content"`
	Notification lucidhttp.Notification      `json:"notification"`
	Transaction  lucid.NormalizedTransaction `json:"transaction,omitempty"`
	Received     time.Time                   `json:"received_at"`
}

// ServerOptions is the options for the Server.
type ServerOptions struct {
	SessionTTL  time.Duration
	KeyResolver KeyResolver
	Metrics     *HTTPMetrics
	Logger      zerolog.Logger
	Now         func() time.Time
}

// ServerOption is the type for the options for the Server.
type ServerOption func(*ServerOptions)

// WithSessionTTL is an option for the Server to set the token lifetime.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(options *ServerOptions) {
		options.SessionTTL = ttl
	}
}

// WithKeyResolver is an option for the Server to decrypt submissions.
func WithKeyResolver(resolver KeyResolver) ServerOption {
	return func(options *ServerOptions) {
		options.KeyResolver = resolver
	}
}

// WithMetrics is an option for the Server to record HTTP metrics.
func WithMetrics(metrics *HTTPMetrics) ServerOption {
	return func(options *ServerOptions) {
		options.Metrics = metrics
	}
}

// WithLogger is an option for the Server to set its logger.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(options *ServerOptions) {
		options.Logger = logger
	}
}

// WithClock is an option for the Server to override the time source.
func WithClock(now func() time.Time) ServerOption {
	return func(options *ServerOptions) {
		options.Now = now
	}
}

// Server is the development relay server
type Server struct {
	secret  []byte
	options *ServerOptions

	mu          sync.RWMutex
	devices     map[string]Device
	submissions map[string][]Submission
	linkTokens  map[string]string
}

// NewServer creates a server signing session tokens with secret
func NewServer(secret []byte, opts ...ServerOption) (*Server, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	options := &ServerOptions{
		SessionTTL: DefaultSessionTTL,
		Logger:     log.Logger.With().Str("component", "devserver").Logger(),
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		secret:      secret,
		options:     options,
		devices:     make(map[string]Device),
		submissions: make(map[string][]Submission),
		linkTokens:  make(map[string]string),
	}, nil
}

// Handler builds the gin engine
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.options.Metrics != nil {
		r.Use(s.options.Metrics.Middleware())
	}

	r.POST(lucidhttp.PathRegisterDevice, s.registerDevice)

	authed := r.Group("/", BearerMiddleware(s.secret))
	authed.POST(lucidhttp.PathRefreshSession, s.refreshSession)
	authed.GET(lucidhttp.PathLinkToken, s.linkToken)
	authed.POST(lucidhttp.PathRequest, s.submit)
	authed.GET(PathRequests, s.listRequests)

	return r
}

// Devices returns the registered devices
func (s *Server) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Submissions returns a device's submissions in arrival order
func (s *Server) Submissions(deviceID string) []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Submission(nil), s.submissions[deviceID]...)
}

// LinkTokenDevice returns the device a link token was issued to
func (s *Server) LinkTokenDevice(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.linkTokens[token]
	return id, ok
}

func (s *Server) issue(device Device) (string, error) {
	now := s.options.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, DeviceClaims{
		DeviceType: device.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   device.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.options.SessionTTL)),
			ID:        uuid.NewString(),
		},
	}).SignedString(s.secret)
}

func (s *Server) respondSession(c *gin.Context, device Device) {
	token, err := s.issue(device)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lucidhttp.AuthResponse{
		Status: "success",
		Data: lucidhttp.DeviceSession{
			DeviceID:   device.ID,
			DeviceType: device.Type,
			JWT:        token,
		},
	})
}

func (s *Server) registerDevice(c *gin.Context) {
	var req lucidhttp.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "device_name is required"})
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = lucidhttp.DeviceTypeInitiator
	}

	device := Device{
		ID:         uuid.NewString(),
		Name:       req.DeviceName,
		Type:       req.DeviceType,
		Registered: s.options.Now(),
	}
	s.mu.Lock()
	s.devices[device.ID] = device
	s.mu.Unlock()

	s.options.Logger.Info().Str("device_id", device.ID).Str("device_name", device.Name).Msg("device registered")
	s.respondSession(c, device)
}

func (s *Server) device(c *gin.Context) (Device, bool) {
	s.mu.RLock()
	device, ok := s.devices[DeviceID(c)]
	s.mu.RUnlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "unknown device"})
	}
	return device, ok
}

func (s *Server) refreshSession(c *gin.Context) {
	device, ok := s.device(c)
	if !ok {
		return
	}
	s.respondSession(c, device)
}

func (s *Server) linkToken(c *gin.Context) {
	device, ok := s.device(c)
	if !ok {
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.linkTokens[token] = device.ID
	s.mu.Unlock()
	c.JSON(http.StatusOK, lucidhttp.LinkTokenResponse{Status: "success", Data: token})
}

func (s *Server) submit(c *gin.Context) {
	device, ok := s.device(c)
	if !ok {
		return
	}

	var req lucidhttp.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	requestType := lucid.RequestType(req.RequestType)
	switch requestType {
	case lucid.RequestTypeEoaTransaction, lucid.RequestTypeEIP712, lucid.RequestTypePermit:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "unknown request_type " + req.RequestType})
		return
	}
	if _, _, err := codec.SplitEnvelope(req.Content); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	sub := Submission{
		ID:           uuid.NewString(),
		DeviceID:     device.ID,
		RequestType:  requestType,
		Content:      req.Content,
		Notification: req.Notification,
		Received:     s.options.Now(),
	}

	if resolver := s.options.KeyResolver; resolver != nil {
		key, err := resolver(c.Request.Context(), device.ID)
		if err == nil && key != nil {
			tx, err := codec.Decode(req.Content, key, requestType)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "content does not decrypt: " + err.Error()})
				return
			}
			sub.Transaction = tx
		}
	}

	s.mu.Lock()
	s.submissions[device.ID] = append(s.submissions[device.ID], sub)
	s.mu.Unlock()

	event := s.options.Logger.Info().
		Str("device_id", device.ID).
		Str("request_id", sub.ID).
		Str("request_type", req.RequestType).
		Str("title", req.Notification.Title)
	if sub.Transaction != nil {
		event = event.Interface("transaction", sub.Transaction)
	}
	event.Msg("transaction received")

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"request_id": sub.ID}})
}

func (s *Server) listRequests(c *gin.Context) {
	device, ok := s.device(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": s.Submissions(device.ID)})
}
