package gin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// ContextKeyDeviceID is the gin context key holding the authenticated device
const ContextKeyDeviceID = "lucid_device_id"

// DeviceClaims are the claims carried by session tokens
type DeviceClaims struct {
	DeviceType string `json:"device_type,omitempty"`
	jwt.RegisteredClaims
}

// BearerMiddlewareOptions is the options for the BearerMiddleware.
type BearerMiddlewareOptions struct {
	Leeway time.Duration
	Issuer string
}

// BearerOption is the type for the options for the BearerMiddleware.
type BearerOption func(*BearerMiddlewareOptions)

// WithLeeway is an option for the BearerMiddleware to tolerate clock skew.
func WithLeeway(leeway time.Duration) BearerOption {
	return func(options *BearerMiddlewareOptions) {
		options.Leeway = leeway
	}
}

// WithIssuer is an option for the BearerMiddleware to require an issuer.
func WithIssuer(issuer string) BearerOption {
	return func(options *BearerMiddlewareOptions) {
		options.Issuer = issuer
	}
}

// BearerMiddleware authenticates the HS256 session token in the
// Authorization header and stores the device id in the gin context.
func BearerMiddleware(secret []byte, opts ...BearerOption) gin.HandlerFunc {
	options := &BearerMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(options.Leeway),
	}
	if options.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(options.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Authorization header is required",
			})
			return
		}

		claims := &DeviceClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			message := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  message,
			})
			return
		}
		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "token has no subject",
			})
			return
		}

		c.Set(ContextKeyDeviceID, claims.Subject)
		c.Next()
	}
}

// DeviceID returns the authenticated device id
func DeviceID(c *gin.Context) string {
	return c.GetString(ContextKeyDeviceID)
}

// HTTPMetrics counts and times requests per route
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the collectors and registers them on reg
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lucid",
				Subsystem: "devserver",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lucid",
				Subsystem: "devserver",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "path"},
		),
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware returns a gin middleware recording every matched route
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		if path == "" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		m.Requests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.Duration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
