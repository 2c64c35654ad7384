// Package metrics exports interceptor activity as Prometheus collectors.
// The collectors are fed through the interceptor's hooks.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	lucid "github.com/lucid-sec/lucid/go"
)

const namespace = "lucid"

// Collectors holds the interceptor metrics
type Collectors struct {
	registry *prometheus.Registry

	Intercepted        *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	Failures           *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		Intercepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intercepted_calls_total",
				Help:      "Signing calls seen by wrapped providers.",
			},
			[]string{"method", "kind", "duplicate"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Transactions delivered to the relay server.",
			},
			[]string{"request_type"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_failures_total",
				Help:      "Pipeline runs that ended in failure.",
			},
			[]string{"stage", "code"},
		),
		SubmissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_duration_seconds",
				Help:      "Time from interception to the end of the pipeline run.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
	}
	c.registry.MustRegister(c.Intercepted, c.Submissions, c.Failures, c.SubmissionDuration)
	return c
}

// Registry returns the registry the collectors live on
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collectors in the Prometheus exposition format
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InterceptorOptions returns the hooks that feed the collectors
func (c *Collectors) InterceptorOptions() []lucid.InterceptorOption {
	return []lucid.InterceptorOption{
		lucid.WithOnInterceptHook(c.onIntercept),
		lucid.WithAfterSubmitHook(c.afterSubmit),
		lucid.WithOnSubmitFailureHook(c.onFailure),
	}
}

func (c *Collectors) onIntercept(ic lucid.InterceptContext) error {
	c.Intercepted.WithLabelValues(ic.Method, ic.Kind.String(), strconv.FormatBool(ic.Duplicate)).Inc()
	return nil
}

func (c *Collectors) afterSubmit(sc lucid.SubmitResultContext) error {
	c.Submissions.WithLabelValues(string(sc.Transaction.RequestType())).Inc()
	c.SubmissionDuration.WithLabelValues("success").Observe(sc.Duration.Seconds())
	return nil
}

func (c *Collectors) onFailure(fc lucid.SubmitFailureContext) error {
	code := lucid.ErrorCode(fc.Error)
	if code == "" {
		code = "unknown"
	}
	c.Failures.WithLabelValues(fc.Stage, code).Inc()
	c.SubmissionDuration.WithLabelValues("failure").Observe(fc.Duration.Seconds())
	return nil
}
