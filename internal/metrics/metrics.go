package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Submissions     *prometheus.CounterVec
	BadgesAwarded   *prometheus.CounterVec
	AuditFailures   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submissions_total",
				Help: "Graded quiz submissions by outcome",
			},
			[]string{"outcome"},
		),
		BadgesAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "badges_awarded_total",
				Help: "Badges awarded by badge id",
			},
			[]string{"badge"},
		),
		AuditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_emit_failures_total",
				Help: "Audit events a sink failed to accept",
			},
			[]string{"sink"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.RequestCounter, m.RequestDuration, m.Submissions, m.BadgesAwarded, m.AuditFailures)
	return m
}

func (m *Metrics) SubmissionGraded(passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BadgeAwarded(badgeID string) {
	m.BadgesAwarded.WithLabelValues(badgeID).Inc()
}

func (m *Metrics) AuditEmitFailed(sink string) {
	m.AuditFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
