package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/layer-3/gatekeeper/core"
)

const outcomeSuccess = "success"

// Metrics are the Prometheus collectors of the HTTP surface
type Metrics struct {
	authAttempts    *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "sessions_issued_total",
			Help:      "Sessions issued by authentication method.",
		}, []string{"method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.authAttempts, m.sessionsIssued, m.requestDuration)
	return m
}

// recordAttempt counts one authentication attempt. A nil err is a success.
func (m *Metrics) recordAttempt(method core.AuthMethod, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = core.Code(err)
	} else {
		m.sessionsIssued.WithLabelValues(string(method)).Inc()
	}
	m.authAttempts.WithLabelValues(string(method), outcome).Inc()
}

// Middleware observes request latency per matched route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
