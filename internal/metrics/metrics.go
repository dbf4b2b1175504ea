// Package metrics exposes Prometheus counters for the auth core.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	authEvents          *prometheus.CounterVec
	rateLimitDecisions  *prometheus.CounterVec
	rateLimitStoreFails prometheus.Counter
	replays             prometheus.Counter
	mailDeliveries      *prometheus.CounterVec
	cleanupDeleted      *prometheus.CounterVec
	httpResponses       *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskapi_auth_events_total",
			Help: "Authentication flow outcomes by action and status.",
		}, []string{"action", "status"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskapi_rate_limit_decisions_total",
			Help: "Rate limiter decisions by route group.",
		}, []string{"group", "result"}),
		rateLimitStoreFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskapi_rate_limit_store_failures_total",
			Help: "Counter store calls that failed or timed out.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskapi_refresh_replays_total",
			Help: "Refresh tokens presented after rotation or revocation.",
		}),
		mailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskapi_mail_deliveries_total",
			Help: "Outbound mail attempts by kind and result.",
		}, []string{"kind", "result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskapi_cleanup_deleted_total",
			Help: "Expired records removed by the cleanup worker.",
		}, []string{"target"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskapi_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.rateLimitDecisions,
		c.rateLimitStoreFails,
		c.replays,
		c.mailDeliveries,
		c.cleanupDeleted,
		c.httpResponses,
	)

	return c
}

func (c *Collector) RecordAuthEvent(action string, status string) {
	c.authEvents.WithLabelValues(action, status).Inc()
}

func (c *Collector) RecordRateLimit(group string, allowed bool, degraded bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	if degraded {
		result += "_degraded"
	}
	c.rateLimitDecisions.WithLabelValues(group, result).Inc()
}

func (c *Collector) RecordRateLimitStoreFailure() {
	c.rateLimitStoreFails.Inc()
}

func (c *Collector) RecordReplay() {
	c.replays.Inc()
}

func (c *Collector) RecordMailDelivery(kind string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	c.mailDeliveries.WithLabelValues(kind, result).Inc()
}

func (c *Collector) RecordCleanup(target string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(deleted))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
