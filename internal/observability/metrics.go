package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textly_http_requests_total",
			Help: "Total number of HTTP requests processed by the textly server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textly_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textly_ws_active_connections",
			Help: "Number of active realtime websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textly_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	changeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textly_change_events_delivered_total",
			Help: "Row change events delivered to realtime subscribers.",
		},
		[]string{"table", "type"},
	)
	securityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textly_security_events_total",
			Help: "Security relevant events by name.",
		},
		[]string{"event"},
	)
	assistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textly_assist_duration_seconds",
			Help:    "Latency of language model calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"action", "outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textly_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		changeEventsTotal,
		securityEventsTotal,
		assistDuration,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncChangeDelivered(table, typ string) {
	changeEventsTotal.WithLabelValues(table, typ).Inc()
}

func IncSecurityEvent(event string) {
	securityEventsTotal.WithLabelValues(event).Inc()
}

func ObserveAssist(action, outcome string, d time.Duration) {
	assistDuration.WithLabelValues(action, outcome).Observe(d.Seconds())
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
