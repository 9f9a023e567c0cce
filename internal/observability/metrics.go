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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	broadcastSendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_sends_total",
			Help: "Total number of successful broadcast deliveries.",
		},
	)
	broadcastFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_failures_total",
			Help: "Total number of broadcast deliveries that failed and were skipped.",
		},
	)
	aiTriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ai_triggers_total",
			Help: "Total number of messages that triggered the AI pipeline.",
		},
	)
	aiResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ai_responses_total",
			Help: "Total number of AI pipeline completions by outcome.",
		},
		[]string{"outcome"},
	)
	aiDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ai_dropped_total",
			Help: "Total number of AI jobs dropped because the queue was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
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
		broadcastSendsTotal,
		broadcastFailuresTotal,
		aiTriggersTotal,
		aiResponsesTotal,
		aiDroppedTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
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

func IncBroadcastSend() {
	broadcastSendsTotal.Inc()
}

func IncBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

func IncAITrigger() {
	aiTriggersTotal.Inc()
}

func IncAIResponse(outcome string) {
	aiResponsesTotal.WithLabelValues(outcome).Inc()
}

func IncAIDropped() {
	aiDroppedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
