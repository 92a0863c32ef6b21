package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socialhub_ws_connections",
		Help: "Current number of active realtime websocket connections",
	})
	RealtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialhub_realtime_events_total",
		Help: "Total number of realtime envelopes fanned out, by type",
	}, []string{"type"})
	SlowConsumersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socialhub_realtime_slow_consumers_total",
		Help: "Connections dropped because their send buffer was full",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socialhub_messages_total",
		Help: "Total number of direct messages stored",
	})
	NotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socialhub_notifications_total",
		Help: "Total number of notifications stored",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, RealtimeEventsTotal, SlowConsumersTotal, MessagesTotal, NotificationsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
