package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// OrdersTotal counts order submissions by action and market.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_orders_total",
			Help: "Total number of orders by action",
		},
		[]string{"action", "market"},
	)

	// FillsTotal counts executed fills per market.
	FillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_fills_total",
			Help: "Total number of fills by market",
		},
		[]string{"market"},
	)

	// StateUpdatesTotal counts committed channel checkpoints.
	StateUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trade_state_updates_total",
			Help: "Total number of committed channel state updates",
		},
	)

	// ChannelsOpen tracks channels by status.
	ChannelsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trade_channels",
			Help: "Current number of channels by status",
		},
		[]string{"status"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
