package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netops_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Device metrics
	deviceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_device_operations_total",
			Help: "Total number of device operations",
		},
		[]string{"operation", "result"}, // result: success, failure
	)

	deviceOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netops_device_operation_duration_seconds",
			Help:    "Device operation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"operation"},
	)

	deviceSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_device_sessions_total",
			Help: "Device session attempts by transport",
		},
		[]string{"transport", "result"}, // transport: ssh, netconf
	)

	// NetBox metrics
	netboxRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_netbox_requests_total",
			Help: "Total number of NetBox API requests",
		},
		[]string{"result"}, // ok, http_error, transport_error
	)

	// MAC vendor metrics
	macVendorLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_macvendor_lookups_total",
			Help: "MAC vendor lookups by outcome",
		},
		[]string{"result"}, // hit, found, not_found, error, no_token
	)

	// Cache metrics
	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_cache_operations_total",
			Help: "Cache lookups by namespace and outcome",
		},
		[]string{"namespace", "result"}, // hit, miss, error
	)

	// WebSocket metrics
	counterStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netops_counter_streams",
			Help: "Number of connected counter WebSocket clients",
		},
	)

	counterPollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netops_counter_pollers",
			Help: "Number of running interface counter pollers",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netops_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// ObserveDeviceOperation records the outcome and latency of a device operation
func ObserveDeviceOperation(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	deviceOperationsTotal.WithLabelValues(operation, result).Inc()
	deviceOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementDeviceSession counts a session attempt for transport ("ssh", "netconf")
func IncrementDeviceSession(transport string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	deviceSessionsTotal.WithLabelValues(transport, result).Inc()
}

// IncrementNetBoxRequest counts a NetBox API call by result
func IncrementNetBoxRequest(result string) {
	netboxRequestsTotal.WithLabelValues(result).Inc()
}

// IncrementMacVendorLookup counts a MAC vendor lookup by result
func IncrementMacVendorLookup(result string) {
	macVendorLookupsTotal.WithLabelValues(result).Inc()
}

// IncrementCacheOperation counts a cache lookup
func IncrementCacheOperation(namespace, result string) {
	cacheOperationsTotal.WithLabelValues(namespace, result).Inc()
}

// UpdateCounterStreams updates the connected counter stream gauge
func UpdateCounterStreams(count int) {
	counterStreams.Set(float64(count))
}

// UpdateCounterPollers updates the running poller gauge
func UpdateCounterPollers(count int) {
	counterPollers.Set(float64(count))
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
