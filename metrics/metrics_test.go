package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDeviceOperation(t *testing.T) {
	ok := testutil.ToFloat64(deviceOperationsTotal.WithLabelValues("shutdown", "success"))
	failed := testutil.ToFloat64(deviceOperationsTotal.WithLabelValues("shutdown", "failure"))

	ObserveDeviceOperation("shutdown", 120*time.Millisecond, nil)
	ObserveDeviceOperation("shutdown", time.Second, errors.New("ssh: handshake failed"))

	assert.Equal(t, ok+1, testutil.ToFloat64(deviceOperationsTotal.WithLabelValues("shutdown", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(deviceOperationsTotal.WithLabelValues("shutdown", "failure")))
}

func TestGauges(t *testing.T) {
	UpdateCounterStreams(3)
	UpdateCounterPollers(2)
	assert.Equal(t, float64(3), testutil.ToFloat64(counterStreams))
	assert.Equal(t, float64(2), testutil.ToFloat64(counterPollers))
}

func TestPrometheusMiddlewareUsesRoutePattern(t *testing.T) {
	app := fiber.New()
	app.Use(PrometheusMiddleware())
	app.Get("/regions/:id/subregions", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/regions/:id/subregions", "200"))
	resp, err := app.Test(httptest.NewRequest("GET", "/regions/7/subregions", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/regions/:id/subregions", "200")))
}
