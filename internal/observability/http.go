package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry returns the registry holding the workshop collectors.
func Registry() *prometheus.Registry {
	RegisterMetrics()
	return registry
}

// MetricsHandler serves the workshop registry in the Prometheus text or
// OpenMetrics format. Collector errors are counted, not fatal.
func MetricsHandler() fiber.Handler {
	reg := Registry()
	handler := promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))
	return adaptor.HTTPHandler(handler)
}
