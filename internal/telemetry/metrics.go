package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/devbundle"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram

	// Hot reload metrics
	HotClients metric.Int64UpDownCounter

	// Proxy metrics
	ProxyRequestsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Until InitTelemetry installs a provider the instruments are no-ops.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"devbundle.builds",
		metric.WithDescription("Total number of completed bundle builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"devbundle.build.errors",
		metric.WithDescription("Total number of errors reported by bundle builds"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"devbundle.build.duration",
		metric.WithDescription("Duration of bundle builds"),
		metric.WithUnit("ms"),
	)

	m.HotClients, _ = meter.Int64UpDownCounter(
		"devbundle.hot.clients",
		metric.WithDescription("Number of connected hot reload clients"),
		metric.WithUnit("{client}"),
	)

	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"devbundle.proxy.requests",
		metric.WithDescription("Total number of requests forwarded by proxy rules"),
		metric.WithUnit("{request}"),
	)

	return m
}
