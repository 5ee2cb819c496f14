package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin runtime.
type Metrics struct {
	registry *prometheus.Registry

	// Enforcement metrics
	EnforcementDecisionsTotal *prometheus.CounterVec
	EnforcementDuration       *prometheus.HistogramVec

	// Hook metrics
	HookDispatchTotal      *prometheus.CounterVec
	HookHandlerErrorsTotal *prometheus.CounterVec

	// Mount metrics
	MountedPlugins prometheus.Gauge
	MountedRoutes  prometheus.Gauge
	MountFailures  *prometheus.CounterVec

	// State store metrics
	StateLookupDuration *prometheus.HistogramVec
	StateLookupErrors   prometheus.Counter

	// Manifest drift
	ManifestDriftTotal prometheus.Counter

	// Quarantine transitions
	QuarantinesTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		EnforcementDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_enforcement_decisions_total",
				Help: "Enforcement middleware outcomes per plugin",
			},
			[]string{"plugin_id", "outcome"},
		),
		EnforcementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_enforcement_duration_seconds",
				Help:    "Time spent in the enforcement middleware",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin_id"},
		),

		HookDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_dispatch_total",
				Help: "Hook dispatches by hook name and kind",
			},
			[]string{"hook", "kind"},
		),
		HookHandlerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_handler_errors_total",
				Help: "Isolated hook handler failures per plugin",
			},
			[]string{"hook", "plugin_id"},
		),

		MountedPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mounted_plugins",
			Help: "Plugins with mounted routes",
		}),
		MountedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mounted_routes",
			Help: "Routes mounted across all plugins",
		}),
		MountFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_mount_failures_total",
				Help: "Mount failures per plugin and reason",
			},
			[]string{"plugin_id", "reason"},
		),

		StateLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_state_lookup_duration_seconds",
				Help:    "Tenant-scoped plugin state lookup latency",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"plugin_id"},
		),
		StateLookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plugin_state_lookup_errors_total",
			Help: "Plugin state lookups that failed hard",
		}),

		ManifestDriftTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manifest_drift_total",
			Help: "Manifest files changed on disk after boot",
		}),

		QuarantinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plugin_quarantines_total",
			Help: "Plugin quarantine transitions",
		}),
	}

	registry.MustRegister(
		m.EnforcementDecisionsTotal,
		m.EnforcementDuration,
		m.HookDispatchTotal,
		m.HookHandlerErrorsTotal,
		m.MountedPlugins,
		m.MountedRoutes,
		m.MountFailures,
		m.StateLookupDuration,
		m.StateLookupErrors,
		m.ManifestDriftTotal,
		m.QuarantinesTotal,
	)

	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
