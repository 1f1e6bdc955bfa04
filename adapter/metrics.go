package adapter

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-watch/plugin"
)

const metricsNamespace = "plugin_watch"

type hostMetrics struct {
	watchAttempts *prometheus.CounterVec
	hooks         *prometheus.GaugeVec
	active        prometheus.Gauge
}

func newHostMetrics(reg prometheus.Registerer) (*hostMetrics, error) {
	m := &hostMetrics{
		watchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watch_attempts_total",
			Help:      "Watch and rewatch attempts by plugin and result.",
		}, []string{"plugin", "result"}),
		hooks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "hooks",
			Help:      "Hooks installed per plugin.",
		}, []string{"plugin"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_plugins",
			Help:      "Plugins in the active state.",
		}),
	}
	for _, c := range []prometheus.Collector{m.watchAttempts, m.hooks, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register host metrics: %w", err)
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, plugin.ErrEmptySpec):
		return "empty_spec"
	case errors.Is(err, plugin.ErrEngineRegistration):
		return "registration_failure"
	case errors.Is(err, plugin.ErrEngineRemoval):
		return "removal_failure"
	default:
		return "error"
	}
}
