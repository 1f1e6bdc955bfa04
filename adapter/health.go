package adapter

import (
	"errors"
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/pkg/lifecycle"
)

const maxGoroutines = 10000

// HealthHandler serves /live and /ready. Readiness fails while an active
// plugin has no hooks installed.
func (h *Host) HealthHandler() healthcheck.Handler {
	return h.health
}

func newHealthHandler(h *Host) healthcheck.Handler {
	hc := healthcheck.NewMetricsHandler(h.registerer, metricsNamespace)
	hc.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.AddLivenessCheck("worker-pool", func() error {
		if h.pool.IsClosed() {
			return errors.New("worker pool released")
		}
		return nil
	})
	hc.AddReadinessCheck("config", func() error {
		if h.config.Load() == nil {
			return errors.New("no config applied")
		}
		return nil
	})
	return hc
}

func (h *Host) addReadinessCheck(identity string) {
	h.health.AddReadinessCheck("plugin-"+identity, func() error {
		e, ok := h.plugins.Get(identity)
		if !ok {
			return nil
		}
		if e.state.Current() != lifecycle.Active {
			return nil
		}
		ws, ok := e.plugin.(api.WatchState)
		if !ok {
			return nil
		}
		if !ws.Watched() || ws.HookCount() == 0 {
			return fmt.Errorf("plugin %s is active without hooks", identity)
		}
		return nil
	})
}
