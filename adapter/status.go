package adapter

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/srediag/plugin-watch/api"
)

// PluginStatus is the state of one hosted plugin.
type PluginStatus struct {
	Identity string
	Type     string
	State    string
	Watched  bool
	Hooks    int
}

// Status is a snapshot of the host and the process it runs in.
type Status struct {
	PID        int32
	RSS        uint64
	CPUPercent float64
	Degraded   bool
	Plugins    []PluginStatus
}

// Status reports plugin states and process usage. Process figures are zero
// when the platform does not expose them.
func (h *Host) Status() Status {
	st := Status{PID: int32(os.Getpid())}
	if cfg := h.config.Load(); cfg != nil {
		st.Degraded = cfg.Degrade
	}
	if proc, err := process.NewProcess(st.PID); err != nil {
		internalLogger.Debugf("process info unavailable: %v", err)
	} else {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			st.RSS = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
	}

	for _, identity := range h.Plugins() {
		e, ok := h.plugins.Get(identity)
		if !ok {
			continue
		}
		ps := PluginStatus{
			Identity: identity,
			Type:     e.plugin.Type().String(),
			State:    e.state.Current().String(),
		}
		if ws, ok := e.plugin.(api.WatchState); ok {
			ps.Watched = ws.Watched()
			ps.Hooks = ws.HookCount()
		}
		st.Plugins = append(st.Plugins, ps)
	}
	return st
}
