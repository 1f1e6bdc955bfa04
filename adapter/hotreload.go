package adapter

import (
	"context"
	"fmt"

	"github.com/srediag/plugin-watch/pkg/config"
)

// HotReloader reloads plugins and configuration without restarting the host.
type HotReloader interface {
	ReloadPlugin(ctx context.Context, identity string) error
	ReloadConfig(ctx context.Context, path string) error
}

var _ HotReloader = (*Host)(nil)

// ReloadPlugin re-watches one active plugin.
func (h *Host) ReloadPlugin(ctx context.Context, identity string) error {
	return h.Reload(ctx, identity)
}

// ReloadConfig loads the YAML config at path and applies it. A config that
// fails to load leaves the current one in place.
func (h *Host) ReloadConfig(ctx context.Context, path string) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		internalLogger.Errorf("reload config failed, path=%s: %v", path, err)
		return fmt.Errorf("reload config %s: %w", path, err)
	}
	internalLogger.Infof("config reloaded, path=%s, plugins=%v", path, cfg.PluginIdentities)
	return h.ApplyConfig(ctx, cfg)
}
