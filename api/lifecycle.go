// Package api defines public API contracts for plugin-watch.
package api

import (
	"context"

	"github.com/srediag/plugin-watch/pkg/config"
)

// Lifecycle is called by the hosting runtime as a plugin moves through its states.
type Lifecycle interface {
	OnLoaded() error
	OnActive() error
	OnFrozen() error
	OnUnloaded() error
}

// ConfigAware plugins receive every configuration pushed by the host.
type ConfigAware interface {
	OnConfigChange(ctx context.Context, cfg *config.Config) error
	// Enable reports whether cfg allows this plugin to watch.
	Enable(cfg *config.Config) bool
}
