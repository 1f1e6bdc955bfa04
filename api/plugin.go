// Package api defines public API contracts for plugin-watch.
package api

import (
	"context"

	"github.com/srediag/plugin-watch/pkg/invocation"
)

// InvokePlugin is a recording plugin as seen by the hosting runtime.
type InvokePlugin interface {
	Lifecycle
	ConfigAware

	Identity() string
	Type() invocation.Type
	IsEntrance() bool

	// Watch installs the plugin's hooks on the engine. Repeated calls are no-ops.
	Watch(ctx context.Context, watcher EventWatcher, listener invocation.Listener) error
	// UnWatch removes every hook installed by Watch.
	UnWatch(ctx context.Context, watcher EventWatcher, listener invocation.Listener) error
	// ReWatch removes the installed hooks and installs them again.
	ReWatch(ctx context.Context, watcher EventWatcher, listener invocation.Listener) error
}

// WatchState is implemented by plugins that expose their install state.
type WatchState interface {
	Watched() bool
	HookCount() int
}
