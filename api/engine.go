// Package api defines public API contracts for plugin-watch.
package api

import (
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
)

// HookID identifies an installed hook.
type HookID int

// EventWatcher is the registration API of the instrumentation engine.
type EventWatcher interface {
	// Watch installs a hook delivering the given event types of every method
	// selected by matcher to listener.
	Watch(matcher enhance.Matcher, listener event.Listener, types event.Types) (HookID, error)
	// Delete removes the hook.
	Delete(id HookID) error
}
