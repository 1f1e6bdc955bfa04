// Package lifecycle tracks the lifecycle state of a hosted plugin.
package lifecycle

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a plugin.
type State int

const (
	// Registered plugins are known to the host but not loaded yet.
	Registered State = iota
	Loaded
	Active
	Frozen
	Unloaded
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Loaded:
		return "loaded"
	case Active:
		return "active"
	case Frozen:
		return "frozen"
	case Unloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Registered: {Loaded, Unloaded},
	Loaded:     {Active, Unloaded},
	Active:     {Frozen, Unloaded},
	Frozen:     {Active, Unloaded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker holds one plugin's state.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// Current returns the state.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves to the target state, running fn first. The state only
// changes when fn succeeds. Moving to the current state is a no-op.
func (t *Tracker) Transition(to State, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	if !CanTransition(t.state, to) {
		return fmt.Errorf("illegal lifecycle transition %s -> %s", t.state, to)
	}
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	t.state = to
	return nil
}
