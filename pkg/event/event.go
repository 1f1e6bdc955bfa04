// Package event defines the call-lifecycle events an instrumentation engine
// delivers to an installed hook.
package event

import (
	"strings"
)

// Type is a call-lifecycle moment a hook can subscribe to.
type Type uint8

const (
	Before Type = 1 << iota
	Return
	Throw
)

func (t Type) String() string {
	switch t {
	case Before:
		return "BEFORE"
	case Return:
		return "RETURN"
	case Throw:
		return "THROWS"
	default:
		return "UNKNOWN"
	}
}

// Types is a set of event types.
type Types uint8

// All subscribes to every call-lifecycle moment.
const All = Types(Before | Return | Throw)

// Of builds a set from the given types.
func Of(types ...Type) Types {
	var s Types
	for _, t := range types {
		s |= Types(t)
	}
	return s
}

// Has reports whether t is in the set.
func (s Types) Has(t Type) bool {
	return s&Types(t) != 0
}

// Empty reports whether the set holds no type.
func (s Types) Empty() bool {
	return s&All == 0
}

// List returns the members in Before, Return, Throw order.
func (s Types) List() []Type {
	var out []Type
	for _, t := range []Type{Before, Return, Throw} {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s Types) String() string {
	list := s.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.String()
	}
	return "[" + strings.Join(names, ",") + "]"
}

// Event is one intercepted call moment.
//
// ProcessID groups the events of one call stack; InvokeID is unique per call
// and is shared by the Before event and its Return or Throw event.
type Event struct {
	Type      Type
	ProcessID int
	InvokeID  int
	TraceID   string

	ClassName      string
	MethodName     string
	ParameterTypes []string
	Args           []any

	// Set on Return events.
	ReturnValue any
	// Set on Throw events.
	Err error
}

// Listener receives events from an installed hook.
type Listener interface {
	OnEvent(ev *Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev *Event) error

func (f ListenerFunc) OnEvent(ev *Event) error {
	return f(ev)
}
