// Package enhance describes which classes and methods a plugin intercepts and
// builds the matchers handed to the instrumentation engine.
package enhance

import (
	"github.com/srediag/plugin-watch/pkg/event"
)

// Spec is a declarative description of one class and the methods to intercept on it.
type Spec struct {
	// ClassPattern is an exact class name or a wildcard pattern.
	ClassPattern string
	// IncludeSubClasses widens the match to subclasses and implementors.
	IncludeSubClasses bool
	// MethodFilters are applied in order onto a single matcher.
	MethodFilters []MethodFilter
	// WatchTypes are the call-lifecycle moments to subscribe to.
	WatchTypes event.Types
}

// MethodFilter narrows a class matcher to a set of methods.
type MethodFilter struct {
	// Name is an exact method name or a wildcard pattern.
	Name string
	// ParameterTypes must match the method signature exactly, in order. Empty matches any.
	ParameterTypes []string
	// AnnotationTypes must all be present on the method. Empty requires none.
	AnnotationTypes []string
}

// NewSpec is a convenience for a spec with one filter per method name.
func NewSpec(classPattern string, types event.Types, methodNames ...string) Spec {
	filters := make([]MethodFilter, 0, len(methodNames))
	for _, name := range methodNames {
		filters = append(filters, MethodFilter{Name: name})
	}
	return Spec{
		ClassPattern:  classPattern,
		MethodFilters: filters,
		WatchTypes:    types,
	}
}
