package enhance

import (
	"path"
	"slices"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Matcher selects the methods a single hook intercepts: one class pattern and
// the behaviors accumulated on it. A method is selected when its class matches
// and at least one behavior matches it.
type Matcher struct {
	ClassPattern      string
	IncludeSubClasses bool
	Behaviors         []BehaviorMatcher
}

// BehaviorMatcher is one method filter. All of its conditions must hold.
type BehaviorMatcher struct {
	Name            string
	ParameterTypes  []string
	AnnotationTypes []string
}

// ClassInfo describes a loaded class as seen by the engine.
type ClassInfo struct {
	Name string
	// SuperTypes lists every superclass and implemented interface.
	SuperTypes []string
}

// MethodInfo describes a method as seen by the engine.
type MethodInfo struct {
	Name           string
	ParameterTypes []string
	Annotations    []string
}

// ClassBuilder opens a matcher on a class pattern.
type ClassBuilder struct {
	m Matcher
}

// OnClass starts a matcher for classes matching pattern.
func OnClass(pattern string) *ClassBuilder {
	return &ClassBuilder{m: Matcher{ClassPattern: pattern}}
}

// IncludeSubClasses widens the class match to subclasses and implementors.
func (b *ClassBuilder) IncludeSubClasses() *ClassBuilder {
	b.m.IncludeSubClasses = true
	return b
}

// OnBehavior adds a method filter to the matcher and returns a builder that
// narrows it further.
func (b *ClassBuilder) OnBehavior(name string) *BehaviorBuilder {
	b.m.Behaviors = append(b.m.Behaviors, BehaviorMatcher{Name: name})
	return &BehaviorBuilder{owner: b, idx: len(b.m.Behaviors) - 1}
}

// Build returns a copy of the composed matcher.
func (b *ClassBuilder) Build() Matcher {
	out := Matcher{
		ClassPattern:      b.m.ClassPattern,
		IncludeSubClasses: b.m.IncludeSubClasses,
		Behaviors:         make([]BehaviorMatcher, len(b.m.Behaviors)),
	}
	for i, bm := range b.m.Behaviors {
		out.Behaviors[i] = BehaviorMatcher{
			Name:            bm.Name,
			ParameterTypes:  slices.Clone(bm.ParameterTypes),
			AnnotationTypes: slices.Clone(bm.AnnotationTypes),
		}
	}
	return out
}

// BehaviorBuilder narrows the most recently added method filter.
type BehaviorBuilder struct {
	owner *ClassBuilder
	idx   int
}

// WithParameterTypes requires the exact parameter type sequence.
func (bb *BehaviorBuilder) WithParameterTypes(types ...string) *BehaviorBuilder {
	bb.owner.m.Behaviors[bb.idx].ParameterTypes = slices.Clone(types)
	return bb
}

// HasAnnotationTypes requires every listed annotation on the method.
func (bb *BehaviorBuilder) HasAnnotationTypes(types ...string) *BehaviorBuilder {
	bb.owner.m.Behaviors[bb.idx].AnnotationTypes = slices.Clone(types)
	return bb
}

// Build returns the matcher of the owning class builder.
func (bb *BehaviorBuilder) Build() Matcher {
	return bb.owner.Build()
}

// MatchesClass reports whether c is selected by the class pattern.
func (m Matcher) MatchesClass(c ClassInfo) bool {
	if wildcardMatch(m.ClassPattern, c.Name) {
		return true
	}
	if !m.IncludeSubClasses {
		return false
	}
	for _, st := range c.SuperTypes {
		if wildcardMatch(m.ClassPattern, st) {
			return true
		}
	}
	return false
}

// Matches reports whether method on class c is selected.
func (m Matcher) Matches(c ClassInfo, method MethodInfo) bool {
	if !m.MatchesClass(c) {
		return false
	}
	for _, b := range m.Behaviors {
		if b.Matches(method) {
			return true
		}
	}
	return false
}

// Matches reports whether every condition of the filter holds for method.
func (b BehaviorMatcher) Matches(method MethodInfo) bool {
	if !wildcardMatch(b.Name, method.Name) {
		return false
	}
	if len(b.ParameterTypes) > 0 {
		if len(b.ParameterTypes) != len(method.ParameterTypes) {
			return false
		}
		for i, p := range b.ParameterTypes {
			if !wildcardMatch(p, method.ParameterTypes[i]) {
				return false
			}
		}
	}
	for _, want := range b.AnnotationTypes {
		found := false
		for _, have := range method.Annotations {
			if wildcardMatch(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m Matcher) String() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString("class=")
	_, _ = buf.WriteString(m.ClassPattern)
	if m.IncludeSubClasses {
		_, _ = buf.WriteString("(+sub)")
	}
	_, _ = buf.WriteString(" behaviors=")
	_, _ = buf.WriteString(strconv.Itoa(len(m.Behaviors)))
	for _, b := range m.Behaviors {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(b.Name)
		_ = buf.WriteByte('(')
		for i, p := range b.ParameterTypes {
			if i > 0 {
				_ = buf.WriteByte(',')
			}
			_, _ = buf.WriteString(p)
		}
		_ = buf.WriteByte(')')
		for _, a := range b.AnnotationTypes {
			_, _ = buf.WriteString(" @")
			_, _ = buf.WriteString(a)
		}
	}
	return buf.String()
}

// wildcardMatch treats a malformed pattern as a literal.
func wildcardMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}
