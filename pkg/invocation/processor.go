package invocation

import (
	"slices"
	"strings"

	"github.com/srediag/plugin-watch/pkg/event"
)

// DefaultProcessor records arguments, return value and error as delivered by
// the engine. The identity is <scheme>://<class>/<method>(<params>).
type DefaultProcessor struct {
	Type Type
	// IgnoredMethods are method names whose events are dropped.
	IgnoredMethods []string
}

func NewDefaultProcessor(t Type) *DefaultProcessor {
	return &DefaultProcessor{Type: t}
}

func (p *DefaultProcessor) IgnoreEvent(ev *event.Event) bool {
	return slices.Contains(p.IgnoredMethods, ev.MethodName)
}

func (p *DefaultProcessor) AssembleIdentity(ev *event.Event) Identity {
	return Identity{
		Scheme:   strings.ToLower(p.Type.String()),
		Location: ev.ClassName,
		Endpoint: ev.MethodName + "(" + strings.Join(ev.ParameterTypes, ",") + ")",
	}
}

func (p *DefaultProcessor) AssembleRequest(ev *event.Event) []any {
	return slices.Clone(ev.Args)
}

func (p *DefaultProcessor) AssembleResponse(ev *event.Event) any {
	return ev.ReturnValue
}

func (p *DefaultProcessor) AssembleThrowable(ev *event.Event) error {
	return ev.Err
}
