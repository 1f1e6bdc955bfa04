// Package sandbox is an in-memory instrumentation engine. It keeps a hook
// table and delivers call events to the hooks whose matcher selects a call.
package sandbox

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/internal/logging"
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
)

var internalLogger = logging.New("sandbox")

var (
	ErrHookNotFound = errors.New("hook not found")
	ErrNilListener  = errors.New("listener is nil")
	ErrNoEventTypes = errors.New("no event types to watch")
)

type hook struct {
	id       api.HookID
	matcher  enhance.Matcher
	listener event.Listener
	types    event.Types
}

// Engine implements api.EventWatcher.
type Engine struct {
	hooks      cmap.ConcurrentMap[string, *hook]
	nextHook   atomic.Int64
	nextInvoke atomic.Int64
}

var _ api.EventWatcher = (*Engine)(nil)

func New() *Engine {
	return &Engine{hooks: cmap.New[*hook]()}
}

func (e *Engine) Watch(matcher enhance.Matcher, listener event.Listener, types event.Types) (api.HookID, error) {
	if listener == nil {
		return 0, ErrNilListener
	}
	if types.Empty() {
		return 0, ErrNoEventTypes
	}
	id := api.HookID(e.nextHook.Add(1))
	e.hooks.Set(hookKey(id), &hook{id: id, matcher: matcher, listener: listener, types: types})
	internalLogger.Debugf("hook %d installed, %s on %s", id, matcher, types)
	return id, nil
}

func (e *Engine) Delete(id api.HookID) error {
	if _, ok := e.hooks.Pop(hookKey(id)); !ok {
		return fmt.Errorf("delete hook %d: %w", id, ErrHookNotFound)
	}
	internalLogger.Debugf("hook %d removed", id)
	return nil
}

// HookCount returns the number of installed hooks.
func (e *Engine) HookCount() int {
	return e.hooks.Count()
}

// HookIDs returns the installed hook ids in ascending order.
func (e *Engine) HookIDs() []api.HookID {
	ids := make([]api.HookID, 0, e.hooks.Count())
	for item := range e.hooks.IterBuffered() {
		ids = append(ids, item.Val.id)
	}
	slices.Sort(ids)
	return ids
}

// Call runs fn as an intercepted method of class. Hooks selecting the method
// see Before, then Return with fn's result or Throw with its error. Listener
// errors are logged and never change the outcome of fn.
func (e *Engine) Call(processID int, class enhance.ClassInfo, method enhance.MethodInfo, args []any, fn func() (any, error)) (any, error) {
	matched := e.matching(class, method)
	base := event.Event{
		ProcessID:      processID,
		InvokeID:       int(e.nextInvoke.Add(1)),
		ClassName:      class.Name,
		MethodName:     method.Name,
		ParameterTypes: method.ParameterTypes,
		Args:           args,
	}

	e.deliver(matched, base, event.Before)
	ret, err := fn()
	if err != nil {
		base.Err = err
		e.deliver(matched, base, event.Throw)
		return nil, err
	}
	base.ReturnValue = ret
	e.deliver(matched, base, event.Return)
	return ret, nil
}

func (e *Engine) matching(class enhance.ClassInfo, method enhance.MethodInfo) []*hook {
	var out []*hook
	for item := range e.hooks.IterBuffered() {
		if item.Val.matcher.Matches(class, method) {
			out = append(out, item.Val)
		}
	}
	slices.SortFunc(out, func(a, b *hook) int { return int(a.id) - int(b.id) })
	return out
}

func (e *Engine) deliver(hooks []*hook, base event.Event, t event.Type) {
	for _, h := range hooks {
		if !h.types.Has(t) {
			continue
		}
		ev := base
		ev.Type = t
		if err := h.listener.OnEvent(&ev); err != nil {
			internalLogger.Warnf("listener of hook %d failed on %s: %v", h.id, t, err)
		}
	}
}

func hookKey(id api.HookID) string {
	return strconv.Itoa(int(id))
}
