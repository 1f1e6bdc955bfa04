/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-watch/pkg/event"
	"github.com/srediag/plugin-watch/pkg/invocation"
)

// CallbackAdapter turns an invocation listener into the event listener a hook
// is registered with. Plugins swap it to change how raw events map to invocations.
type CallbackAdapter interface {
	EventListener(c Contract, listener invocation.Listener) event.Listener
}

// CallbackAdapterFunc adapts a function to CallbackAdapter.
type CallbackAdapterFunc func(c Contract, listener invocation.Listener) event.Listener

func (f CallbackAdapterFunc) EventListener(c Contract, listener invocation.Listener) event.Listener {
	return f(c, listener)
}

// DefaultCallbackAdapter builds a DefaultEventListener per registration.
type DefaultCallbackAdapter struct {
	// Traces is shared by every plugin of a host. Nil gives each listener its
	// own registry; an Adapter substitutes the one bound with BindTraces.
	Traces *TraceRegistry
}

func (d DefaultCallbackAdapter) EventListener(c Contract, listener invocation.Listener) event.Listener {
	l := NewDefaultEventListener(c.Type(), c.IsEntrance(), listener, c.InvocationProcessor())
	if d.Traces != nil {
		l.traces = d.Traces
	}
	return l
}

type traceContext struct {
	id  string
	seq atomic.Int32
}

// TraceRegistry binds the calls of one process id to the trace opened by its
// entrance invocation, so sub-invocations recorded by other plugins join it.
type TraceRegistry struct {
	m cmap.ConcurrentMap[string, *traceContext]
}

func NewTraceRegistry() *TraceRegistry {
	return &TraceRegistry{m: cmap.New[*traceContext]()}
}

// Start opens a trace for processID. An empty traceID gets a generated one.
func (r *TraceRegistry) Start(processID int, traceID string) string {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	r.m.Set(strconv.Itoa(processID), &traceContext{id: traceID})
	return traceID
}

// next returns the trace id and the next sub-invocation index for processID.
func (r *TraceRegistry) next(processID int) (string, int, bool) {
	tc, ok := r.m.Get(strconv.Itoa(processID))
	if !ok {
		return "", 0, false
	}
	return tc.id, int(tc.seq.Add(1)), true
}

// TraceID returns the open trace of processID.
func (r *TraceRegistry) TraceID(processID int) (string, bool) {
	tc, ok := r.m.Get(strconv.Itoa(processID))
	if !ok {
		return "", false
	}
	return tc.id, true
}

// End closes the trace of processID.
func (r *TraceRegistry) End(processID int) {
	r.m.Remove(strconv.Itoa(processID))
}

// Active returns the number of open traces.
func (r *TraceRegistry) Active() int {
	return r.m.Count()
}

// DefaultEventListener builds an Invocation on Before and hands it to the
// invocation listener once the call returns or throws.
type DefaultEventListener struct {
	invokeType invocation.Type
	entrance   bool
	listener   invocation.Listener
	processor  invocation.Processor

	inflight cmap.ConcurrentMap[string, *invocation.Invocation]
	traces   *TraceRegistry
	now      func() time.Time
}

func NewDefaultEventListener(t invocation.Type, entrance bool, listener invocation.Listener, processor invocation.Processor) *DefaultEventListener {
	return &DefaultEventListener{
		invokeType: t,
		entrance:   entrance,
		listener:   listener,
		processor:  processor,
		inflight:   cmap.New[*invocation.Invocation](),
		traces:     NewTraceRegistry(),
		now:        time.Now,
	}
}

// Pending returns the number of calls entered but not completed.
func (l *DefaultEventListener) Pending() int {
	return l.inflight.Count()
}

// OnEvent never fails the intercepted call: processor panics are logged and dropped.
func (l *DefaultEventListener) OnEvent(ev *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			internalLogger.Errorf("event listener panic, type=%s, event=%s, invokeId=%d: %v",
				l.invokeType, ev.Type, ev.InvokeID, r)
		}
	}()
	if l.processor.IgnoreEvent(ev) {
		return nil
	}
	switch ev.Type {
	case event.Before:
		l.doBefore(ev)
	case event.Return:
		l.doComplete(ev, func(inv *invocation.Invocation) {
			inv.Response = l.processor.AssembleResponse(ev)
		})
	case event.Throw:
		l.doComplete(ev, func(inv *invocation.Invocation) {
			inv.Throwable = l.processor.AssembleThrowable(ev)
		})
	}
	return nil
}

func (l *DefaultEventListener) doBefore(ev *event.Event) {
	var (
		traceID string
		index   int
	)
	if l.entrance {
		traceID = l.traces.Start(ev.ProcessID, ev.TraceID)
	} else {
		var ok bool
		traceID, index, ok = l.traces.next(ev.ProcessID)
		if !ok {
			internalLogger.Tracef("no trace for sub invocation, type=%s, processId=%d", l.invokeType, ev.ProcessID)
			return
		}
	}
	inv := &invocation.Invocation{
		TraceID:   traceID,
		Index:     index,
		InvokeID:  ev.InvokeID,
		ProcessID: ev.ProcessID,
		Entrance:  l.entrance,
		Type:      l.invokeType,
		Identity:  l.processor.AssembleIdentity(ev),
		Request:   l.processor.AssembleRequest(ev),
		Start:     l.now(),
	}
	l.inflight.Set(strconv.Itoa(ev.InvokeID), inv)
}

func (l *DefaultEventListener) doComplete(ev *event.Event, fill func(inv *invocation.Invocation)) {
	inv, ok := l.inflight.Pop(strconv.Itoa(ev.InvokeID))
	if !ok {
		internalLogger.Debugf("no invocation cached, type=%s, invokeId=%d", l.invokeType, ev.InvokeID)
		return
	}
	if l.entrance {
		defer l.traces.End(ev.ProcessID)
	}
	fill(inv)
	inv.End = l.now()
	l.listener.OnInvocation(inv)
}
