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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
	"github.com/srediag/plugin-watch/pkg/invocation"
)

const (
	opWatch  = "watch"
	opDelete = "delete"
)

type watcherOp struct {
	kind     string
	id       api.HookID
	matcher  enhance.Matcher
	types    event.Types
	listener event.Listener
}

// recordingWatcher is an engine that records every call in order.
type recordingWatcher struct {
	mu         sync.Mutex
	nextID     int
	ops        []watcherOp
	live       map[api.HookID]bool
	failWatch  map[int]error // by 1-based watch call number
	failDelete map[api.HookID]error
	delay      time.Duration

	watchCalls atomic.Int32
}

func newRecordingWatcher() *recordingWatcher {
	return &recordingWatcher{
		nextID:     100,
		live:       make(map[api.HookID]bool),
		failWatch:  make(map[int]error),
		failDelete: make(map[api.HookID]error),
	}
}

func (w *recordingWatcher) Watch(m enhance.Matcher, l event.Listener, types event.Types) (api.HookID, error) {
	n := int(w.watchCalls.Add(1))
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failWatch[n]; err != nil {
		return 0, err
	}
	w.nextID++
	id := api.HookID(w.nextID)
	w.live[id] = true
	w.ops = append(w.ops, watcherOp{kind: opWatch, id: id, matcher: m, types: types, listener: l})
	return id, nil
}

func (w *recordingWatcher) Delete(id api.HookID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = append(w.ops, watcherOp{kind: opDelete, id: id})
	if err := w.failDelete[id]; err != nil {
		return err
	}
	if !w.live[id] {
		return errors.New("unknown hook")
	}
	delete(w.live, id)
	return nil
}

func (w *recordingWatcher) snapshot() []watcherOp {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]watcherOp(nil), w.ops...)
}

func (w *recordingWatcher) kinds() []string {
	ops := w.snapshot()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.kind
	}
	return out
}

func (w *recordingWatcher) liveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live)
}

func (w *recordingWatcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = nil
}

// stubContract is a plugin whose specs can change between passes.
type stubContract struct {
	identity string
	entrance bool

	mu        sync.Mutex
	specs     []enhance.Spec
	specCalls atomic.Int32
}

func (c *stubContract) Identity() string      { return c.identity }
func (c *stubContract) Type() invocation.Type { return invocation.TypeJava }
func (c *stubContract) IsEntrance() bool      { return c.entrance }

func (c *stubContract) EnhanceSpecs() []enhance.Spec {
	c.specCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.specs
}

func (c *stubContract) InvocationProcessor() invocation.Processor {
	return invocation.NewDefaultProcessor(invocation.TypeJava)
}

func (c *stubContract) setSpecs(specs ...enhance.Spec) {
	c.mu.Lock()
	c.specs = specs
	c.mu.Unlock()
}

func serviceSpec(class string, methods ...string) enhance.Spec {
	return enhance.NewSpec(class, event.Of(event.Before, event.Return, event.Throw), methods...)
}

type recordedInvocations struct {
	mu   sync.Mutex
	invs []*invocation.Invocation
}

func (r *recordedInvocations) OnInvocation(inv *invocation.Invocation) {
	r.mu.Lock()
	r.invs = append(r.invs, inv)
	r.mu.Unlock()
}

func (r *recordedInvocations) all() []*invocation.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*invocation.Invocation(nil), r.invs...)
}
