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

// Package plugin implements the watch lifecycle shared by every recording plugin:
// translating enhance specs into engine hooks, installing them exactly once and
// removing them by id.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/pkg/config"
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
	"github.com/srediag/plugin-watch/pkg/invocation"
)

// Contract is what a concrete plugin supplies to its Adapter. A plugin that
// embeds *Adapter must define every method itself: the Adapter's own Identity,
// Type and IsEntrance delegate back to the contract.
type Contract interface {
	Identity() string
	Type() invocation.Type
	IsEntrance() bool
	// EnhanceSpecs is called on every install pass and must not be empty.
	EnhanceSpecs() []enhance.Spec
	InvocationProcessor() invocation.Processor
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCallbackAdapter replaces the DefaultCallbackAdapter.
func WithCallbackAdapter(c CallbackAdapter) Option {
	return func(a *Adapter) {
		if c != nil {
			a.callbacks = c
		}
	}
}

// WithTracerProvider records spans around watch and unwatch.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Adapter) { a.tracerProvider = tp }
}

// WithMeterProvider records hook counts.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Adapter) { a.meterProvider = mp }
}

// Adapter is the watch lifecycle manager of one plugin instance. Concrete
// plugins embed it and hand themselves in as the Contract.
type Adapter struct {
	contract  Contract
	callbacks CallbackAdapter

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      *telemetry

	// mu serializes install and removal passes.
	mu      sync.Mutex
	watched atomic.Bool
	hookIDs *hookIDs

	watcher  api.EventWatcher
	listener invocation.Listener

	traces atomic.Pointer[TraceRegistry]
	config atomic.Pointer[config.Config]
}

var _ api.InvokePlugin = (*Adapter)(nil)

// NewAdapter returns an unwatched Adapter for contract.
func NewAdapter(contract Contract, opts ...Option) *Adapter {
	a := &Adapter{
		contract:  contract,
		callbacks: DefaultCallbackAdapter{},
		hookIDs:   newHookIDs(),
	}
	a.traces.Store(NewTraceRegistry())
	for _, opt := range opts {
		opt(a)
	}
	a.telemetry = newTelemetry(contract.Identity(), a.tracerProvider, a.meterProvider)
	return a
}

func (a *Adapter) Identity() string      { return a.contract.Identity() }
func (a *Adapter) Type() invocation.Type { return a.contract.Type() }
func (a *Adapter) IsEntrance() bool      { return a.contract.IsEntrance() }

func (a *Adapter) OnLoaded() error   { return nil }
func (a *Adapter) OnActive() error   { return nil }
func (a *Adapter) OnFrozen() error   { return nil }
func (a *Adapter) OnUnloaded() error { return nil }

// BindTraces makes the default event listeners of this plugin record into r,
// so its sub-invocations join traces opened by the host's entrance plugins.
// It applies to hooks installed afterwards.
func (a *Adapter) BindTraces(r *TraceRegistry) {
	if r != nil {
		a.traces.Store(r)
	}
}

func (a *Adapter) eventListener(listener invocation.Listener) event.Listener {
	if d, ok := a.callbacks.(DefaultCallbackAdapter); ok && d.Traces == nil {
		d.Traces = a.traces.Load()
		return d.EventListener(a.contract, listener)
	}
	return a.callbacks.EventListener(a.contract, listener)
}

// Watched reports whether hooks are installed.
func (a *Adapter) Watched() bool {
	return a.watched.Load()
}

// HookCount returns the number of live hooks.
func (a *Adapter) HookCount() int {
	return a.hookIDs.size()
}

// Config returns the last configuration passed to OnConfigChange.
func (a *Adapter) Config() *config.Config {
	return a.config.Load()
}

// OnConfigChange stores cfg. Plugins that must re-watch on a change override
// it and call ReWatchCurrent.
func (a *Adapter) OnConfigChange(_ context.Context, cfg *config.Config) error {
	a.config.Store(cfg)
	return nil
}

// Enable reports whether cfg lists this plugin's identity.
func (a *Adapter) Enable(cfg *config.Config) bool {
	return cfg.HasPlugin(a.contract.Identity())
}

// Watch installs the plugin's hooks. It is a no-op while hooks are installed.
func (a *Adapter) Watch(ctx context.Context, watcher api.EventWatcher, listener invocation.Listener) (err error) {
	ctx, span := a.telemetry.start(ctx, "watch", a.contract.Identity())
	defer func() { endSpan(span, err) }()

	if a.watched.Load() {
		return nil
	}
	return a.watchIfNecessary(ctx, watcher, listener)
}

// watchIfNecessary runs the install pass. The watcher and listener it installs
// with are the ones UnWatch and ReWatchCurrent fall back to.
func (a *Adapter) watchIfNecessary(ctx context.Context, watcher api.EventWatcher, listener invocation.Listener) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watched.Load() {
		return nil
	}

	identity := a.contract.Identity()
	if watcher == nil {
		return fmt.Errorf("plugin %s: nil event watcher", identity)
	}
	a.watcher = watcher
	a.listener = listener
	specs := a.contract.EnhanceSpecs()
	if len(specs) == 0 {
		return &LifecycleError{Kind: KindEmptySpec, Identity: identity}
	}
	for i, spec := range specs {
		matcher, ok := Translate(spec)
		if !ok {
			internalLogger.Warnf("enhance spec has no method filter, skipped, type=%s, class=%s",
				a.contract.Type(), spec.ClassPattern)
			continue
		}
		hookID, err := watcher.Watch(matcher, a.eventListener(listener), spec.WatchTypes)
		if err != nil {
			// Hooks of earlier specs stay installed; only UnWatch or ReWatch clear them.
			a.watched.Store(true)
			return &LifecycleError{
				Kind:     KindEngineRegistration,
				Identity: identity,
				Err:      fmt.Errorf("spec %d (%s): %w", i, spec.ClassPattern, err),
			}
		}
		if err := a.hookIDs.add(hookID); err != nil {
			a.watched.Store(true)
			return &LifecycleError{Kind: KindEngineRegistration, Identity: identity, Err: err}
		}
		a.telemetry.hooks.Add(ctx, 1, a.telemetry.attrs)
		internalLogger.Infof("add watcher success, type=%s, watcherId=%d", a.contract.Type(), hookID)
		internalLogger.Debugf("watcher %d matches %s on %s", hookID, matcher, spec.WatchTypes)
	}
	a.watched.Store(true)
	a.telemetry.installs.Add(ctx, 1, a.telemetry.attrs)
	return nil
}

// UnWatch removes every installed hook. Failed removals are logged and
// returned together; the remaining hooks are still removed and the adapter
// ends up unwatched. A nil watcher falls back to the one hooks were installed
// with. Without any watcher the hooks are kept and the adapter stays watched.
func (a *Adapter) UnWatch(ctx context.Context, watcher api.EventWatcher, _ invocation.Listener) (err error) {
	ctx, span := a.telemetry.start(ctx, "unwatch", a.contract.Identity())
	defer func() { endSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	if watcher == nil {
		watcher = a.watcher
	}
	if watcher == nil {
		if n := a.hookIDs.size(); n > 0 {
			return &LifecycleError{
				Kind:     KindEngineRemoval,
				Identity: a.contract.Identity(),
				Err:      fmt.Errorf("%d hooks kept: no event watcher", n),
			}
		}
		a.watched.CompareAndSwap(true, false)
		return nil
	}

	var errs []error
	ids, drainErr := a.hookIDs.drain()
	if drainErr != nil {
		errs = append(errs, drainErr)
	}
	for _, id := range ids {
		if derr := watcher.Delete(id); derr != nil {
			internalLogger.Warnf("delete watcher failed, type=%s, watcherId=%d: %v", a.contract.Type(), id, derr)
			errs = append(errs, fmt.Errorf("watcher %d: %w", id, derr))
			continue
		}
		a.telemetry.hooks.Add(ctx, -1, a.telemetry.attrs)
		internalLogger.Infof("delete watcher success, type=%s, watcherId=%d", a.contract.Type(), id)
	}
	a.watched.CompareAndSwap(true, false)

	if len(errs) > 0 {
		return &LifecycleError{Kind: KindEngineRemoval, Identity: a.contract.Identity(), Err: errors.Join(errs...)}
	}
	return nil
}

// ReWatch removes the installed hooks, then installs them again from the
// current enhance specs. Hooks are absent between the two phases.
func (a *Adapter) ReWatch(ctx context.Context, watcher api.EventWatcher, listener invocation.Listener) error {
	unErr := a.UnWatch(ctx, watcher, listener)
	if err := a.Watch(ctx, watcher, listener); err != nil {
		return errors.Join(unErr, err)
	}
	return unErr
}

// ReWatchCurrent re-runs ReWatch with the watcher and listener of the last install pass.
func (a *Adapter) ReWatchCurrent(ctx context.Context) error {
	a.mu.Lock()
	watcher, listener := a.watcher, a.listener
	a.mu.Unlock()
	if watcher == nil {
		return fmt.Errorf("plugin %s: %w", a.contract.Identity(), ErrNotWatched)
	}
	return a.ReWatch(ctx, watcher, listener)
}
