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

// Package adapter hosts recording plugins on an instrumentation engine: it
// drives their lifecycle, fans configuration out to them and exposes their
// health and metrics.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/internal/logging"
	"github.com/srediag/plugin-watch/pkg/config"
	"github.com/srediag/plugin-watch/pkg/invocation"
	"github.com/srediag/plugin-watch/pkg/lifecycle"
	"github.com/srediag/plugin-watch/plugin"
)

const (
	defaultPoolSize      = 8
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
	shutdownTimeout      = 5 * time.Second
)

var internalLogger = logging.New("host")

var (
	ErrDuplicatePlugin = errors.New("plugin already registered")
	ErrUnknownPlugin   = errors.New("plugin not registered")
	ErrNotActive       = errors.New("plugin is not active")
	ErrHostClosed      = errors.New("host is shut down")
)

// HostOption configures a Host.
type HostOption func(*Host)

// WithPoolSize bounds the number of plugins configured concurrently.
func WithPoolSize(n int) HostOption {
	return func(h *Host) {
		if n > 0 {
			h.poolSize = n
		}
	}
}

// WithRetry sets how often and how fast a failed engine registration is retried.
func WithRetry(maxRetries uint64, interval time.Duration) HostOption {
	return func(h *Host) {
		h.maxRetries = maxRetries
		if interval > 0 {
			h.retryInterval = interval
		}
	}
}

// WithRegisterer registers host metrics and health gauges on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) HostOption {
	return func(h *Host) { h.registerer = reg }
}

type entry struct {
	plugin api.InvokePlugin
	state  lifecycle.Tracker
}

// Host owns a set of plugins watching one engine.
type Host struct {
	watcher  api.EventWatcher
	listener invocation.Listener

	poolSize      int
	maxRetries    uint64
	retryInterval time.Duration
	registerer    prometheus.Registerer
	tracer        trace.Tracer

	plugins cmap.ConcurrentMap[string, *entry]
	traces  *plugin.TraceRegistry
	pool    *ants.Pool
	metrics *hostMetrics
	health  healthcheck.Handler

	// applyMu serializes config fan-outs.
	applyMu sync.Mutex
	config  atomic.Pointer[config.Config]
	closed  atomic.Bool
}

// NewHost returns a Host registering hooks on watcher and delivering
// invocations to listener.
func NewHost(watcher api.EventWatcher, listener invocation.Listener, opts ...HostOption) (*Host, error) {
	if watcher == nil {
		return nil, errors.New("event watcher is nil")
	}
	h := &Host{
		watcher:       watcher,
		listener:      listener,
		poolSize:      defaultPoolSize,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		plugins:       cmap.New[*entry](),
		traces:        plugin.NewTraceRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registerer == nil {
		h.registerer = prometheus.NewRegistry()
	}
	if h.tracer == nil {
		h.tracer = newTracer(nil)
	}

	pool, err := ants.NewPool(h.poolSize,
		ants.WithLogger(poolLogger{}),
		ants.WithPanicHandler(func(r any) {
			internalLogger.Errorf("plugin task panic: %v", r)
		}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	h.pool = pool

	if h.metrics, err = newHostMetrics(h.registerer); err != nil {
		pool.Release()
		return nil, err
	}
	h.health = newHealthHandler(h)
	return h, nil
}

// traceBinder is implemented by plugins built on plugin.Adapter.
type traceBinder interface {
	BindTraces(r *plugin.TraceRegistry)
}

// Register loads p and applies the current config to it. Plugins stay
// inactive until a config enables them.
func (h *Host) Register(p api.InvokePlugin) error {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()
	if h.closed.Load() {
		return ErrHostClosed
	}
	if b, ok := p.(traceBinder); ok {
		b.BindTraces(h.traces)
	}
	identity := p.Identity()
	e := &entry{plugin: p}
	if !h.plugins.SetIfAbsent(identity, e) {
		return fmt.Errorf("register %s: %w", identity, ErrDuplicatePlugin)
	}
	if err := e.state.Transition(lifecycle.Loaded, p.OnLoaded); err != nil {
		h.plugins.Remove(identity)
		return fmt.Errorf("load %s: %w", identity, err)
	}
	h.addReadinessCheck(identity)
	internalLogger.Infof("plugin registered, identity=%s, type=%s", identity, p.Type())

	if cfg := h.config.Load(); cfg != nil {
		err := h.apply(context.Background(), e, cfg)
		h.metrics.active.Set(float64(h.countIn(lifecycle.Active)))
		return err
	}
	return nil
}

// Traces returns the registry joining invocations of all hosted plugins.
func (h *Host) Traces() *plugin.TraceRegistry {
	return h.traces
}

// Plugins returns the registered identities in order.
func (h *Host) Plugins() []string {
	ids := h.plugins.Keys()
	slices.Sort(ids)
	return ids
}

// State returns the lifecycle state of a plugin.
func (h *Host) State(identity string) (lifecycle.State, bool) {
	e, ok := h.plugins.Get(identity)
	if !ok {
		return lifecycle.Registered, false
	}
	return e.state.Current(), true
}

// Config returns the last applied config.
func (h *Host) Config() *config.Config {
	return h.config.Load()
}

// ApplyConfig pushes cfg to every plugin concurrently. Enabled plugins are
// activated, the others frozen; Degrade freezes all of them.
func (h *Host) ApplyConfig(ctx context.Context, cfg *config.Config) (err error) {
	ctx, span := h.startSpan(ctx, "host.apply_config")
	defer func() { endSpan(span, err) }()

	if h.closed.Load() {
		return ErrHostClosed
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	h.applyMu.Lock()
	defer h.applyMu.Unlock()
	if h.closed.Load() {
		return ErrHostClosed
	}
	h.config.Store(cfg)
	if cfg.Degrade {
		internalLogger.Warnf("degrade enabled, freezing %d plugins", h.plugins.Count())
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for item := range h.plugins.IterBuffered() {
		e := item.Val
		wg.Add(1)
		task := func() {
			defer wg.Done()
			collect(h.apply(ctx, e, cfg))
		}
		if err := h.pool.Submit(task); err != nil {
			internalLogger.Warnf("submit config task failed, identity=%s: %v", item.Key, err)
			task()
		}
	}
	wg.Wait()
	h.metrics.active.Set(float64(h.countIn(lifecycle.Active)))
	return errors.Join(errs...)
}

func (h *Host) apply(ctx context.Context, e *entry, cfg *config.Config) error {
	p := e.plugin
	identity := p.Identity()
	if err := p.OnConfigChange(ctx, cfg); err != nil {
		return fmt.Errorf("config change %s: %w", identity, err)
	}
	if !cfg.Degrade && p.Enable(cfg) {
		return h.activate(ctx, e)
	}
	if e.state.Current() == lifecycle.Active {
		return h.freeze(ctx, e)
	}
	return nil
}

func (h *Host) activate(ctx context.Context, e *entry) error {
	p := e.plugin
	err := e.state.Transition(lifecycle.Active, func() error {
		if err := h.watch(ctx, p); err != nil {
			return err
		}
		return p.OnActive()
	})
	h.observeHooks(p)
	if err != nil {
		return fmt.Errorf("activate %s: %w", p.Identity(), err)
	}
	internalLogger.Infof("plugin active, identity=%s", p.Identity())
	return nil
}

func (h *Host) freeze(ctx context.Context, e *entry) error {
	p := e.plugin
	var unErr error
	err := e.state.Transition(lifecycle.Frozen, func() error {
		unErr = p.UnWatch(ctx, h.watcher, h.listener)
		return p.OnFrozen()
	})
	h.observeHooks(p)
	if err = errors.Join(unErr, err); err != nil {
		return fmt.Errorf("freeze %s: %w", p.Identity(), err)
	}
	internalLogger.Infof("plugin frozen, identity=%s", p.Identity())
	return nil
}

// watch installs the hooks of p, retrying engine registration failures. Every
// retry re-watches so hooks left by the failed attempt are removed first. Hooks
// of the last failed attempt are removed before giving up.
func (h *Host) watch(ctx context.Context, p api.InvokePlugin) error {
	identity := p.Identity()
	attempt := 0
	op := func() error {
		attempt++
		var err error
		if attempt == 1 {
			err = p.Watch(ctx, h.watcher, h.listener)
		} else {
			err = p.ReWatch(ctx, h.watcher, h.listener)
		}
		h.metrics.watchAttempts.WithLabelValues(identity, resultLabel(err)).Inc()
		if err != nil && !plugin.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		internalLogger.Warnf("watch failed, identity=%s, attempt=%d, retry in %s: %v", identity, attempt, next, err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(h.newBackOff(), h.maxRetries), ctx), notify)
	if err == nil {
		return nil
	}
	if plugin.IsRetryable(err) {
		if unErr := p.UnWatch(ctx, h.watcher, h.listener); unErr != nil {
			internalLogger.Errorf("remove partial hooks failed, identity=%s: %v", identity, unErr)
		}
	}
	return err
}

func (h *Host) newBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(h.retryInterval),
		backoff.WithMaxElapsedTime(0),
	)
}

// Reload re-watches an active plugin so it picks up changed enhance specs.
func (h *Host) Reload(ctx context.Context, identity string) (err error) {
	ctx, span := h.startSpan(ctx, "host.reload")
	defer func() { endSpan(span, err) }()

	e, ok := h.plugins.Get(identity)
	if !ok {
		return fmt.Errorf("reload %s: %w", identity, ErrUnknownPlugin)
	}
	if e.state.Current() != lifecycle.Active {
		return fmt.Errorf("reload %s: %w", identity, ErrNotActive)
	}
	err = e.plugin.ReWatch(ctx, h.watcher, h.listener)
	h.metrics.watchAttempts.WithLabelValues(identity, resultLabel(err)).Inc()
	h.observeHooks(e.plugin)
	if err != nil {
		return fmt.Errorf("reload %s: %w", identity, err)
	}
	internalLogger.Infof("plugin reloaded, identity=%s", identity)
	return nil
}

// Shutdown removes every hook and unloads every plugin. The host accepts no
// further calls afterwards.
func (h *Host) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	var errs []error
	for _, identity := range h.Plugins() {
		e, ok := h.plugins.Get(identity)
		if !ok {
			continue
		}
		p := e.plugin
		if e.state.Current() == lifecycle.Active {
			if err := h.freeze(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.state.Transition(lifecycle.Unloaded, p.OnUnloaded); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", identity, err))
		}
	}
	h.metrics.active.Set(0)
	if err := h.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("release worker pool: %w", err))
	}
	return errors.Join(errs...)
}

func (h *Host) countIn(state lifecycle.State) int {
	n := 0
	for item := range h.plugins.IterBuffered() {
		if item.Val.state.Current() == state {
			n++
		}
	}
	return n
}

func (h *Host) observeHooks(p api.InvokePlugin) {
	if ws, ok := p.(api.WatchState); ok {
		h.metrics.hooks.WithLabelValues(p.Identity()).Set(float64(ws.HookCount()))
	}
}

// poolLogger routes worker pool messages to the host logger.
type poolLogger struct{}

func (poolLogger) Printf(format string, args ...any) {
	internalLogger.Warnf(format, args...)
}
