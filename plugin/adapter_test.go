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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-watch/api"
	"github.com/srediag/plugin-watch/pkg/config"
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
	"github.com/srediag/plugin-watch/pkg/invocation"
)

type AdapterTestSuite struct {
	suite.Suite
	ctx      context.Context
	watcher  *recordingWatcher
	contract *stubContract
	adapter  *Adapter
	listener *recordedInvocations
}

func (s *AdapterTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.watcher = newRecordingWatcher()
	s.contract = &stubContract{identity: "java-entrance", entrance: true}
	s.listener = &recordedInvocations{}
	s.adapter = NewAdapter(s.contract)
}

func (s *AdapterTestSuite) TestScenarioSingleSpec() {
	s.contract.setSpecs(enhance.Spec{
		ClassPattern: "com.example.Service",
		MethodFilters: []enhance.MethodFilter{
			{Name: "call", ParameterTypes: []string{"java.lang.String"}},
		},
		WatchTypes: event.Of(event.Before, event.Return),
	})

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	ops := s.watcher.snapshot()
	s.Require().Len(ops, 1)
	s.Equal(opWatch, ops[0].kind)
	s.Equal(enhance.Matcher{
		ClassPattern: "com.example.Service",
		Behaviors: []enhance.BehaviorMatcher{
			{Name: "call", ParameterTypes: []string{"java.lang.String"}},
		},
	}, ops[0].matcher)
	s.Equal(event.Of(event.Before, event.Return), ops[0].types)
	s.NotNil(ops[0].listener)
	s.True(s.adapter.Watched())
	s.Equal(1, s.adapter.HookCount())

	s.watcher.reset()
	s.Require().NoError(s.adapter.UnWatch(s.ctx, s.watcher, s.listener))
	ops = s.watcher.snapshot()
	s.Require().Len(ops, 1)
	s.Equal(opDelete, ops[0].kind)
	s.Equal(api.HookID(101), ops[0].id)
}

func (s *AdapterTestSuite) TestWatchIsIdempotent() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	first := s.adapter.HookCount()
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))

	s.Equal(2, first)
	s.Equal(first, s.adapter.HookCount())
	s.Equal(int32(2), s.watcher.watchCalls.Load())
	s.Equal(int32(1), s.contract.specCalls.Load())
}

func (s *AdapterTestSuite) TestWatchUnWatchSymmetry() {
	for k := 1; k <= 4; k++ {
		specs := make([]enhance.Spec, k)
		for i := range specs {
			specs[i] = serviceSpec("com.example.S", "m")
		}
		s.contract.setSpecs(specs...)

		s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
		s.Equal(k, s.adapter.HookCount())
		s.Require().NoError(s.adapter.UnWatch(s.ctx, s.watcher, s.listener))
		s.False(s.adapter.Watched())
		s.Zero(s.adapter.HookCount())
		s.Zero(s.watcher.liveCount())
	}
}

func (s *AdapterTestSuite) TestFiltersShareOneHook() {
	s.contract.setSpecs(serviceSpec("com.example.Service", "f1", "f2"))

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Equal(1, s.adapter.HookCount())
	ops := s.watcher.snapshot()
	s.Require().Len(ops, 1)
	s.Len(ops[0].matcher.Behaviors, 2)
}

func (s *AdapterTestSuite) TestSpecWithoutFiltersIsSkipped() {
	s.contract.setSpecs(
		enhance.Spec{ClassPattern: "com.example.Empty", WatchTypes: event.All},
		serviceSpec("com.example.Service", "call"),
	)

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Equal(1, s.adapter.HookCount())
	s.Equal("com.example.Service", s.watcher.snapshot()[0].matcher.ClassPattern)
}

func (s *AdapterTestSuite) TestEmptySpecRejected() {
	err := s.adapter.Watch(s.ctx, s.watcher, s.listener)
	s.Require().Error(err)
	s.ErrorIs(err, ErrEmptySpec)
	s.False(IsRetryable(err))
	var lerr *LifecycleError
	s.Require().ErrorAs(err, &lerr)
	s.Equal(KindEmptySpec, lerr.Kind)
	s.Equal("java-entrance", lerr.Identity)
	s.False(s.adapter.Watched())
	s.Zero(s.watcher.watchCalls.Load())

	s.contract.setSpecs(serviceSpec("com.example.Service", "call"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.True(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestRegistrationFailureKeepsEarlierHooks() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"), serviceSpec("c.C", "z"))
	boom := errors.New("class not loadable")
	s.watcher.failWatch[2] = boom

	err := s.adapter.Watch(s.ctx, s.watcher, s.listener)
	s.Require().Error(err)
	s.ErrorIs(err, ErrEngineRegistration)
	s.ErrorIs(err, boom)
	s.True(IsRetryable(err))
	s.Equal(1, s.adapter.HookCount())
	s.Equal(1, s.watcher.liveCount())
	s.True(s.adapter.Watched())

	// A plain retry is a no-op until the partial install is cleared.
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Equal(int32(2), s.watcher.watchCalls.Load())

	s.Require().NoError(s.adapter.ReWatch(s.ctx, s.watcher, s.listener))
	s.Equal(3, s.adapter.HookCount())
	s.Equal(3, s.watcher.liveCount())
}

func (s *AdapterTestSuite) TestRemovalFailureIsBestEffort() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"), serviceSpec("c.C", "z"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	gone := errors.New("hook vanished")
	s.watcher.failDelete[102] = gone
	s.watcher.reset()

	err := s.adapter.UnWatch(s.ctx, s.watcher, s.listener)
	s.Require().Error(err)
	s.ErrorIs(err, ErrEngineRemoval)
	s.ErrorIs(err, gone)
	s.Equal([]string{opDelete, opDelete, opDelete}, s.watcher.kinds())
	ids := []api.HookID{}
	for _, op := range s.watcher.snapshot() {
		ids = append(ids, op.id)
	}
	s.Equal([]api.HookID{101, 102, 103}, ids)
	s.False(s.adapter.Watched())
	s.Zero(s.adapter.HookCount())
}

func (s *AdapterTestSuite) TestUnWatchWhenNotWatched() {
	s.Require().NoError(s.adapter.UnWatch(s.ctx, s.watcher, s.listener))
	s.Require().NoError(s.adapter.UnWatch(s.ctx, nil, nil))
	s.Empty(s.watcher.snapshot())
	s.False(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestUnWatchFallsBackToRememberedWatcher() {
	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Require().NoError(s.adapter.UnWatch(s.ctx, nil, nil))
	s.Zero(s.watcher.liveCount())
}

func (s *AdapterTestSuite) TestFastPathWatchKeepsInstallWatcher() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	other := newRecordingWatcher()
	s.Require().NoError(s.adapter.Watch(s.ctx, nil, nil))
	s.Require().NoError(s.adapter.Watch(s.ctx, other, s.listener))

	s.Require().NoError(s.adapter.UnWatch(s.ctx, nil, nil))
	s.Zero(s.watcher.liveCount())
	s.Equal([]string{opWatch, opWatch, opDelete, opDelete}, s.watcher.kinds())
	s.Empty(other.snapshot())
	s.Zero(s.adapter.HookCount())
	s.False(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestReWatchCurrentAfterFastPathWatch() {
	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Require().NoError(s.adapter.Watch(s.ctx, nil, nil))

	s.Require().NoError(s.adapter.ReWatchCurrent(s.ctx))
	s.Equal(1, s.watcher.liveCount())
	s.Equal([]string{opWatch, opDelete, opWatch}, s.watcher.kinds())
	s.True(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestUnWatchWithoutWatcherKeepsHooks() {
	s.Require().NoError(s.adapter.hookIDs.add(101))
	s.adapter.watched.Store(true)

	err := s.adapter.UnWatch(s.ctx, nil, nil)
	s.ErrorIs(err, ErrEngineRemoval)
	s.Equal(1, s.adapter.HookCount())
	s.True(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestWatchNilWatcher() {
	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().Error(s.adapter.Watch(s.ctx, nil, s.listener))
	s.False(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestReWatchRemovesBeforeRegistering() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.watcher.reset()

	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"), serviceSpec("c.C", "z"))
	s.Require().NoError(s.adapter.ReWatch(s.ctx, s.watcher, s.listener))

	s.Equal([]string{opDelete, opDelete, opWatch, opWatch, opWatch}, s.watcher.kinds())
	s.Equal(3, s.adapter.HookCount())
	s.Equal(3, s.watcher.liveCount())
	s.True(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestReWatchJoinsRemovalAndInstallErrors() {
	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.watcher.failDelete[101] = errors.New("stuck")
	s.contract.setSpecs()

	err := s.adapter.ReWatch(s.ctx, s.watcher, s.listener)
	s.Require().Error(err)
	s.ErrorIs(err, ErrEngineRemoval)
	s.ErrorIs(err, ErrEmptySpec)
	s.False(s.adapter.Watched())
}

func (s *AdapterTestSuite) TestReWatchCurrent() {
	err := s.adapter.ReWatchCurrent(s.ctx)
	s.ErrorIs(err, ErrNotWatched)

	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))
	s.Require().NoError(s.adapter.ReWatchCurrent(s.ctx))
	s.Equal(2, s.adapter.HookCount())
	s.Equal(2, s.watcher.liveCount())
}

func (s *AdapterTestSuite) TestConcurrentWatchSinglePass() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"), serviceSpec("c.C", "z"))
	s.watcher.delay = time.Millisecond

	const n = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.adapter.Watch(s.ctx, s.watcher, s.listener)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	s.Equal(int32(1), s.contract.specCalls.Load())
	s.Equal(int32(3), s.watcher.watchCalls.Load())
	s.Equal(3, s.adapter.HookCount())
	s.Equal(3, s.watcher.liveCount())
}

func (s *AdapterTestSuite) TestConcurrentWatchAndUnWatchStayConsistent() {
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.adapter.Watch(s.ctx, s.watcher, s.listener)
		}()
		go func() {
			defer wg.Done()
			_ = s.adapter.UnWatch(s.ctx, s.watcher, s.listener)
		}()
	}
	wg.Wait()

	s.Equal(s.watcher.liveCount(), s.adapter.HookCount())
	if s.adapter.Watched() {
		s.Equal(2, s.adapter.HookCount())
	} else {
		s.Zero(s.adapter.HookCount())
	}
}

func (s *AdapterTestSuite) TestEnable() {
	s.False(s.adapter.Enable(nil))
	cfg := config.DefaultConfig()
	s.False(s.adapter.Enable(cfg))
	cfg.PluginIdentities = []string{"http", "java-entrance"}
	s.True(s.adapter.Enable(cfg))
	s.Nil(s.adapter.Config())
}

func (s *AdapterTestSuite) TestOnConfigChangeStoresWithoutReWatch() {
	s.contract.setSpecs(serviceSpec("a.A", "x"))
	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.watcher.reset()

	cfg := config.DefaultConfig()
	s.Require().NoError(s.adapter.OnConfigChange(s.ctx, cfg))
	s.Same(cfg, s.adapter.Config())
	s.Empty(s.watcher.snapshot())
}

func (s *AdapterTestSuite) TestLifecycleDefaultsAndAccessors() {
	s.NoError(s.adapter.OnLoaded())
	s.NoError(s.adapter.OnActive())
	s.NoError(s.adapter.OnFrozen())
	s.NoError(s.adapter.OnUnloaded())
	s.Equal("java-entrance", s.adapter.Identity())
	s.Equal(invocation.TypeJava, s.adapter.Type())
	s.True(s.adapter.IsEntrance())
}

func (s *AdapterTestSuite) TestCustomCallbackAdapter() {
	calls := 0
	custom := event.ListenerFunc(func(*event.Event) error { return nil })
	s.adapter = NewAdapter(s.contract, WithCallbackAdapter(CallbackAdapterFunc(
		func(c Contract, l invocation.Listener) event.Listener {
			calls++
			s.Equal("java-entrance", c.Identity())
			s.Same(s.listener, l)
			return custom
		})))
	s.contract.setSpecs(serviceSpec("a.A", "x"), serviceSpec("b.B", "y"))

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Equal(2, calls)
	for _, op := range s.watcher.snapshot() {
		s.NotNil(op.listener)
		_, isDefault := op.listener.(*DefaultEventListener)
		s.False(isDefault)
	}
}

// fire replays one call through the listener installed by op.
func fire(op watcherOp, processID, invokeID int, class string) {
	_ = op.listener.OnEvent(&event.Event{Type: event.Before, ProcessID: processID, InvokeID: invokeID, ClassName: class, MethodName: "x"})
}

func complete(op watcherOp, processID, invokeID int, class string) {
	_ = op.listener.OnEvent(&event.Event{Type: event.Return, ProcessID: processID, InvokeID: invokeID, ClassName: class, MethodName: "x"})
}

func (s *AdapterTestSuite) TestBoundTracesJoinPlugins() {
	traces := NewTraceRegistry()
	s.contract.setSpecs(serviceSpec("a.Controller", "x"))
	s.adapter.BindTraces(traces)
	sub := NewAdapter(&stubContract{identity: "java-sub", specs: []enhance.Spec{serviceSpec("a.Repo", "x")}})
	sub.BindTraces(traces)
	sub.BindTraces(nil)

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Require().NoError(sub.Watch(s.ctx, s.watcher, s.listener))
	ops := s.watcher.snapshot()
	s.Require().Len(ops, 2)

	fire(ops[0], 3, 1, "a.Controller")
	fire(ops[1], 3, 2, "a.Repo")
	complete(ops[1], 3, 2, "a.Repo")
	complete(ops[0], 3, 1, "a.Controller")

	invs := s.listener.all()
	s.Require().Len(invs, 2)
	s.False(invs[0].Entrance)
	s.True(invs[1].Entrance)
	s.NotEmpty(invs[1].TraceID)
	s.Equal(invs[1].TraceID, invs[0].TraceID)
	s.Equal(1, invs[0].Index)
	s.Zero(traces.Active())
}

func (s *AdapterTestSuite) TestUnboundAdaptersKeepSeparateTraces() {
	s.contract.setSpecs(serviceSpec("a.Controller", "x"))
	sub := NewAdapter(&stubContract{identity: "java-sub", specs: []enhance.Spec{serviceSpec("a.Repo", "x")}})

	s.Require().NoError(s.adapter.Watch(s.ctx, s.watcher, s.listener))
	s.Require().NoError(sub.Watch(s.ctx, s.watcher, s.listener))
	ops := s.watcher.snapshot()
	s.Require().Len(ops, 2)

	fire(ops[0], 3, 1, "a.Controller")
	fire(ops[1], 3, 2, "a.Repo")
	complete(ops[1], 3, 2, "a.Repo")
	complete(ops[0], 3, 1, "a.Controller")

	invs := s.listener.all()
	s.Require().Len(invs, 1)
	s.True(invs[0].Entrance)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
