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

// Package java provides the config driven java plugins: an entrance plugin that
// opens a trace per call and a sub-invoke plugin whose calls join it.
package java

import (
	"context"

	"github.com/srediag/plugin-watch/internal/logging"
	"github.com/srediag/plugin-watch/pkg/config"
	"github.com/srediag/plugin-watch/pkg/enhance"
	"github.com/srediag/plugin-watch/pkg/event"
	"github.com/srediag/plugin-watch/pkg/invocation"
	"github.com/srediag/plugin-watch/plugin"
)

const (
	EntranceIdentity  = "java-entrance"
	SubInvokeIdentity = "java-subInvoke"
)

var internalLogger = logging.New("java")

// Object methods are never recorded.
var ignoredMethods = []string{"toString", "hashCode", "equals"}

// Plugin records calls of the java behaviors selected from the config.
type Plugin struct {
	*plugin.Adapter

	identity  string
	entrance  bool
	behaviors func(*config.Config) []config.Behavior
	processor *invocation.DefaultProcessor
}

// NewEntrance returns the plugin watching Config.JavaEntranceBehaviors.
func NewEntrance(opts ...plugin.Option) *Plugin {
	return newPlugin(EntranceIdentity, true, func(c *config.Config) []config.Behavior {
		return c.JavaEntranceBehaviors
	}, opts)
}

// NewSubInvoke returns the plugin watching Config.JavaSubInvokeBehaviors.
func NewSubInvoke(opts ...plugin.Option) *Plugin {
	return newPlugin(SubInvokeIdentity, false, func(c *config.Config) []config.Behavior {
		return c.JavaSubInvokeBehaviors
	}, opts)
}

func newPlugin(identity string, entrance bool, behaviors func(*config.Config) []config.Behavior, opts []plugin.Option) *Plugin {
	processor := invocation.NewDefaultProcessor(invocation.TypeJava)
	processor.IgnoredMethods = ignoredMethods
	p := &Plugin{
		identity:  identity,
		entrance:  entrance,
		behaviors: behaviors,
		processor: processor,
	}
	p.Adapter = plugin.NewAdapter(p, opts...)
	return p
}

func (p *Plugin) Identity() string      { return p.identity }
func (p *Plugin) Type() invocation.Type { return invocation.TypeJava }
func (p *Plugin) IsEntrance() bool      { return p.entrance }

func (p *Plugin) InvocationProcessor() invocation.Processor {
	return p.processor
}

// EnhanceSpecs builds one spec per configured behavior. It is empty until a
// config with behaviors has been received.
func (p *Plugin) EnhanceSpecs() []enhance.Spec {
	cfg := p.Config()
	if cfg == nil {
		return nil
	}
	var specs []enhance.Spec
	for _, b := range p.behaviors(cfg) {
		spec := enhance.NewSpec(b.ClassPattern, event.All, b.MethodPatterns...)
		spec.IncludeSubClasses = b.IncludeSubClasses
		specs = append(specs, spec)
	}
	return specs
}

// OnConfigChange stores cfg and re-watches when the plugin is watched and its
// behaviors changed.
func (p *Plugin) OnConfigChange(ctx context.Context, cfg *config.Config) error {
	var before []config.Behavior
	if old := p.Config(); old != nil {
		before = p.behaviors(old)
	}
	if err := p.Adapter.OnConfigChange(ctx, cfg); err != nil {
		return err
	}
	var after []config.Behavior
	if cfg != nil {
		after = p.behaviors(cfg)
	}
	if !p.Watched() || !config.BehaviorsDiffer(before, after) {
		return nil
	}
	internalLogger.Infof("behaviors changed, rewatch, identity=%s, behaviors=%d", p.identity, len(after))
	return p.ReWatchCurrent(ctx)
}
