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
	"github.com/srediag/plugin-watch/pkg/enhance"
)

// Translate composes the single matcher a spec registers. Every method filter
// narrows its own behavior on the same class matcher, so one spec always yields
// at most one hook. ok is false when the spec has no method filter.
func Translate(spec enhance.Spec) (m enhance.Matcher, ok bool) {
	classBuilder := enhance.OnClass(spec.ClassPattern)
	if spec.IncludeSubClasses {
		classBuilder = classBuilder.IncludeSubClasses()
	}
	var behavior *enhance.BehaviorBuilder
	for _, mf := range spec.MethodFilters {
		behavior = classBuilder.OnBehavior(mf.Name)
		if len(mf.ParameterTypes) > 0 {
			behavior.WithParameterTypes(mf.ParameterTypes...)
		}
		if len(mf.AnnotationTypes) > 0 {
			behavior.HasAnnotationTypes(mf.AnnotationTypes...)
		}
	}
	if behavior == nil {
		return enhance.Matcher{}, false
	}
	return behavior.Build(), true
}
