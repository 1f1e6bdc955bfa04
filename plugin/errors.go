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
	"fmt"
)

var (
	// ErrEmptySpec is returned by Watch when the plugin declares no enhance specs.
	ErrEmptySpec = errors.New("enhance specs are empty")
	// ErrEngineRegistration is returned by Watch when the engine rejects a hook.
	ErrEngineRegistration = errors.New("engine hook registration failed")
	// ErrEngineRemoval is returned by UnWatch when one or more hooks could not be removed.
	ErrEngineRemoval = errors.New("engine hook removal failed")
	// ErrNotWatched is returned by ReWatchCurrent before the first Watch.
	ErrNotWatched = errors.New("plugin has never been watched")
)

// Kind classifies a LifecycleError.
type Kind int

const (
	KindEmptySpec Kind = iota + 1
	KindEngineRegistration
	KindEngineRemoval
)

func (k Kind) String() string {
	switch k {
	case KindEmptySpec:
		return "EmptySpec"
	case KindEngineRegistration:
		return "EngineRegistrationFailure"
	case KindEngineRemoval:
		return "EngineRemovalFailure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindEmptySpec:
		return ErrEmptySpec
	case KindEngineRegistration:
		return ErrEngineRegistration
	case KindEngineRemoval:
		return ErrEngineRemoval
	default:
		return nil
	}
}

// LifecycleError is a watch lifecycle failure of one plugin.
type LifecycleError struct {
	Kind     Kind
	Identity string
	Err      error
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("plugin %s: %s", e.Identity, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *LifecycleError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetryable reports whether retrying the failed lifecycle call can succeed.
// Only engine registration failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEngineRegistration)
}
