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

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/plugin-watch/api"
)

// hookIDs keeps installed hook ids in registration order.
// add and drain must be called with Adapter.mu held; size is safe anywhere.
type hookIDs struct {
	q *queuepkg.Queue
}

func newHookIDs() *hookIDs {
	return &hookIDs{q: queuepkg.New(8)}
}

func (h *hookIDs) add(id api.HookID) error {
	return h.q.Put(id)
}

func (h *hookIDs) size() int {
	return int(h.q.Len())
}

// drain empties the queue and returns its ids, oldest first. Items that are
// not hook ids are dropped and reported in the error.
func (h *hookIDs) drain() ([]api.HookID, error) {
	n := h.q.Len()
	if n == 0 {
		return nil, nil
	}
	items, err := h.q.Get(n)
	if err != nil {
		return nil, err
	}
	ids := make([]api.HookID, 0, len(items))
	var errs []error
	for _, item := range items {
		id, ok := item.(api.HookID)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid hook id type %T", item))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}
