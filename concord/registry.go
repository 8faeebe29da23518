// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package concord

import (
	"sync"

	"github.com/outpostdev/cocur"
)

// Registry hands out a per-key exclusive lock, reference-counted so that
// concurrent callers locking the same key share one underlying Mutex and
// the entry is reclaimed once nobody still holds or awaits it. It is not
// one of spec.md's seven primitives — it is Mutex generalized to a
// dynamic key space, the same role the teacher's own keyed lock manager
// plays over its mutex type (spec.md §1: "composable by client code"),
// reusing the same cocur.RefCount both share.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mutex *Mutex[struct{}]
	ref   cocur.RefCount
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Lock acquires the mutex for key, creating it on first use. The returned
// guard's Unlock releases the per-key mutex and, once no caller still
// references the entry, removes it from the registry.
func (r *Registry) Lock(key string) *RegistryGuard {
	e := r.entry(key)
	g := e.mutex.Lock()
	return &RegistryGuard{r: r, key: key, guard: g}
}

// TryLock acquires the mutex for key without blocking.
func (r *Registry) TryLock(key string) (*RegistryGuard, bool) {
	e := r.entry(key)
	g, ok := e.mutex.TryLock().Get()
	if !ok {
		r.release(key)
		return nil, false
	}
	return &RegistryGuard{r: r, key: key, guard: g}, true
}

// entry finds or creates the entry for key. A freshly created entry's
// cocur.RefCount is left at its zero value rather than explicitly
// retained — the zero value already represents one implicit reference
// (the teacher's own documented trick: a lone Release with no prior Retain
// lands exactly on the free state), so only entries found pre-existing are
// Retained here.
func (r *Registry) entry(key string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.ref.Retain()
		return e
	}

	e := &registryEntry{mutex: NewMutex(struct{}{})}
	r.entries[key] = e
	return e
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}
	if e.ref.Release() {
		delete(r.entries, key)
	}
}

// Len reports the number of keys currently tracked (held or awaited).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RegistryGuard releases a Registry-held key. Unlock is idempotent.
type RegistryGuard struct {
	released
	r     *Registry
	key   string
	guard *MutexGuard[struct{}]
}

// Unlock releases the underlying per-key mutex and drops this caller's
// reference to the entry.
func (g *RegistryGuard) Unlock() {
	if !g.markReleased() {
		return
	}
	g.guard.Unlock()
	g.r.release(g.key)
}
