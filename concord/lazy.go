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
	"fmt"
	"sync"

	"github.com/outpostdev/cocur/maybe"
)

// Lazy defers a synchronous computation until its first Force call
// (spec.md C3). Unlike Once, the initializer is bound once at construction
// rather than supplied per call.
type Lazy[T any] struct {
	mu          sync.Mutex
	fn          func() T
	value       T
	initialized bool
}

// NewLazy binds fn as the deferred initializer for a new Lazy cell.
func NewLazy[T any](fn func() T) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Force runs the bound initializer on first call and returns its result;
// subsequent calls return the cached value without rerunning it. If the
// initializer panics, the cell stays uninitialized and the next Force
// retries.
func (l *Lazy[T]) Force() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return l.value
	}
	v := l.fn()
	l.value = v
	l.initialized = true
	return v
}

// Get observes the cached value without forcing initialization.
func (l *Lazy[T]) Get() maybe.Option[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return maybe.None[T]()
	}
	return maybe.Some(l.value)
}

// IsInitialized reports whether Force has completed successfully.
func (l *Lazy[T]) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// String renders the diagnostic form spec.md §6 requires.
func (l *Lazy[T]) String() string {
	if v, ok := l.Get().Get(); ok {
		return fmt.Sprintf("Lazy(%v)", v)
	}
	return "Lazy(<uninitialized>)"
}
