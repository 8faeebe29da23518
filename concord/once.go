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

// Once is a write-once cell holding at most one value of type T (spec.md
// C1). Every operation is a single synchronous step guarded by an ordinary
// mutex, the same way the standard library's sync.Once serializes its
// callback — holding the lock across the initializer call is what makes
// "fn runs at most once" true under real concurrency, not just under the
// cooperative single-threaded model this library otherwise assumes.
type Once[T any] struct {
	mu          sync.Mutex
	value       T
	initialized bool
}

// NewOnce creates an empty Once cell.
func NewOnce[T any]() *Once[T] {
	return &Once[T]{}
}

// Get returns the stored value, if any. It never mutates the cell.
func (o *Once[T]) Get() maybe.Option[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return maybe.None[T]()
	}
	return maybe.Some(o.value)
}

// Set stores v if the cell is empty. On success it returns Ok; on failure
// (already initialized) it returns Err(v) — the stored value is never
// overwritten, and the passed v comes back unstored.
func (o *Once[T]) Set(v T) maybe.Result[struct{}, T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return maybe.Err[struct{}, T](v)
	}
	o.value = v
	o.initialized = true
	return maybe.Ok[struct{}, T](struct{}{})
}

// TryInsertConflict is what TryInsert returns on failure: the value already
// stored, and the one that was passed in and rejected.
type TryInsertConflict[T any] struct {
	Current T
	Passed  T
}

// TryInsert stores v if the cell is empty, returning the stored value on
// success. On failure it returns the current value alongside the rejected
// one.
func (o *Once[T]) TryInsert(v T) maybe.Result[T, TryInsertConflict[T]] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return maybe.Err[T, TryInsertConflict[T]](TryInsertConflict[T]{Current: o.value, Passed: v})
	}
	o.value = v
	o.initialized = true
	return maybe.Ok[T, TryInsertConflict[T]](v)
}

// GetOrInit returns the stored value, initializing it with fn first if the
// cell is empty. If fn panics, the cell remains empty and the panic
// propagates to this caller.
func (o *Once[T]) GetOrInit(fn func() T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return o.value
	}
	v := fn()
	o.value = v
	o.initialized = true
	return v
}

// GetOrTryInit returns the stored value, initializing it with fn first if
// the cell is empty. If fn returns an error, the cell remains empty and the
// error is returned, leaving the cell free for a later retry.
func (o *Once[T]) GetOrTryInit(fn func() (T, error)) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return o.value, nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	o.value = v
	o.initialized = true
	return v, nil
}

// Take returns the stored value and resets the cell to empty, allowing
// reinitialization.
func (o *Once[T]) Take() maybe.Option[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return maybe.None[T]()
	}
	v := o.value
	var zero T
	o.value = zero
	o.initialized = false
	return maybe.Some(v)
}

// IsInitialized reports whether the cell currently holds a value.
func (o *Once[T]) IsInitialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialized
}

// String renders the diagnostic form spec.md §6 requires.
func (o *Once[T]) String() string {
	if v, ok := o.Get().Get(); ok {
		return fmt.Sprintf("Once(%v)", v)
	}
	return "Once(<uninitialized>)"
}
