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
)

// LazyAsync defers an asynchronous computation, bound at construction,
// until its first Force call (spec.md C4). It shares OnceAsync's
// coalescing rule: concurrent Force calls fold into one fn invocation.
// After success, subsequent Force calls return the same cached future
// (stable identity); after failure, the pending future is cleared so the
// next Force retries, and every caller that had joined the failed attempt
// observes the error via that same future.
type LazyAsync[T any] struct {
	mu          sync.Mutex
	fn          func() (T, error)
	value       T
	initialized bool

	pending  *future[T]
	resolved *future[T]
}

// NewLazyAsync binds fn as the deferred initializer for a new LazyAsync
// cell. fn may return an error instead of panicking — both are treated as
// initialization failure, leaving the cell empty for a retry.
func NewLazyAsync[T any](fn func() (T, error)) *LazyAsync[T] {
	return &LazyAsync[T]{fn: fn}
}

// Get observes the cached value without forcing initialization.
func (l *LazyAsync[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.initialized
}

// Force runs the bound initializer on first call, coalescing concurrent
// callers into the same attempt. Subsequent calls return the cached
// future. If the initializer panics, the panic propagates synchronously to
// whichever caller actually triggered this attempt; any caller that merely
// joined it observes an error instead, since a panic cannot cross
// goroutines.
func (l *LazyAsync[T]) Force() Future[T] {
	l.mu.Lock()
	if l.initialized {
		f := l.resolved
		l.mu.Unlock()
		return Future[T]{inner: f}
	}
	if l.pending != nil {
		p := l.pending
		l.mu.Unlock()
		return Future[T]{inner: p}
	}
	p := newFuture[T]()
	l.pending = p
	l.mu.Unlock()

	l.runInit(p)
	return Future[T]{inner: p}
}

func (l *LazyAsync[T]) runInit(p *future[T]) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			if l.pending == p {
				l.pending = nil
			}
			l.mu.Unlock()
			var zero T
			p.settle(zero, fmt.Errorf("cocur: initializer panicked: %v", r))
			panic(r)
		}
	}()

	v, err := l.fn()
	if err != nil {
		l.mu.Lock()
		if l.pending == p {
			l.pending = nil
		}
		l.mu.Unlock()
		var zero T
		p.settle(zero, err)
		return
	}

	l.mu.Lock()
	if l.initialized {
		stored := l.value
		if l.pending == p {
			l.pending = nil
		}
		l.mu.Unlock()
		p.settle(stored, nil)
		return
	}
	l.value = v
	l.initialized = true
	l.pending = nil
	p.settle(v, nil)
	l.resolved = p
	l.mu.Unlock()
}

// IsInitialized reports whether Force has completed successfully.
func (l *LazyAsync[T]) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// String renders the diagnostic form spec.md §6 requires.
func (l *LazyAsync[T]) String() string {
	if v, ok := l.Get(); ok {
		return fmt.Sprintf("LazyAsync(%v)", v)
	}
	return "LazyAsync(<uninitialized>)"
}
