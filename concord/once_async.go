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

// OnceAsync extends Once with coalesced asynchronous initialization
// (spec.md C2). In the host this spec was written against, "async" means a
// function that may suspend at an await; in Go that maps to an initializer
// that may simply take a while, so "PromiseLike<T>" becomes Future[T]: a
// settle-once value the caller blocks on with Wait. A single in-flight
// attempt is tracked in pending so concurrent callers fold into it instead
// of each running fn themselves.
type OnceAsync[T any] struct {
	mu          sync.Mutex
	value       T
	initialized bool

	pending  *future[T] // the in-flight getOrInit/getOrTryInit attempt, if any
	resolved *future[T] // cached, settled future once initialized; stable identity until Take
	waiters  []*future[T]
}

// NewOnceAsync creates an empty OnceAsync cell.
func NewOnceAsync[T any]() *OnceAsync[T] {
	return &OnceAsync[T]{}
}

// Get returns the stored value, if any. It never mutates the cell and never
// blocks.
func (o *OnceAsync[T]) Get() maybe.Option[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return maybe.None[T]()
	}
	return maybe.Some(o.value)
}

// fillLocked commits v as the stored value. Callers must hold o.mu and have
// already confirmed o.initialized == false. It returns the waiters
// registered via Wait so the caller can settle them after releasing o.mu —
// never while holding it, since settling can run arbitrary goroutine
// scheduling.
func (o *OnceAsync[T]) fillLocked(v T) (waiters []*future[T]) {
	o.value = v
	o.initialized = true
	o.pending = nil
	resolved := newFuture[T]()
	resolved.settle(v, nil)
	o.resolved = resolved
	waiters, o.waiters = o.waiters, nil
	return waiters
}

// Set stores v if the cell is empty, notifying any Wait callers. On
// failure (already initialized) it returns Err(v), unstored.
func (o *OnceAsync[T]) Set(v T) maybe.Result[struct{}, T] {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		return maybe.Err[struct{}, T](v)
	}
	waiters := o.fillLocked(v)
	o.mu.Unlock()

	for _, w := range waiters {
		w.settle(v, nil)
	}
	return maybe.Ok[struct{}, T](struct{}{})
}

// TryInsert stores v if the cell is empty, returning the stored value on
// success, or the current/passed pair on failure. It notifies any Wait
// callers on success.
func (o *OnceAsync[T]) TryInsert(v T) maybe.Result[T, TryInsertConflict[T]] {
	o.mu.Lock()
	if o.initialized {
		cur := o.value
		o.mu.Unlock()
		return maybe.Err[T, TryInsertConflict[T]](TryInsertConflict[T]{Current: cur, Passed: v})
	}
	waiters := o.fillLocked(v)
	o.mu.Unlock()

	for _, w := range waiters {
		w.settle(v, nil)
	}
	return maybe.Ok[T, TryInsertConflict[T]](v)
}

// fill commits v (unless another writer already raced ahead and filled the
// cell first, in which case the stored value wins and p observes that
// instead — a real-concurrency consequence of the cooperative-scheduling
// model this library's contract assumes) and settles p plus any Wait
// callers.
func (o *OnceAsync[T]) fill(v T, p *future[T]) {
	o.mu.Lock()
	if o.initialized {
		stored := o.value
		if o.pending == p {
			o.pending = nil
		}
		o.mu.Unlock()
		p.settle(stored, nil)
		return
	}
	waiters := o.fillLocked(v)
	o.mu.Unlock()

	p.settle(v, nil)
	for _, w := range waiters {
		w.settle(v, nil)
	}
}

// runInit invokes fn on the caller's own goroutine, so a panic propagates
// synchronously to this caller exactly as spec.md requires — panics cannot
// cross goroutines, so any other caller that joined p via Wait or a
// coalesced GetOrInit necessarily observes an error instead, never a panic.
func (o *OnceAsync[T]) runInit(fn func() T, p *future[T]) {
	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			if o.pending == p {
				o.pending = nil
			}
			o.mu.Unlock()
			var zero T
			p.settle(zero, fmt.Errorf("cocur: initializer panicked: %v", r))
			panic(r)
		}
	}()

	v := fn()
	o.fill(v, p)
}

// GetOrInit returns the stored value, initializing it with fn if the cell
// is empty. Concurrent callers that arrive while an attempt is already
// pending fold into that attempt's future instead of invoking fn
// themselves. Once initialized, every call returns the same cached future
// (stable identity) until Take.
func (o *OnceAsync[T]) GetOrInit(fn func() T) Future[T] {
	o.mu.Lock()
	if o.initialized {
		f := o.resolved
		o.mu.Unlock()
		return Future[T]{inner: f}
	}
	if o.pending != nil {
		p := o.pending
		o.mu.Unlock()
		return Future[T]{inner: p}
	}
	p := newFuture[T]()
	o.pending = p
	o.mu.Unlock()

	o.runInit(fn, p)
	return Future[T]{inner: p}
}

func settledResult[T any](r maybe.Result[T, error]) Future[maybe.Result[T, error]] {
	f := newFuture[maybe.Result[T, error]]()
	f.settle(r, nil)
	return Future[maybe.Result[T, error]]{inner: f}
}

// GetOrTryInit returns the stored value wrapped in Ok, initializing it with
// fn if the cell is empty. A caller that arrives while another attempt is
// pending waits for it: if that attempt succeeds, this caller observes
// Ok(stored); if it fails, this caller re-invokes its own fn rather than
// inheriting the failure (spec.md §4.2) — a failed attempt never poisons
// the cell for callers who didn't cause it.
func (o *OnceAsync[T]) GetOrTryInit(fn func() (T, error)) Future[maybe.Result[T, error]] {
	for {
		o.mu.Lock()
		if o.initialized {
			v := o.value
			o.mu.Unlock()
			return settledResult[T](maybe.Ok[T, error](v))
		}
		if o.pending != nil {
			p := o.pending
			o.mu.Unlock()
			p.wait()
			continue
		}
		p := newFuture[T]()
		o.pending = p
		o.mu.Unlock()

		v, err := fn()
		if err != nil {
			o.mu.Lock()
			if o.pending == p {
				o.pending = nil
			}
			o.mu.Unlock()
			p.settle(v, err)
			return settledResult[T](maybe.Err[T, error](err))
		}
		o.fill(v, p)
		return settledResult[T](maybe.Ok[T, error](v))
	}
}

// Wait returns a future resolved when the cell is (or becomes) initialized.
// If already initialized, it is the cached resolved future; if an attempt
// is pending, it is that attempt's future; otherwise a fresh future is
// registered and settled the next time any path fills the cell.
func (o *OnceAsync[T]) Wait() Future[T] {
	o.mu.Lock()
	if o.initialized {
		f := o.resolved
		o.mu.Unlock()
		return Future[T]{inner: f}
	}
	if o.pending != nil {
		p := o.pending
		o.mu.Unlock()
		return Future[T]{inner: p}
	}
	w := newFuture[T]()
	o.waiters = append(o.waiters, w)
	o.mu.Unlock()
	return Future[T]{inner: w}
}

// Take returns the stored value and resets the cell to empty, clearing the
// cached resolved future so a subsequent fill produces a fresh identity.
func (o *OnceAsync[T]) Take() maybe.Option[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return maybe.None[T]()
	}
	v := o.value
	var zero T
	o.value = zero
	o.initialized = false
	o.resolved = nil
	return maybe.Some(v)
}

// IsInitialized reports whether the cell currently holds a value.
func (o *OnceAsync[T]) IsInitialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialized
}

// String renders the diagnostic form spec.md §6 requires.
func (o *OnceAsync[T]) String() string {
	if v, ok := o.Get().Get(); ok {
		return fmt.Sprintf("OnceAsync(%v)", v)
	}
	return "OnceAsync(<uninitialized>)"
}
