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
	"time"

	"github.com/outpostdev/cocur"
	"github.com/outpostdev/cocur/maybe"
)

// Mutex is a cooperative exclusive lock protecting one value of type T
// (spec.md C5). Unlike a raw channel-token lock (the shape of the teacher's
// own CHMutex/unison.Mutex), it queues waiters on a cocur.Waitlist so that
// acquisition is strictly FIFO and release uses ownership transfer: handing
// the lock directly to the next waiter instead of clearing held and letting
// any new caller race for it (spec.md §4.5, §9).
type Mutex[T any] struct {
	mu      sync.Mutex
	held    bool
	value   T
	waiters cocur.Waitlist
}

// NewMutex creates a Mutex guarding initial.
func NewMutex[T any](initial T) *Mutex[T] {
	return &Mutex[T]{value: initial}
}

// MutexGuard is the one-shot handle returned by a successful acquisition.
// Reading or writing Value after Unlock panics; Unlock itself is idempotent.
type MutexGuard[T any] struct {
	released
	m *Mutex[T]
}

// Value returns the guarded value.
func (g *MutexGuard[T]) Value() T {
	g.check()
	return g.m.value
}

// SetValue replaces the guarded value.
func (g *MutexGuard[T]) SetValue(v T) {
	g.check()
	g.m.value = v
}

// Unlock releases the guard. Safe to call more than once; only the first
// call has any effect.
func (g *MutexGuard[T]) Unlock() {
	if !g.markReleased() {
		return
	}
	g.m.release()
}

func (m *Mutex[T]) newGuard() *MutexGuard[T] {
	return &MutexGuard[T]{m: m}
}

// Lock blocks until the mutex is free, then returns a guard. Lock cannot be
// cancelled; layer cancellation externally with LockContext or LockTimeout.
func (m *Mutex[T]) Lock() *MutexGuard[T] {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return m.newGuard()
	}

	w := m.waiters.Enqueue(true, nil)
	m.mu.Unlock()

	w.Wait()
	return m.newGuard()
}

// TryLock acquires the mutex without blocking.
func (m *Mutex[T]) TryLock() maybe.Option[*MutexGuard[T]] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return maybe.None[*MutexGuard[T]]()
	}
	m.held = true
	return maybe.Some(m.newGuard())
}

// LockContext blocks until the mutex is free or ctx is done, whichever
// happens first. This is a Go-native addition to spec.md's contract (not a
// change to Lock's semantics), mirroring the teacher's Mutex.LockContext.
func (m *Mutex[T]) LockContext(ctx cocur.Canceler) (*MutexGuard[T], error) {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return m.newGuard(), nil
	}

	w := m.waiters.Enqueue(true, nil)
	m.mu.Unlock()

	if err := w.WaitContext(ctx); err != nil {
		m.reconcileCancel(w)
		return nil, err
	}
	return m.newGuard(), nil
}

// LockTimeout blocks until the mutex is free or dur elapses. A dur of 0
// behaves like TryLock; a negative dur behaves like Lock.
func (m *Mutex[T]) LockTimeout(dur time.Duration) maybe.Option[*MutexGuard[T]] {
	switch {
	case dur == 0:
		return m.TryLock()
	case dur < 0:
		return maybe.Some(m.Lock())
	}

	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return maybe.Some(m.newGuard())
	}

	w := m.waiters.Enqueue(true, nil)
	m.mu.Unlock()

	if w.WaitTimeout(dur) {
		return maybe.Some(m.newGuard())
	}
	m.reconcileCancel(w)
	return maybe.None[*MutexGuard[T]]()
}

// reconcileCancel handles the race between a timeout/context cancellation
// and a concurrent Unlock that had already transferred ownership to w. If
// that transfer could not be forwarded to another waiter (queue was empty
// at that instant), the mutex must still end up either held by whoever
// shows up next or unlocked — never "held with no owner."
func (m *Mutex[T]) reconcileCancel(w *cocur.Waiter) {
	wasNotified, forwarded := w.Cancel()
	if !wasNotified || forwarded {
		return
	}

	m.mu.Lock()
	if !m.waiters.Notify() {
		m.held = false
	}
	m.mu.Unlock()
}

func (m *Mutex[T]) release() {
	m.mu.Lock()
	if !m.waiters.Notify() {
		m.held = false
	}
	m.mu.Unlock()
}

// WithLock acquires the mutex, invokes fn with the current value, and
// releases the lock on every exit path, including a panic in fn.
func WithLock[T, U any](m *Mutex[T], fn func(T) U) U {
	g := m.Lock()
	defer g.Unlock()
	return fn(g.Value())
}

// Get acquires the mutex, reads the value, and releases.
func (m *Mutex[T]) Get() T {
	g := m.Lock()
	defer g.Unlock()
	return g.Value()
}

// Set acquires the mutex, writes v, and releases.
func (m *Mutex[T]) Set(v T) {
	g := m.Lock()
	defer g.Unlock()
	g.SetValue(v)
}

// Replace acquires the mutex, swaps in v, and returns the old value.
func (m *Mutex[T]) Replace(v T) T {
	g := m.Lock()
	defer g.Unlock()
	old := g.Value()
	g.SetValue(v)
	return old
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex[T]) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// String renders the diagnostic form spec.md §6 requires.
func (m *Mutex[T]) String() string {
	if m.IsLocked() {
		return "Mutex(<locked>)"
	}
	return "Mutex(<unlocked>)"
}
