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
	"time"

	"github.com/outpostdev/cocur"
	"github.com/outpostdev/cocur/maybe"
)

// RwLock is a cooperative reader/writer lock protecting one value of type T
// (spec.md C6), biased toward writers: once a writer is queued, new readers
// queue behind it rather than joining the active read set, so a steady
// stream of readers cannot starve a writer. The last reader to leave hands
// the lock to the head queued writer (Waitlist.Notify); a released writer
// hands off to the next queued writer if there is one, and otherwise admits
// every queued reader at once as a burst (Waitlist.Broadcast).
type RwLock[T any] struct {
	mu sync.Mutex

	value T

	readers        int
	writer         bool
	pendingWriters int

	readWaiters  cocur.Waitlist
	writeWaiters cocur.Waitlist
}

// NewRwLock creates an RwLock guarding initial.
func NewRwLock[T any](initial T) *RwLock[T] {
	return &RwLock[T]{value: initial}
}

// ReadGuard is a one-shot handle on a shared read acquisition.
type ReadGuard[T any] struct {
	released
	l *RwLock[T]
}

// Value returns the guarded value.
func (g *ReadGuard[T]) Value() T {
	g.check()
	return g.l.value
}

// Unlock releases the read guard.
func (g *ReadGuard[T]) Unlock() {
	if !g.markReleased() {
		return
	}
	g.l.releaseRead()
}

// WriteGuard is a one-shot handle on an exclusive write acquisition.
type WriteGuard[T any] struct {
	released
	l *RwLock[T]
}

// Value returns the guarded value.
func (g *WriteGuard[T]) Value() T {
	g.check()
	return g.l.value
}

// SetValue replaces the guarded value.
func (g *WriteGuard[T]) SetValue(v T) {
	g.check()
	g.l.value = v
}

// Unlock releases the write guard.
func (g *WriteGuard[T]) Unlock() {
	if !g.markReleased() {
		return
	}
	g.l.releaseWrite()
}

// admitRead reports whether a reader may proceed immediately: the lock must
// be free of a writer and have no writer waiting in line. l.mu must be held.
func (l *RwLock[T]) admitRead() bool {
	return !l.writer && l.pendingWriters == 0
}

// Lock acquires a read lock, blocking while a writer holds or is waiting for
// the lock.
func (l *RwLock[T]) Lock() *ReadGuard[T] {
	l.mu.Lock()
	if l.admitRead() {
		l.readers++
		l.mu.Unlock()
		return &ReadGuard[T]{l: l}
	}
	w := l.readWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	w.Wait()
	return &ReadGuard[T]{l: l}
}

// TryLock acquires a read lock without blocking.
func (l *RwLock[T]) TryLock() maybe.Option[*ReadGuard[T]] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.admitRead() {
		return maybe.None[*ReadGuard[T]]()
	}
	l.readers++
	return maybe.Some(&ReadGuard[T]{l: l})
}

// LockContext acquires a read lock, blocking until granted or ctx is done.
func (l *RwLock[T]) LockContext(ctx cocur.Canceler) (*ReadGuard[T], error) {
	l.mu.Lock()
	if l.admitRead() {
		l.readers++
		l.mu.Unlock()
		return &ReadGuard[T]{l: l}, nil
	}
	w := l.readWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	if err := w.WaitContext(ctx); err != nil {
		l.reconcileReadCancel(w)
		return nil, err
	}
	return &ReadGuard[T]{l: l}, nil
}

// LockTimeout acquires a read lock, blocking at most dur.
func (l *RwLock[T]) LockTimeout(dur time.Duration) maybe.Option[*ReadGuard[T]] {
	switch {
	case dur == 0:
		return l.TryLock()
	case dur < 0:
		return maybe.Some(l.Lock())
	}

	l.mu.Lock()
	if l.admitRead() {
		l.readers++
		l.mu.Unlock()
		return maybe.Some(&ReadGuard[T]{l: l})
	}
	w := l.readWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	if w.WaitTimeout(dur) {
		return maybe.Some(&ReadGuard[T]{l: l})
	}
	l.reconcileReadCancel(w)
	return maybe.None[*ReadGuard[T]]()
}

// reconcileReadCancel handles a reader that gave up right as releaseWrite's
// Broadcast granted it a slot: l.readers already counts it, so giving up
// without releasing would leak that count forever. readWaiters is built
// with propagateCancel=false (a Broadcast grant has no single "next waiter"
// to forward to), so Cancel here only ever reports wasNotified, never
// forwarded.
func (l *RwLock[T]) reconcileReadCancel(w *cocur.Waiter) {
	if wasNotified, _ := w.Cancel(); wasNotified {
		l.releaseRead()
	}
}

func (l *RwLock[T]) releaseRead() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 && l.pendingWriters > 0 {
		l.writer = true
		l.pendingWriters--
		l.mu.Unlock()
		l.writeWaiters.Notify()
		return
	}
	l.mu.Unlock()
}

// WriteLock acquires the exclusive write lock, blocking while any reader
// holds it, a writer holds it, or another writer is ahead in line.
func (l *RwLock[T]) WriteLock() *WriteGuard[T] {
	l.mu.Lock()
	if !l.writer && l.readers == 0 {
		l.writer = true
		l.mu.Unlock()
		return &WriteGuard[T]{l: l}
	}
	l.pendingWriters++
	w := l.writeWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	w.Wait()
	return &WriteGuard[T]{l: l}
}

// TryWriteLock acquires the write lock without blocking.
func (l *RwLock[T]) TryWriteLock() maybe.Option[*WriteGuard[T]] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer || l.readers != 0 {
		return maybe.None[*WriteGuard[T]]()
	}
	l.writer = true
	return maybe.Some(&WriteGuard[T]{l: l})
}

// WriteLockContext acquires the write lock, blocking until granted or ctx is
// done.
func (l *RwLock[T]) WriteLockContext(ctx cocur.Canceler) (*WriteGuard[T], error) {
	l.mu.Lock()
	if !l.writer && l.readers == 0 {
		l.writer = true
		l.mu.Unlock()
		return &WriteGuard[T]{l: l}, nil
	}
	l.pendingWriters++
	w := l.writeWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	if err := w.WaitContext(ctx); err != nil {
		l.abortPendingWrite(w)
		return nil, err
	}
	return &WriteGuard[T]{l: l}, nil
}

// WriteLockTimeout acquires the write lock, blocking at most dur.
func (l *RwLock[T]) WriteLockTimeout(dur time.Duration) maybe.Option[*WriteGuard[T]] {
	switch {
	case dur == 0:
		return l.TryWriteLock()
	case dur < 0:
		return maybe.Some(l.WriteLock())
	}

	l.mu.Lock()
	if !l.writer && l.readers == 0 {
		l.writer = true
		l.mu.Unlock()
		return maybe.Some(&WriteGuard[T]{l: l})
	}
	l.pendingWriters++
	w := l.writeWaiters.Enqueue(false, nil)
	l.mu.Unlock()

	if w.WaitTimeout(dur) {
		return maybe.Some(&WriteGuard[T]{l: l})
	}
	l.abortPendingWrite(w)
	return maybe.None[*WriteGuard[T]]()
}

// abortPendingWrite undoes the pendingWriters bookkeeping for a writer that
// gave up waiting. writeWaiters is built with propagateCancel=false because
// a writer grant means "you now own the lock," and forwarding that grant
// blindly to another writer here would double-count pendingWriters; instead
// a cancelled-but-already-notified writer simply becomes the holder itself
// and must release normally, same as any other writer that "won" the race.
func (l *RwLock[T]) abortPendingWrite(w *cocur.Waiter) {
	wasNotified, _ := w.Cancel()
	if wasNotified {
		l.WriteGuardFor().Unlock()
		return
	}

	l.mu.Lock()
	l.pendingWriters--
	l.mu.Unlock()
}

// WriteGuardFor is an internal helper producing a guard for a writer that
// was already granted ownership (l.writer is already true) but gave up
// waiting before observing it; its only legitimate use is to immediately
// Unlock, releasing the lock it never got to use.
func (l *RwLock[T]) WriteGuardFor() *WriteGuard[T] {
	return &WriteGuard[T]{l: l}
}

func (l *RwLock[T]) releaseWrite() {
	l.mu.Lock()
	l.writer = false

	if l.pendingWriters > 0 {
		if l.writeWaiters.Notify() {
			l.pendingWriters--
			l.writer = true
			l.mu.Unlock()
			return
		}
		// Every pending writer was cancelled out from under us between the
		// counter check and the hand-off attempt; fall through to readers.
	}

	// Broadcast only closes waiter channels; it does no blocking work, so
	// holding l.mu across it keeps the reader burst's admission and the
	// readers counter update atomic with respect to a concurrent WriteLock,
	// which must not see writer == false && readers == 0 until the burst is
	// actually accounted for.
	if n := l.readWaiters.Broadcast(); n > 0 {
		l.readers += n
	}
	l.mu.Unlock()
}

// WithRead acquires a read lock, invokes fn, and releases on every exit
// path.
func WithRead[T, U any](l *RwLock[T], fn func(T) U) U {
	g := l.Lock()
	defer g.Unlock()
	return fn(g.Value())
}

// WithWrite acquires a write lock, invokes fn, and releases on every exit
// path.
func WithWrite[T, U any](l *RwLock[T], fn func(T) U) U {
	g := l.WriteLock()
	defer g.Unlock()
	return fn(g.Value())
}

// Get acquires a read lock, reads the value, and releases.
func (l *RwLock[T]) Get() T {
	g := l.Lock()
	defer g.Unlock()
	return g.Value()
}

// Set acquires the write lock, writes v, and releases.
func (l *RwLock[T]) Set(v T) {
	g := l.WriteLock()
	defer g.Unlock()
	g.SetValue(v)
}

// Replace acquires the write lock, swaps in v, and returns the old value.
func (l *RwLock[T]) Replace(v T) T {
	g := l.WriteLock()
	defer g.Unlock()
	old := g.Value()
	g.SetValue(v)
	return old
}

// ReaderCount reports the number of readers currently holding the lock.
func (l *RwLock[T]) ReaderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers
}

// IsWriteLocked reports whether a writer currently holds the lock.
func (l *RwLock[T]) IsWriteLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

// String renders the diagnostic form spec.md §6 requires.
func (l *RwLock[T]) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.writer:
		return "RwLock(<write-locked>)"
	case l.readers > 0:
		return fmt.Sprintf("RwLock(<read-locked:%d>)", l.readers)
	default:
		return "RwLock(<unlocked>)"
	}
}
