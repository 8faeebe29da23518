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

package cocur

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore with FIFO admission, built on Waitlist.
// It is a general-purpose building block rather than one of concord's typed
// cells; nothing else in this module uses it, and it is exercised by its own
// tests.
type Semaphore struct {
	mu      sync.Mutex
	n       int
	waiters Waitlist
}

// NewSemaphore creates a semaphore with n initial permits.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{n: n}
}

// Acquire takes one permit, blocking until one is available.
func (s *Semaphore) Acquire() {
	_ = s.AcquireContext(nil)
}

// AcquireContext takes one permit, blocking until one is available or ctx is
// done. A nil ctx behaves like Acquire.
func (s *Semaphore) AcquireContext(ctx Canceler) error {
	s.mu.Lock()
	s.n--
	if s.n >= 0 {
		s.mu.Unlock()
		return nil
	}

	// Need to wait. The waiter is created before unlocking so it is already
	// queued before any concurrent Release can fire.
	waiter := s.waiters.Enqueue(false, nil)
	s.mu.Unlock()

	if ctx == nil {
		waiter.Wait()
		return nil
	}

	err := waiter.WaitContext(ctx)
	if err != nil {
		s.abort(waiter)
	}
	return err
}

// AcquireTimeout takes one permit, blocking for at most dur. A dur of 0
// behaves like TryAcquire; a negative dur behaves like Acquire.
func (s *Semaphore) AcquireTimeout(dur time.Duration) bool {
	switch {
	case dur == 0:
		return s.TryAcquire()
	case dur < 0:
		s.Acquire()
		return true
	}

	s.mu.Lock()
	s.n--
	if s.n >= 0 {
		s.mu.Unlock()
		return true
	}

	waiter := s.waiters.Enqueue(false, nil)
	s.mu.Unlock()

	ok := waiter.WaitTimeout(dur)
	if !ok {
		s.abort(waiter)
	}
	return ok
}

// TryAcquire takes one permit without blocking, reporting whether one was
// available.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n <= 0 {
		return false
	}
	s.n--
	return true
}

// Release returns one permit, waking the head of the FIFO queue if any
// goroutine is waiting.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.doRelease()
	s.mu.Unlock()
}

func (s *Semaphore) abort(w *Waiter) {
	s.mu.Lock()
	if wasNotified, _ := w.Cancel(); wasNotified {
		// The waiter was already handed a permit; return it.
		s.doRelease()
	} else {
		// The waiter never got a permit; only undo its own decrement.
		s.n++
	}
	s.mu.Unlock()
}

func (s *Semaphore) doRelease() {
	s.n++
	if s.n <= 0 {
		s.waiters.Notify()
	}
}
