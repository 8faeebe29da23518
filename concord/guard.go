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

// Package concord holds the seven typed cooperative-concurrency primitives:
// Once, OnceAsync, Lazy, LazyAsync, Mutex, RwLock, and Channel. Mutex and
// RwLock queue their waiters on cocur.Waitlist and share the guard release
// discipline below (as does Registry's guard); the cells and Channel keep
// their own waiter bookkeeping under a plain sync.Mutex.
package concord

import "github.com/outpostdev/cocur"

// released is embedded by MutexGuard/ReadGuard/WriteGuard to implement a
// one-shot guard lifecycle: created on acquisition, consumed by
// unlock/release; further value access panics, further release calls are
// idempotent no-ops.
type released struct {
	done bool
}

func (r *released) check() {
	if r.done {
		panic(cocur.ErrGuardReleased)
	}
}

// markReleased returns true the first time it is called (the caller should
// run its release side effects then), and false on every subsequent call
// (idempotent no-op).
func (r *released) markReleased() bool {
	if r.done {
		return false
	}
	r.done = true
	return true
}

// Released reports whether the guard has already been released.
func (r *released) Released() bool {
	return r.done
}
