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

import "sync/atomic"

// RefCount is an atomic reference counter used to track the lifetime of a
// shared resource and run an action once the last reference goes away. It
// backs Registry's per-key lock entries.
//
// The zero value is ready to use and already counts one implicit
// reference: a single Release with no prior Retain brings it to free.
type RefCount struct {
	// Action, if set, runs exactly once, when Release brings the count to
	// free.
	Action func()

	count uint32
}

const refCountFree uint32 = ^uint32(0)
const refCountOops uint32 = refCountFree - 1

// Retain increases the reference count.
func (c *RefCount) Retain() {
	x := atomic.AddUint32(&c.count, 1)
	if x == 0 {
		panic("cocur: retaining a released RefCount")
	}
}

// Release decreases the reference count, returning true once it reaches the
// free state (zero references ever retained, or every retained reference
// released). Releasing an already-free RefCount panics.
func (c *RefCount) Release() bool {
	x := atomic.AddUint32(&c.count, ^uint32(0))
	switch {
	case x == refCountFree:
		if c.Action != nil {
			c.Action()
		}
		return true
	case x == refCountOops:
		panic("cocur: RefCount released too often")
	default:
		return false
	}
}
