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

// Package cocur provides the cooperative concurrency primitives shared by
// the cocur module: a FIFO waiter list, a cancellation abstraction, a
// reference counter, and a couple of bonus synchronization helpers: a
// Semaphore built on the waiter list, and a Barrier built on sync.Cond.
//
// The typed primitives a caller usually wants — Once, OnceAsync, Lazy,
// LazyAsync, Mutex, RwLock, Channel, and the keyed Registry built atop
// Mutex — live in the concord subpackage. Its Mutex and RwLock are built on
// the Waitlist and Canceler defined here and its Registry on RefCount; the
// other primitives keep their own internal bookkeeping.
package cocur
