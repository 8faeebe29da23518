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
	"math"
	"sync"
	"time"

	"github.com/outpostdev/cocur"
	"github.com/outpostdev/cocur/maybe"
)

// Unbounded marks a Channel with no buffering limit. Pass it to NewChannel,
// or use NewUnboundedChannel.
const Unbounded = math.MaxInt

// Channel is a bounded/unbounded/rendezvous multi-producer multi-consumer
// queue. It does not reuse cocur.Waitlist: waiters here carry a payload (the
// value being sent, or the slot to deliver a received value into), and a
// blocked sender can be resolved directly by a receiver arriving on the
// other side without ever being "woken up" to retry — something a
// payload-less Waiter cannot express. Every mutation of
// buf/sendWaiters/recvWaiters happens under mu.
type Channel[T any] struct {
	mu       sync.Mutex
	buf      []T
	capacity int
	closed   bool

	sendWaiters []*sendWaiter[T]
	recvWaiters []*recvWaiter[T]
}

type sendWaiter[T any] struct {
	value T
	done  chan struct{}
	ok    bool
}

type recvWaiter[T any] struct {
	done  chan struct{}
	value maybe.Option[T]
}

// NewChannel creates a Channel with room for capacity buffered values.
// capacity 0 is rendezvous mode: every send blocks until a receiver is
// already waiting. A negative capacity panics with cocur.ErrInvalidCapacity.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 && capacity != Unbounded {
		panic(cocur.ErrInvalidCapacity)
	}
	return &Channel[T]{capacity: capacity}
}

// NewUnboundedChannel creates a Channel with no capacity limit.
func NewUnboundedChannel[T any]() *Channel[T] {
	return NewChannel[T](Unbounded)
}

// trySendLocked attempts steps 1-3 of send: closed check, handoff to a
// waiting receiver, or buffering. done reports whether the attempt
// concluded without needing to queue; result is the outcome when done.
// mu must be held.
func (c *Channel[T]) trySendLocked(v T) (done, result bool) {
	if c.closed {
		return true, false
	}
	if len(c.recvWaiters) > 0 {
		w := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		w.value = maybe.Some(v)
		close(w.done)
		return true, true
	}
	if len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return true, true
	}
	return false, false
}

// Send delivers v, blocking if the channel is full and no receiver is
// waiting. It reports false if the channel was, or became, closed before
// delivery.
func (c *Channel[T]) Send(v T) bool {
	c.mu.Lock()
	if done, result := c.trySendLocked(v); done {
		c.mu.Unlock()
		return result
	}
	w := &sendWaiter[T]{value: v, done: make(chan struct{})}
	c.sendWaiters = append(c.sendWaiters, w)
	c.mu.Unlock()

	<-w.done
	return w.ok
}

// TrySend attempts delivery without blocking.
func (c *Channel[T]) TrySend(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, result := c.trySendLocked(v)
	return result
}

// SendTimeout attempts delivery, blocking at most dur if the channel is
// full. The waiter is removed from the queue by identity if the timer
// fires first; if delivery already happened by then the removal is a
// harmless miss and the already-decided outcome is returned.
func (c *Channel[T]) SendTimeout(v T, dur time.Duration) bool {
	c.mu.Lock()
	if done, result := c.trySendLocked(v); done {
		c.mu.Unlock()
		return result
	}
	w := &sendWaiter[T]{value: v, done: make(chan struct{})}
	c.sendWaiters = append(c.sendWaiters, w)
	c.mu.Unlock()

	timer := time.NewTimer(dur)
	select {
	case <-w.done:
		timer.Stop()
		return w.ok
	case <-timer.C:
		c.mu.Lock()
		if idx := indexOfSendWaiter(c.sendWaiters, w); idx >= 0 {
			c.sendWaiters = append(c.sendWaiters[:idx], c.sendWaiters[idx+1:]...)
			c.mu.Unlock()
			w.ok = false
			close(w.done)
			return false
		}
		c.mu.Unlock()
		<-w.done
		return w.ok
	}
}

func indexOfSendWaiter[T any](waiters []*sendWaiter[T], target *sendWaiter[T]) int {
	for i, w := range waiters {
		if w == target {
			return i
		}
	}
	return -1
}

func indexOfRecvWaiter[T any](waiters []*recvWaiter[T], target *recvWaiter[T]) int {
	for i, w := range waiters {
		if w == target {
			return i
		}
	}
	return -1
}

// tryReceiveLocked attempts steps 1-3 of receive. mu must be held.
func (c *Channel[T]) tryReceiveLocked() (done bool, result maybe.Option[T]) {
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = c.buf[1:]
		if len(c.sendWaiters) > 0 {
			w := c.sendWaiters[0]
			c.sendWaiters = c.sendWaiters[1:]
			c.buf = append(c.buf, w.value)
			w.ok = true
			close(w.done)
		}
		return true, maybe.Some(v)
	}
	if len(c.sendWaiters) > 0 {
		w := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		w.ok = true
		close(w.done)
		return true, maybe.Some(w.value)
	}
	if c.closed {
		return true, maybe.None[T]()
	}
	return false, maybe.None[T]()
}

// Receive blocks until a value is available or the channel is closed and
// drained, returning None in the latter case.
func (c *Channel[T]) Receive() maybe.Option[T] {
	c.mu.Lock()
	if done, result := c.tryReceiveLocked(); done {
		c.mu.Unlock()
		return result
	}
	w := &recvWaiter[T]{done: make(chan struct{})}
	c.recvWaiters = append(c.recvWaiters, w)
	c.mu.Unlock()

	<-w.done
	return w.value
}

// TryReceive attempts to receive without blocking.
func (c *Channel[T]) TryReceive() maybe.Option[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, result := c.tryReceiveLocked()
	return result
}

// ReceiveTimeout blocks at most dur waiting for a value.
func (c *Channel[T]) ReceiveTimeout(dur time.Duration) maybe.Option[T] {
	c.mu.Lock()
	if done, result := c.tryReceiveLocked(); done {
		c.mu.Unlock()
		return result
	}
	w := &recvWaiter[T]{done: make(chan struct{})}
	c.recvWaiters = append(c.recvWaiters, w)
	c.mu.Unlock()

	timer := time.NewTimer(dur)
	select {
	case <-w.done:
		timer.Stop()
		return w.value
	case <-timer.C:
		c.mu.Lock()
		if idx := indexOfRecvWaiter(c.recvWaiters, w); idx >= 0 {
			c.recvWaiters = append(c.recvWaiters[:idx], c.recvWaiters[idx+1:]...)
			c.mu.Unlock()
			w.value = maybe.None[T]()
			close(w.done)
			return maybe.None[T]()
		}
		c.mu.Unlock()
		<-w.done
		return w.value
	}
}

// Close is idempotent. It marks the channel closed, fails every queued
// sender with false, and settles every queued receiver with None.
// Buffered values remain and are still delivered by later Receive calls.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sendWaiters := c.sendWaiters
	recvWaiters := c.recvWaiters
	c.sendWaiters = nil
	c.recvWaiters = nil
	c.mu.Unlock()

	for _, w := range sendWaiters {
		w.ok = false
		close(w.done)
	}
	for _, w := range recvWaiters {
		w.value = maybe.None[T]()
		close(w.done)
	}
}

// Range calls fn with each received value, in order, until the channel is
// drained and closed or fn returns false.
func (c *Channel[T]) Range(fn func(T) bool) {
	for {
		v, ok := c.Receive().Get()
		if !ok {
			return
		}
		if !fn(v) {
			return
		}
	}
}

// Capacity reports the configured capacity (Unbounded for no limit).
func (c *Channel[T]) Capacity() int {
	return c.capacity
}

// Len reports the number of buffered values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// IsClosed reports whether Close has been called.
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsEmpty reports whether the buffer currently holds no values.
func (c *Channel[T]) IsEmpty() bool {
	return c.Len() == 0
}

// IsFull reports whether the buffer is at capacity. A rendezvous channel
// (capacity 0) is always full.
func (c *Channel[T]) IsFull() bool {
	if c.capacity == 0 {
		return true
	}
	return c.Len() >= c.capacity
}

// String renders a short diagnostic form: occupancy, capacity, and whether
// the channel is closed.
func (c *Channel[T]) String() string {
	cap := "∞"
	if c.capacity != Unbounded {
		cap = fmt.Sprintf("%d", c.capacity)
	}
	suffix := ""
	if c.IsClosed() {
		suffix = " <closed>"
	}
	return fmt.Sprintf("Channel(%d/%s%s)", c.Len(), cap, suffix)
}

// Sender is a restricted view of a Channel exposing only the send surface.
type Sender[T any] struct {
	c *Channel[T]
}

// Sender returns a cached-shape view exposing only send operations.
func (c *Channel[T]) Sender() *Sender[T] { return &Sender[T]{c: c} }

func (s *Sender[T]) Send(v T) bool                              { return s.c.Send(v) }
func (s *Sender[T]) TrySend(v T) bool                            { return s.c.TrySend(v) }
func (s *Sender[T]) SendTimeout(v T, dur time.Duration) bool     { return s.c.SendTimeout(v, dur) }
func (s *Sender[T]) Capacity() int                               { return s.c.Capacity() }
func (s *Sender[T]) Len() int                                    { return s.c.Len() }
func (s *Sender[T]) IsClosed() bool                              { return s.c.IsClosed() }
func (s *Sender[T]) IsEmpty() bool                               { return s.c.IsEmpty() }
func (s *Sender[T]) IsFull() bool                                { return s.c.IsFull() }
func (s *Sender[T]) String() string                              { return "Sender" + s.c.String()[len("Channel"):] }

// Receiver is a restricted view of a Channel exposing only the receive
// surface.
type Receiver[T any] struct {
	c *Channel[T]
}

// Receiver returns a cached-shape view exposing only receive operations.
func (c *Channel[T]) Receiver() *Receiver[T] { return &Receiver[T]{c: c} }

func (r *Receiver[T]) Receive() maybe.Option[T]                     { return r.c.Receive() }
func (r *Receiver[T]) TryReceive() maybe.Option[T]                  { return r.c.TryReceive() }
func (r *Receiver[T]) ReceiveTimeout(dur time.Duration) maybe.Option[T] {
	return r.c.ReceiveTimeout(dur)
}
func (r *Receiver[T]) Range(fn func(T) bool) { r.c.Range(fn) }
func (r *Receiver[T]) Capacity() int         { return r.c.Capacity() }
func (r *Receiver[T]) Len() int              { return r.c.Len() }
func (r *Receiver[T]) IsClosed() bool        { return r.c.IsClosed() }
func (r *Receiver[T]) IsEmpty() bool         { return r.c.IsEmpty() }
func (r *Receiver[T]) IsFull() bool          { return r.c.IsFull() }
func (r *Receiver[T]) String() string        { return "Receiver" + r.c.String()[len("Channel"):] }
