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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/outpostdev/cocur"
)

func TestNewChannelInvalidCapacityPanics(t *testing.T) {
	assert.PanicsWithValue(t, cocur.ErrInvalidCapacity, func() {
		NewChannel[int](-2)
	})
}

func TestChannelBufferedSendReceive(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](2)
	assert.True(t, c.Send(1))
	assert.True(t, c.Send(2))
	assert.True(t, c.IsFull())

	v, ok := c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.True(t, c.IsEmpty())
}

// TestChannelBackpressureBlocksThenUnblocks is spec.md §8's concrete
// scenario 2: trySend fills the buffer, a further send blocks, and draining
// one value unblocks it while length stays at capacity.
func TestChannelBackpressureBlocksThenUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](2)
	assert.True(t, c.TrySend(1))
	assert.True(t, c.TrySend(2))

	sendResult := make(chan bool, 1)
	go func() { sendResult <- c.Send(3) }()

	select {
	case <-sendResult:
		t.Fatal("send(3) resolved while the buffer was still full")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, <-sendResult)
	assert.Equal(t, 2, c.Len())
}

// TestChannelBackpressureQueuedSendersUnblockInOrder is spec.md §8's
// "queued senders S2, S3, S4 unblock in order as a consumer drains" case.
func TestChannelBackpressureQueuedSendersUnblockInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](1)
	assert.True(t, c.TrySend(1))

	var order []int
	var mu sync.Mutex
	done := make(chan struct{}, 3)
	for _, v := range []int{2, 3, 4} {
		v := v
		go func() {
			assert.True(t, c.Send(v))
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			done <- struct{}{}
		}()
		require.Eventually(t, func() bool { return len(c.sendWaiters) == v-1 }, time.Second, time.Millisecond)
	}

	for i := 0; i < 4; i++ {
		v, ok := c.Receive().Get()
		require.True(t, ok)
		_ = v
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Equal(t, []int{2, 3, 4}, order)
}

func TestChannelTrySendTryReceive(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](1)
	assert.True(t, c.TrySend(1))
	assert.False(t, c.TrySend(2))

	v, ok := c.TryReceive().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.TryReceive().Get()
	assert.False(t, ok)
}

func TestChannelRendezvous(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	assert.True(t, c.IsFull())
	assert.False(t, c.TrySend(1))

	sendResult := make(chan bool, 1)
	go func() { sendResult <- c.Send(42) }()

	v, ok := c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.True(t, <-sendResult)
}

func TestChannelFIFOAcrossSenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	const n = 5
	for i := 0; i < n; i++ {
		i := i
		go c.Send(i)
		require.Eventually(t, func() bool { return len(c.sendWaiters) == i+1 }, time.Second, time.Millisecond)
	}

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		v, ok := c.Receive().Get()
		require.True(t, ok)
		assert.Equal(t, i, v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestChannelCloseDrainsThenNone(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](2)
	c.Send(1)
	c.Close()
	assert.False(t, c.Send(2))

	v, ok := c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Receive().Get()
	assert.False(t, ok)

	// Close is idempotent.
	c.Close()
}

func TestChannelCloseResolvesQueuedWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	sendResult := make(chan bool, 1)
	go func() { sendResult <- c.Send(1) }()
	require.Eventually(t, func() bool { return len(c.sendWaiters) == 1 }, time.Second, time.Millisecond)

	recvResult := make(chan bool, 1)
	go func() {
		_, ok := c.Receive().Get()
		recvResult <- ok
	}()

	c2 := NewChannel[int](0)
	recvResult2 := make(chan bool, 1)
	go func() {
		_, ok := c2.Receive().Get()
		recvResult2 <- ok
	}()
	require.Eventually(t, func() bool { return len(c2.recvWaiters) == 1 }, time.Second, time.Millisecond)
	c2.Close()
	assert.False(t, <-recvResult2)

	// Let the real rendezvous above settle naturally too.
	assert.True(t, <-sendResult)
	assert.True(t, <-recvResult)
}

func TestChannelSendTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	assert.False(t, c.SendTimeout(1, 10*time.Millisecond))
	assert.Equal(t, 0, c.Len())
}

func TestChannelReceiveTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	_, ok := c.ReceiveTimeout(10 * time.Millisecond).Get()
	assert.False(t, ok)
}

func TestChannelSendTimeoutDeliveredJustInTime(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](0)
	sendResult := make(chan bool, 1)
	go func() { sendResult <- c.SendTimeout(7, 200*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(c.sendWaiters) == 1 }, time.Second, time.Millisecond)
	v, ok := c.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.True(t, <-sendResult)
}

func TestChannelUnboundedNeverBlocksSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewUnboundedChannel[int]()
	for i := 0; i < 1000; i++ {
		assert.True(t, c.Send(i))
	}
	assert.Equal(t, 1000, c.Len())
}

func TestChannelRange(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](4)
	for i := 0; i < 3; i++ {
		c.Send(i)
	}
	c.Close()

	var got []int
	c.Range(func(v int) bool {
		got = append(got, v)
		return true
	})
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestSenderReceiverViews(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewChannel[int](1)
	s := c.Sender()
	r := c.Receiver()

	assert.True(t, s.Send(1))
	v, ok := r.Receive().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, c.Capacity(), s.Capacity())
	assert.Equal(t, c.Capacity(), r.Capacity())
}

// TestChannelFIFOMultipleConsumers is spec.md §8's concrete scenario 3: an
// unbounded channel is pre-filled with 0..29 and closed, then three
// consumers drain it concurrently via Range. cocur.Barrier lines all three
// up at the same instant before any of them issues its first Receive, so
// the drain genuinely races rather than running consumer-by-consumer.
func TestChannelFIFOMultipleConsumers(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 30
	const consumers = 3

	c := NewUnboundedChannel[int]()
	for i := 0; i < n; i++ {
		c.Send(i)
	}
	c.Close()

	start := cocur.NewBarrier(consumers)
	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			start.Wait()
			c.Range(func(v int) bool {
				mu.Lock()
				seen[v] = true
				mu.Unlock()
				return true
			})
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.True(t, seen[i], "value %d was never received", i)
	}
}

// TestChannelNoLossNoDoubleDeliveryFanOut drives many producers and
// consumers against a small bounded channel and checks that the multiset of
// received values equals the multiset of sent values exactly once each
// (spec.md §8, "No double delivery / no loss across M producers and K
// consumers").
func TestChannelNoLossNoDoubleDeliveryFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	const producers = 6
	const perProducer = 50
	const consumers = 4
	const total = producers * perProducer

	c := NewChannel[int](3)

	var sendWg sync.WaitGroup
	sendWg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer sendWg.Done()
			for i := 0; i < perProducer; i++ {
				assert.True(t, c.Send(p*perProducer+i))
			}
		}()
	}

	received := make(chan int, total)
	var recvWg sync.WaitGroup
	recvWg.Add(consumers)
	for k := 0; k < consumers; k++ {
		go func() {
			defer recvWg.Done()
			c.Range(func(v int) bool {
				received <- v
				return true
			})
		}()
	}

	sendWg.Wait()
	c.Close()
	recvWg.Wait()
	close(received)

	counts := make(map[int]int, total)
	for v := range received {
		counts[v]++
	}
	assert.Len(t, counts, total)
	for v, n := range counts {
		assert.Equal(t, 1, n, "value %d delivered %d times", v, n)
	}
}
