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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/outpostdev/cocur"
)

func TestRegistryLockUnlockRemovesEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	g := r.Lock("a")
	assert.Equal(t, 1, r.Len())
	g.Unlock()
	assert.Equal(t, 0, r.Len())

	// Idempotent unlock.
	g.Unlock()
}

func TestRegistryDifferentKeysIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	ga := r.Lock("a")
	gb := r.Lock("b")
	assert.Equal(t, 2, r.Len())
	ga.Unlock()
	gb.Unlock()
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySameKeySerializes(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	g1 := r.Lock("k")

	acquired := make(chan struct{})
	go func() {
		g2 := r.Lock("k")
		close(acquired)
		g2.Unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second locker should not acquire while first holds the key")
	default:
	}

	g1.Unlock()
	<-acquired
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
}

func TestRegistryTryLock(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	g, ok := r.TryLock("k")
	require.True(t, ok)

	_, ok = r.TryLock("k")
	assert.False(t, ok)
	// A failed TryLock must not leave a stray reference behind.
	assert.Equal(t, 1, r.Len())

	g.Unlock()
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentDistinctKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%10))
			g := r.Lock(key)
			time.Sleep(time.Millisecond)
			if g.key != key {
				errs <- cocur.Wrapf(errors.New("guard key mismatch"), "goroutine "+key)
			}
			g.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		failures = append(failures, err)
	}
	require.NoError(t, cocur.WrapAllf(failures, "registry fan-out"))
	assert.Equal(t, 0, r.Len())
}
