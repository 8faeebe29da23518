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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestOnceAsyncGetOrInitCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	var calls int32
	release := make(chan struct{})
	fn := func() int {
		atomic.AddInt32(&calls, 1)
		<-release
		return 10
	}

	const n = 5
	results := make(chan int, n)
	var ready sync.WaitGroup
	ready.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			ready.Done()
			f := o.GetOrInit(fn)
			v, err := f.Wait()
			require.NoError(t, err)
			results <- v
		}()
	}
	ready.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < n; i++ {
		assert.Equal(t, 10, <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOnceAsyncResolvedIdentityStableUntilTake(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	o.GetOrInit(func() int { return 1 })

	f1 := o.Wait()
	f2 := o.GetOrInit(func() int { return 99 })
	assert.Equal(t, f1, f2)

	v, ok := o.Take().Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	f3 := o.GetOrInit(func() int { return 2 })
	assert.NotEqual(t, f1, f3)
}

func TestOnceAsyncGetOrTryInitJoinerRetriesOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	release := make(chan struct{})

	errResult := make(chan error, 1)
	go func() {
		f := o.GetOrTryInit(func() (int, error) {
			<-release
			return 0, errors.New("first fails")
		})
		r, _ := f.Wait()
		errResult <- r.UnwrapErr()
	}()

	joinerResult := make(chan int, 1)
	go func() {
		f := o.GetOrTryInit(func() (int, error) { return 5, nil })
		r, _ := f.Wait()
		joinerResult <- r.Unwrap()
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Error(t, <-errResult)
	assert.Equal(t, 5, <-joinerResult)
}

func TestOnceAsyncWaitBeforeInit(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	f := o.Wait()

	select {
	case <-f.Done():
		t.Fatal("future should not be settled yet")
	default:
	}

	res := o.Set(3)
	assert.True(t, res.IsOk())

	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestOnceAsyncPanicPropagatesToInitiatorOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	release := make(chan struct{})
	started := make(chan struct{})

	initiatorPanicked := make(chan bool, 1)
	go func() {
		defer func() { initiatorPanicked <- recover() != nil }()
		close(started)
		o.GetOrInit(func() int {
			<-release
			panic("kaboom")
		})
	}()

	<-started
	time.Sleep(10 * time.Millisecond)

	joinerErr2 := make(chan error, 1)
	go func() {
		f := o.GetOrInit(func() int { panic("should not run") })
		_, err := f.Wait()
		joinerErr2 <- err
	}()

	close(release)
	assert.True(t, <-initiatorPanicked)
	assert.Error(t, <-joinerErr2)

	// Cell remains uninitialized, so a later attempt can still succeed.
	assert.False(t, o.IsInitialized())
	f3 := o.GetOrInit(func() int { return 1 })
	v, err := f3.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestOnceAsyncTryInsert(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOnceAsync[int]()
	res := o.TryInsert(1)
	require.True(t, res.IsOk())

	res2 := o.TryInsert(2)
	require.True(t, res2.IsErr())
	assert.Equal(t, 1, res2.UnwrapErr().Current)
}

func TestOnceAsyncString(t *testing.T) {
	o := NewOnceAsync[int]()
	assert.Equal(t, "OnceAsync(<uninitialized>)", o.String())
	o.Set(5)
	assert.Equal(t, "OnceAsync(5)", o.String())
}
