// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	q := New[int](4)

	assert.Equal(t, 4, q.Cap())
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Empty())
	assert.False(t, q.Closed())
}

func TestNew_ClampsCapacity(t *testing.T) {
	q := New[int](0)
	assert.Equal(t, 1, q.Cap())
}

func TestQueue_PushPop_FIFO(t *testing.T) {
	q := New[int](4)

	require.Equal(t, ResultOK, q.Push(1))
	require.Equal(t, ResultOK, q.Push(2))
	require.Equal(t, ResultOK, q.Push(3))
	assert.Equal(t, 3, q.Len())

	for want := 1; want <= 3; want++ {
		v, res := q.WaitPop()
		require.Equal(t, ResultOK, res)
		assert.Equal(t, want, v)
	}
	assert.True(t, q.Empty())
}

func TestQueue_PushFor_TimesOutWhenFull(t *testing.T) {
	q := New[int](2)

	require.Equal(t, ResultOK, q.Push(1))
	require.Equal(t, ResultOK, q.Push(2))

	start := time.Now()
	res := q.PushFor(3, 80*time.Millisecond)
	waited := time.Since(start)

	assert.Equal(t, ResultTimedOut, res)
	assert.GreaterOrEqual(t, waited, 40*time.Millisecond)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_WaitPop_BlocksUntilPush(t *testing.T) {
	q := New[int](4)

	got := make(chan int, 1)
	go func() {
		v, res := q.WaitPop()
		if res == ResultOK {
			got <- v
		}
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("WaitPop returned before push")
	default:
	}

	require.Equal(t, ResultOK, q.Push(42))

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitPop did not return after push")
	}
}

func TestQueue_WaitPopFor_TimesOutWhenEmpty(t *testing.T) {
	q := New[int](4)

	start := time.Now()
	_, res := q.WaitPopFor(80 * time.Millisecond)
	waited := time.Since(start)

	assert.Equal(t, ResultTimedOut, res)
	assert.GreaterOrEqual(t, waited, 40*time.Millisecond)
}

func TestQueue_Close_WakesBlockedConsumer(t *testing.T) {
	q := New[int](4)

	done := make(chan Result, 1)
	go func() {
		_, res := q.WaitPop()
		done <- res
	}()

	time.Sleep(30 * time.Millisecond)
	q.Close()

	select {
	case res := <-done:
		assert.Equal(t, ResultClosed, res)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake blocked consumer")
	}
	assert.True(t, q.Closed())
}

func TestQueue_Close_WakesBlockedProducer(t *testing.T) {
	q := New[int](1)
	require.Equal(t, ResultOK, q.Push(1))

	done := make(chan Result, 1)
	go func() {
		done <- q.Push(2)
	}()

	time.Sleep(30 * time.Millisecond)
	q.Close()

	select {
	case res := <-done:
		assert.Equal(t, ResultClosed, res)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake blocked producer")
	}
}

func TestQueue_Push_AfterClose(t *testing.T) {
	q := New[int](4)
	q.Close()

	assert.Equal(t, ResultClosed, q.Push(1))
	assert.Equal(t, ResultClosed, q.PushFor(1, 10*time.Millisecond))
}

func TestQueue_Close_Idempotent(t *testing.T) {
	q := New[int](4)
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestQueue_DrainsAfterClose(t *testing.T) {
	q := New[int](4)
	require.Equal(t, ResultOK, q.Push(1))
	require.Equal(t, ResultOK, q.Push(2))

	q.Close()

	v, res := q.WaitPop()
	require.Equal(t, ResultOK, res)
	assert.Equal(t, 1, v)

	v, res = q.WaitPopFor(10 * time.Millisecond)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, 2, v)

	// Closed wins once empty.
	_, res = q.WaitPop()
	assert.Equal(t, ResultClosed, res)
	_, res = q.WaitPopFor(10 * time.Millisecond)
	assert.Equal(t, ResultClosed, res)
}

func TestQueue_NoBusyWait(t *testing.T) {
	q := New[int](4)

	returns := 0
	start := time.Now()
	for time.Since(start) < 250*time.Millisecond {
		_, res := q.WaitPopFor(50 * time.Millisecond)
		require.Equal(t, ResultTimedOut, res)
		returns++
	}

	assert.LessOrEqual(t, returns, 20)
}

func TestQueue_CapacityOne_TransportsAll(t *testing.T) {
	q := New[int](1)
	const total = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if q.Push(i) != ResultOK {
				return
			}
		}
		q.Close()
	}()

	got := make([]int, 0, total)
	for {
		v, res := q.WaitPop()
		if res == ResultClosed {
			break
		}
		require.Equal(t, ResultOK, res)
		got = append(got, v)
	}
	wg.Wait()

	require.Len(t, got, total)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := New[int](16)
	const producers = 4
	const perProducer = 1000

	var prodWg sync.WaitGroup
	prodWg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer prodWg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}

	go func() {
		prodWg.Wait()
		q.Close()
	}()

	var mu sync.Mutex
	seen := make(map[int]struct{})

	var consWg sync.WaitGroup
	consWg.Add(4)
	for c := 0; c < 4; c++ {
		go func() {
			defer consWg.Done()
			for {
				v, res := q.WaitPopFor(50 * time.Millisecond)
				switch res {
				case ResultClosed:
					return
				case ResultTimedOut:
					continue
				}
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	consWg.Wait()

	assert.Len(t, seen, producers*perProducer)
	assert.LessOrEqual(t, q.Len(), 0)
}

func TestQueue_SizeNeverExceedsCapacity(t *testing.T) {
	q := New[int](8)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			q.PushFor(i, time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			q.WaitPopFor(time.Millisecond)
		}
	}()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		assert.LessOrEqual(t, q.Len(), 8)
	}
	close(stop)
	wg.Wait()
}
