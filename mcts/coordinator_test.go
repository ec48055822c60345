package mcts

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkCoordinatorBatchLifecycle(t *testing.T) {
	c := NewWorkCoordinator(2)
	assert.True(t, c.AllWorkItemsCompleted(), "no work published yet")

	var completed int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c.WaitForWorkItems() {
				for !c.AllWorkItemsCompleted() {
					atomic.AddInt64(&completed, 1)
					c.OnWorkItemCompleted()
				}
				c.OnWorkerIdle()
			}
		}()
	}

	c.ResetWorkItemsRemaining(10)
	c.WaitForWorkers()
	assert.True(t, c.AllWorkItemsCompleted())
	assert.GreaterOrEqual(t, atomic.LoadInt64(&completed), int64(10))

	// A second batch reuses the same workers.
	c.ResetWorkItemsRemaining(5)
	c.WaitForWorkers()
	assert.True(t, c.AllWorkItemsCompleted())

	c.ShutDown()
	wg.Wait()
}

func TestWorkCoordinatorStopAll(t *testing.T) {
	c := NewWorkCoordinator(1)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c.WaitForWorkItems() {
			close(started)
			for !c.AllWorkItemsCompleted() {
				time.Sleep(time.Millisecond)
			}
			c.OnWorkerIdle()
		}
	}()

	c.ResetWorkItemsRemaining(1 << 30)
	<-started
	c.StopAll()
	c.WaitForWorkers()

	c.ShutDown()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after shutdown")
	}
}

func TestWaitForWorkItemsReturnsFalseOnShutdown(t *testing.T) {
	c := NewWorkCoordinator(1)
	done := make(chan bool, 1)
	go func() { done <- c.WaitForWorkItems() }()
	c.ShutDown()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForWorkItems did not observe shutdown")
	}
}

func TestOnWorkItemCompletedClamps(t *testing.T) {
	c := NewWorkCoordinator(1)
	c.ResetWorkItemsRemaining(1)
	require.True(t, c.WaitForWorkItems())
	c.OnWorkItemCompleted()
	c.OnWorkItemCompleted()
	assert.True(t, c.AllWorkItemsCompleted())
}
