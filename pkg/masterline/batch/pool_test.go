package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(3)
	pool.Start()
	defer pool.Stop()

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func() {
			defer wg.Done()
			atomic.AddInt32(&count, 1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.EqualValues(t, 20, atomic.LoadInt32(&count))
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	pool.Stop()

	err := pool.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolSubmitRacingStop(t *testing.T) {
	pool := NewPool(1)
	pool.Start()

	release := make(chan struct{})
	var ran int32
	require.NoError(t, pool.Submit(context.Background(), func() {
		<-release
		atomic.AddInt32(&ran, 1)
	}))

	// fill the queue behind the parked worker, then leave one more
	// Submit blocked on the full queue while Stop runs
	queued := 1
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := pool.Submit(ctx, func() { atomic.AddInt32(&ran, 1) })
		cancel()
		if err != nil {
			break
		}
		queued++
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- pool.Submit(context.Background(), func() { atomic.AddInt32(&ran, 1) })
	}()

	stopped := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		pool.Stop()
		close(stopped)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	<-stopped

	// the blocked Submit must either land its task or report the
	// stopped pool; it must never panic on a closed queue
	select {
	case err := <-blocked:
		if err == nil {
			queued++
		} else {
			assert.ErrorIs(t, err, ErrPoolStopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit still blocked after Stop")
	}

	assert.EqualValues(t, queued, atomic.LoadInt32(&ran))
	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), ErrPoolStopped)
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	// occupy the single worker and fill the task queue
	require.NoError(t, pool.Submit(context.Background(), func() { <-block }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		err := pool.Submit(ctx, func() {})
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			break
		}
	}
	close(block)
}
