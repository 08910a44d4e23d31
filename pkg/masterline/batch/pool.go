package batch

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Pool is a bounded worker pool with an explicit start/stop lifecycle.
// It is constructed and owned by whoever wires the pipeline together
// and injected into the components that need it; nothing reaches for a
// process-global scheduler.
type Pool struct {
	size  int
	tasks chan func()

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool of size workers. Sizes below 1 are raised to 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:  size,
		tasks: make(chan func(), size*4),
	}
}

// Start launches the workers. Starting twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
}

// Submit queues a task, blocking while the queue is full unless the
// context expires first. The send happens under the mutex so it can
// never race the close in Stop; Stop waits for a blocked Submit to
// land its task before the queue closes.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	close(p.tasks)
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
}
