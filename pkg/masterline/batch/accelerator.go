// Package batch collects fingerprint jobs into bounded batches and
// dispatches them to an accelerated execution path when one is
// available, falling back per job to the CPU path on failure.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/logger"
)

// Defaults for the flush policy.
const (
	DefaultBatchSize      = 50
	DefaultMaxWait        = 5 * time.Second
	DefaultMemoryFraction = 0.8
	defaultPollInterval   = 250 * time.Millisecond
)

// ErrStopped is returned by Submit after the accelerator shut down.
var ErrStopped = errors.New("batch accelerator stopped")

// Logger is the minimal logging surface; logrus satisfies it.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Job is one queued fingerprint request. Success or failure of a job is
// isolated within its batch.
type Job struct {
	TrackID    string
	Signature  string
	Buffer     *audio.Buffer
	EnqueuedAt time.Time

	result chan Outcome
}

// NewJob builds a job ready for submission.
func NewJob(trackID, signature string, buf *audio.Buffer) *Job {
	return &Job{
		TrackID:   trackID,
		Signature: signature,
		Buffer:    buf,
		result:    make(chan Outcome, 1),
	}
}

// Result delivers the job's outcome exactly once.
func (j *Job) Result() <-chan Outcome {
	return j.result
}

// estimatedBytes approximates the job's working-set size for the
// memory budget.
func (j *Job) estimatedBytes() uint64 {
	if j.Buffer == nil {
		return 0
	}
	return uint64(j.Buffer.Frames()) * uint64(j.Buffer.NumChannels()) * 8
}

// Config tunes the flush policy.
type Config struct {
	BatchSize      int
	MaxWait        time.Duration
	MemoryFraction float64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		c.MemoryFraction = DefaultMemoryFraction
	}
	return c
}

// Accelerator owns the pending queue and the consumer loop. Many
// producers submit concurrently; exactly one flush executes at a time.
type Accelerator struct {
	cfg      Config
	executor Executor
	fallback Executor
	log      Logger

	mu      sync.Mutex
	pending []*Job
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an accelerator. executor may be nil, in which case every
// flush runs on fallback directly. fallback must not be nil: it is the
// guaranteed path.
func New(executor, fallback Executor, cfg Config, log Logger) *Accelerator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Accelerator{
		cfg:      cfg.withDefaults(),
		executor: executor,
		fallback: fallback,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the consumer loop.
func (a *Accelerator) Start() {
	a.startOnce.Do(func() {
		go a.consume()
	})
}

// Stop flushes whatever is pending and waits for the loop to exit.
// The stopped flag is raised under the queue mutex before the loop is
// signalled, so every job accepted before it still reaches the final
// drain and no job is accepted after.
func (a *Accelerator) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
		close(a.stop)
		<-a.done
	})
}

// Submit queues a job. The returned channel receives the outcome once;
// callers racing a cancelled stream should select on their context.
func (a *Accelerator) Submit(ctx context.Context, job *Job) (<-chan Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil, ErrStopped
	}
	a.pending = append(a.pending, job)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	return job.Result(), nil
}

func (a *Accelerator) consume() {
	defer close(a.done)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			// final drain so queued jobs still complete
			for a.flush(context.Background()) > 0 {
			}
			return
		case <-a.wake:
		case <-ticker.C:
		}

		if a.shouldFlush() {
			a.flush(context.Background())
		}
	}
}

func (a *Accelerator) shouldFlush() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return false
	}
	if len(a.pending) >= a.cfg.BatchSize {
		return true
	}
	return time.Since(a.pending[0].EnqueuedAt) >= a.cfg.MaxWait
}

// flush takes one batch off the queue and executes it, returning how
// many jobs it completed. Only the consumer loop calls it, so a single
// flush runs at a time.
func (a *Accelerator) flush(ctx context.Context) int {
	jobs := a.take()
	if len(jobs) == 0 {
		return 0
	}

	executor := a.executor
	if executor == nil {
		executor = a.fallback
	}

	a.log.Debugf("flushing %d jobs on %s path", len(jobs), executor.Name())
	outcomes := executor.ExecuteBatch(ctx, jobs)

	var retried int
	for i, job := range jobs {
		out := outcomes[i]
		if out.Err == nil {
			job.result <- out
			continue
		}
		if executor == a.fallback {
			job.result <- out
			continue
		}
		// isolate the failing job and retry it on the guaranteed path
		a.log.Warnf("%s path rejected job %s, retrying on %s: %v",
			executor.Name(), job.TrackID, a.fallback.Name(), out.Err)
		retry := a.fallback.ExecuteBatch(ctx, []*Job{job})
		job.result <- retry[0]
		retried++
	}
	if retried > 0 {
		a.log.Infof("batch of %d completed with %d jobs retried on %s",
			len(jobs), retried, a.fallback.Name())
	}
	return len(jobs)
}

// take removes up to one batch from the queue, shrinking the batch
// further if the executor's memory budget would be exceeded.
func (a *Accelerator) take() []*Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}

	n := len(a.pending)
	if n > a.cfg.BatchSize {
		n = a.cfg.BatchSize
	}

	executor := a.executor
	if executor == nil {
		executor = a.fallback
	}
	if budget := executor.AvailableMemory(); budget > 0 {
		limit := uint64(float64(budget) * a.cfg.MemoryFraction)
		var used uint64
		kept := 0
		for _, job := range a.pending[:n] {
			sz := job.estimatedBytes()
			if kept > 0 && used+sz > limit {
				break
			}
			used += sz
			kept++
		}
		if kept < n {
			a.log.Debugf("shrinking batch %d -> %d jobs to fit %s budget",
				n, kept, humanize.IBytes(limit))
			n = kept
		}
	}

	jobs := make([]*Job, n)
	copy(jobs, a.pending[:n])
	a.pending = a.pending[n:]
	return jobs
}

// Pending reports the queue depth, for observability and tests.
func (a *Accelerator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
