package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"scientificgo.org/fft"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

// Executor is the dual-path dispatch capability: one implementation
// runs on the plain CPU extractor, the other on the radix-2 fast path.
// Call sites depend only on this interface; the concrete executor is
// selected once at startup by Detect.
type Executor interface {
	// Name identifies the path in logs.
	Name() string
	// AvailableMemory reports how many bytes one flush may hold, or 0
	// for unbounded.
	AvailableMemory() uint64
	// ExecuteBatch fingerprints every job, returning one outcome per
	// job in order. A failed job must not affect its neighbours.
	ExecuteBatch(ctx context.Context, jobs []*Job) []Outcome
}

// Outcome is the per-job result of a batch execution.
type Outcome struct {
	Fingerprint *fingerprint.Fingerprint
	Err         error
}

var (
	errEmptyJob        = errors.New("job carries no audio")
	errTooManyChannels = errors.New("fast path supports at most 2 channels")
	errNonFinite       = errors.New("fast path cannot process non-finite samples")
)

// cpuExecutor extracts fingerprints with the general FFT, fanned out
// over a worker pool. It cannot fail per job: bad input degrades to the
// neutral fingerprint inside the extractor.
type cpuExecutor struct {
	extractor *fingerprint.Extractor
	pool      *Pool
}

// NewCPUExecutor builds the guaranteed execution path on top of a
// worker pool owned by the caller.
func NewCPUExecutor(pool *Pool) Executor {
	return &cpuExecutor{
		extractor: fingerprint.NewExtractor(nil),
		pool:      pool,
	}
}

func (e *cpuExecutor) Name() string            { return "cpu" }
func (e *cpuExecutor) AvailableMemory() uint64 { return 0 }

func (e *cpuExecutor) ExecuteBatch(ctx context.Context, jobs []*Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		run := func() {
			defer wg.Done()
			fp := e.extractor.Extract(job.Buffer)
			fp.ContentSignature = job.Signature
			outcomes[i] = Outcome{Fingerprint: fp}
		}
		if err := e.pool.Submit(ctx, run); err != nil {
			wg.Done()
			outcomes[i] = Outcome{Err: err}
		}
	}
	wg.Wait()
	return outcomes
}

// radix2Executor is the accelerated path: it runs the extraction with a
// radix-2 FFT and stricter input validation. Jobs it cannot decode are
// reported individually so the accelerator can retry them on the CPU.
type radix2Executor struct {
	extractor *fingerprint.Extractor
	memory    uint64
}

// DefaultAcceleratorMemory models the fast path's working memory.
const DefaultAcceleratorMemory = 512 << 20

// NewRadix2Executor builds the fast path. memory bounds one flush; 0
// selects DefaultAcceleratorMemory.
func NewRadix2Executor(memory uint64) Executor {
	if memory == 0 {
		memory = DefaultAcceleratorMemory
	}
	return &radix2Executor{
		extractor: fingerprint.NewExtractor(radix2Transform),
		memory:    memory,
	}
}

func (e *radix2Executor) Name() string            { return "radix2" }
func (e *radix2Executor) AvailableMemory() uint64 { return e.memory }

func (e *radix2Executor) ExecuteBatch(ctx context.Context, jobs []*Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := validateFastPathJob(job); err != nil {
				outcomes[i] = Outcome{Err: fmt.Errorf("job %s: %w", job.TrackID, err)}
				return
			}
			fp := e.extractor.Extract(job.Buffer)
			fp.ContentSignature = job.Signature
			outcomes[i] = Outcome{Fingerprint: fp}
		}()
	}
	wg.Wait()
	return outcomes
}

// validateFastPathJob rejects content the radix-2 path cannot process.
func validateFastPathJob(job *Job) error {
	buf := job.Buffer
	if buf == nil || buf.Empty() || buf.Frames() < fingerprint.WindowSize {
		return errEmptyJob
	}
	if buf.NumChannels() > 2 {
		return errTooManyChannels
	}
	for _, ch := range buf.Channels {
		for _, s := range ch {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return errNonFinite
			}
		}
	}
	return nil
}

// radix2Transform computes the spectrum with scientificgo's FFT, which
// is only exercised with power-of-two frames (the analysis window is
// one).
func radix2Transform(frame []float64) []complex128 {
	x := make([]complex128, len(frame))
	for i, s := range frame {
		x[i] = complex(s, 0)
	}
	return fft.Fft(x, false)
}

// isPowerOfTwo is used by the startup self-test.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Detect selects the executor for this process: the radix-2 path when
// requested and its self-test passes, the CPU path otherwise. The
// self-test compares one transform against the general FFT.
func Detect(useFastPath bool, memory uint64) Executor {
	if !useFastPath || !isPowerOfTwo(fingerprint.WindowSize) {
		return nil
	}
	probe := make([]float64, fingerprint.WindowSize)
	for i := range probe {
		probe[i] = math.Sin(2 * math.Pi * float64(i) / 64)
	}
	want := fingerprint.FFTReal(probe)
	got := radix2Transform(probe)
	if len(want) != len(got) {
		return nil
	}
	for i := range want {
		if delta := want[i] - got[i]; math.Abs(real(delta)) > 1e-6 || math.Abs(imag(delta)) > 1e-6 {
			return nil
		}
	}
	return NewRadix2Executor(memory)
}
