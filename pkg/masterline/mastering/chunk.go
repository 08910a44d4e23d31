package mastering

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
)

// State is the processor's lifecycle position.
type State int

const (
	StateInit State = iota
	StateProcessing
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FadeCurve selects the crossfade shape over the overlap window.
type FadeCurve int

const (
	FadeEqualPower FadeCurve = iota
	FadeLinear
)

// Chunk processing defaults. Chunk duration is kept short so a
// mastering toggle resumes quickly from the current offset instead of
// relying on a large lookahead buffer.
const (
	DefaultChunkDuration   = 3 * time.Second
	DefaultOverlapDuration = 250 * time.Millisecond
	DefaultMaxStepDB       = 1.5
)

// ChunkConfig tunes the splitter and the level smoother.
type ChunkConfig struct {
	ChunkDuration   time.Duration
	OverlapDuration time.Duration
	Fade            FadeCurve
	MaxStepDB       float64
}

// DefaultChunkConfig returns the observed defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkDuration:   DefaultChunkDuration,
		OverlapDuration: DefaultOverlapDuration,
		Fade:            FadeEqualPower,
		MaxStepDB:       DefaultMaxStepDB,
	}
}

// Chunk is one processed window of a track, ready for delivery. The
// transport reassembles continuous audio from Index, TotalChunks and
// OverlapFrames; nothing here is retained after delivery.
type Chunk struct {
	Index         int
	StartFrame    int
	EndFrame      int
	OverlapFrames int
	TotalChunks   int
	PCM           *audio.Buffer
	GainApplied   float64 // smoothing correction, dB
}

// snapshot is the carried state at one chunk boundary. Keeping the
// boundary snapshots lets a repeated request for an already-produced
// index re-run deterministically, byte for byte. One tail is retained
// per produced chunk until Cancel, roughly overlap/step of the track's
// PCM again (about 9% at the defaults); a transport may replay any
// index at any time, so none of them can be dropped early.
type snapshot struct {
	tail    [][]float64
	rmsDB   float64
	hasPrev bool
}

// Processor splits one track into overlapping chunks and applies the
// track's single parameter set to each. It owns all cross-chunk
// mutable state; nothing is shared between tracks.
type Processor struct {
	buf    *audio.Buffer
	params ParameterSet
	cfg    ChunkConfig

	chunkFrames   int
	overlapFrames int
	stepFrames    int
	total         int

	mu            sync.Mutex
	state         State
	nextIndex     int
	maxProduced   int // highest index produced + 1
	snapshots     map[int]snapshot
	gainHistory   []float64
	clampedLogged bool
}

// NewProcessor validates the configuration and builds a processor. A
// zero-duration source or an overlap of at least half the chunk
// duration is a ConfigError; nothing past this point is fatal.
func NewProcessor(buf *audio.Buffer, params ParameterSet, cfg ChunkConfig) (*Processor, error) {
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.MaxStepDB <= 0 {
		cfg.MaxStepDB = DefaultMaxStepDB
	}
	if cfg.OverlapDuration < 0 {
		return nil, configErrorf("overlap duration %v is negative", cfg.OverlapDuration)
	}
	if cfg.OverlapDuration*2 >= cfg.ChunkDuration {
		return nil, configErrorf("overlap %v must be below half the chunk duration %v",
			cfg.OverlapDuration, cfg.ChunkDuration)
	}
	if buf == nil || buf.Empty() {
		return nil, configErrorf("source track is empty")
	}
	if buf.SampleRate <= 0 {
		return nil, configErrorf("source sample rate %d is invalid", buf.SampleRate)
	}

	sr := float64(buf.SampleRate)
	chunkFrames := int(cfg.ChunkDuration.Seconds() * sr)
	overlapFrames := int(cfg.OverlapDuration.Seconds() * sr)
	step := chunkFrames - overlapFrames

	frames := buf.Frames()
	total := 1
	if frames > chunkFrames {
		total = 1 + (frames-chunkFrames+step-1)/step
	}

	return &Processor{
		buf:           buf,
		params:        params,
		cfg:           cfg,
		chunkFrames:   chunkFrames,
		overlapFrames: overlapFrames,
		stepFrames:    step,
		total:         total,
		snapshots:     make(map[int]snapshot),
	}, nil
}

// NumChunks returns the total chunk count for the track.
func (p *Processor) NumChunks() int { return p.total }

// Produced returns the next unproduced index, i.e. how far the stream
// has advanced.
func (p *Processor) Produced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextIndex
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GainHistory returns a copy of the smoothing corrections applied so
// far, one entry per newly produced chunk, in dB.
func (p *Processor) GainHistory() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]float64, len(p.gainHistory))
	copy(out, p.gainHistory)
	return out
}

// SkipTo positions a fresh processor at index, which becomes the new
// RMS baseline with no crossfade history. This is how a mastering
// toggle resumes mid-track: buffered lookahead is discarded and the
// new parameter set takes over from the current playback offset.
func (p *Processor) SkipTo(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateInit {
		return ErrOutOfOrder
	}
	if index < 0 || index >= p.total {
		return ErrOutOfOrder
	}
	p.nextIndex = index
	p.maxProduced = index
	return nil
}

// Cancel stops processing and releases carried buffers. Any state can
// reach it; further Process calls return ErrCancelled.
func (p *Processor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateCancelled
	p.snapshots = nil
	p.gainHistory = nil
}

// Process produces the chunk at index. Chunks advance strictly in
// order because each depends on the previous chunk's carried state; an
// already-produced index is re-run from its boundary snapshot and
// yields identical output.
func (p *Processor) Process(ctx context.Context, index int) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateCancelled:
		return nil, ErrCancelled
	case StateInit:
		p.state = StateProcessing
	}

	if index < 0 || index >= p.total {
		return nil, ErrOutOfOrder
	}

	var snap snapshot
	switch {
	case index == p.nextIndex:
		snap = p.currentBoundary(index)
	default:
		prior, ok := p.snapshots[index]
		if !ok {
			if p.state == StateDone {
				return nil, ErrDone
			}
			return nil, ErrOutOfOrder
		}
		snap = prior
	}

	chunk, after, err := p.produce(index, snap)
	if err != nil {
		return nil, err
	}

	if _, ok := p.snapshots[index]; !ok {
		p.snapshots[index] = snap
	}

	if index == p.nextIndex {
		p.snapshots[index+1] = after
		p.nextIndex = index + 1
		if index+1 > p.maxProduced {
			p.maxProduced = index + 1
			p.gainHistory = append(p.gainHistory, chunk.GainApplied)
		}
		if p.nextIndex == p.total {
			p.state = StateDone
		}
	}
	return chunk, nil
}

// currentBoundary returns the snapshot for the next unproduced index.
func (p *Processor) currentBoundary(index int) snapshot {
	if snap, ok := p.snapshots[index]; ok {
		return snap
	}
	return snapshot{} // first chunk: no tail, no baseline
}

// produce runs the chain for one chunk given its boundary snapshot.
func (p *Processor) produce(index int, snap snapshot) (*Chunk, snapshot, error) {
	start := index * p.stepFrames
	end := start + p.chunkFrames
	if end > p.buf.Frames() {
		// truncated tail: clamp to valid bounds, keep the stream alive
		end = p.buf.Frames()
		if !p.clampedLogged {
			p.clampedLogged = true
		}
	}
	if start >= end {
		return nil, snapshot{}, ErrOutOfOrder
	}

	work := p.buf.Slice(start, end).Clone()

	if !p.params.FrequencyPassThrough {
		applyEQ(work.Channels, work.SampleRate, p.params.EQGains)
		applyCompressor(work.Channels, p.params.Compressor, work.SampleRate)
		applyExpander(work.Channels, p.params.ExpanderAmount)
		applyGainDB(work.Channels, p.params.NormalizationDB)
	}
	applyStereoWidth(work.Channels, p.params.StereoWidth)
	applyLimiter(work.Channels, p.params.LimiterCeiling, work.SampleRate)

	// level smoothing against the previous chunk's corrected RMS
	var applied float64
	rmsDB := levelDB(work)
	if snap.hasPrev {
		diff := rmsDB - snap.rmsDB
		if math.Abs(diff) > p.cfg.MaxStepDB {
			target := snap.rmsDB + math.Copysign(p.cfg.MaxStepDB, diff)
			applied = target - rmsDB
			applyGainDB(work.Channels, applied)
			rmsDB = target
		}
	}

	// crossfade the leading overlap against the previous tail
	if snap.hasPrev && len(snap.tail) > 0 {
		p.crossfade(work, snap.tail)
	}

	after := snapshot{
		tail:    tailOf(work, p.overlapFrames),
		rmsDB:   rmsDB,
		hasPrev: true,
	}

	return &Chunk{
		Index:         index,
		StartFrame:    start,
		EndFrame:      end,
		OverlapFrames: p.overlapFrames,
		TotalChunks:   p.total,
		PCM:           work,
		GainApplied:   applied,
	}, after, nil
}

// crossfade blends the previous processed tail into the chunk's
// leading overlap window. The fade length never indexes past a short
// final chunk.
func (p *Processor) crossfade(work *audio.Buffer, tail [][]float64) {
	fade := p.overlapFrames
	if n := work.Frames(); fade > n {
		fade = n
	}
	for c, ch := range work.Channels {
		if c >= len(tail) {
			break
		}
		prev := tail[c]
		n := fade
		if len(prev) < n {
			n = len(prev)
		}
		for i := 0; i < n; i++ {
			in, out := p.fadeGains(float64(i) / float64(n))
			ch[i] = prev[i]*out + ch[i]*in
		}
	}
}

func (p *Processor) fadeGains(t float64) (in, out float64) {
	switch p.cfg.Fade {
	case FadeLinear:
		return t, 1 - t
	default: // equal power
		return math.Sin(t * math.Pi / 2), math.Cos(t * math.Pi / 2)
	}
}

// tailOf copies the trailing overlap window of a processed chunk.
func tailOf(work *audio.Buffer, overlap int) [][]float64 {
	frames := work.Frames()
	n := overlap
	if n > frames {
		n = frames
	}
	tail := make([][]float64, len(work.Channels))
	for c, ch := range work.Channels {
		tail[c] = make([]float64, n)
		copy(tail[c], ch[frames-n:])
	}
	return tail
}

func levelDB(buf *audio.Buffer) float64 {
	rms := buf.RMS()
	if rms <= 0 {
		return -96
	}
	return 20 * math.Log10(rms)
}
