package masterline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/masterline/batch"
	"github.com/avshenoy/masterline/pkg/masterline/cache"
	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
	"github.com/avshenoy/masterline/pkg/masterline/mastering"
	"github.com/avshenoy/masterline/pkg/masterline/storage"
	"github.com/avshenoy/masterline/pkg/logger"
)

// stream is one open playback session. All of its mutable state sits
// behind its own mutex; chunk production within a stream is serialized.
type stream struct {
	mu sync.Mutex

	id      string
	trackID string
	buf     *audio.Buffer
	fp      *fingerprint.Fingerprint
	derived mastering.ParameterSet
	proc    *mastering.Processor

	mastered bool
	closed   bool
}

// masterService is the default implementation of the Service interface.
type masterService struct {
	config   *Config
	log      Logger
	store    *storage.Store
	resolver *cache.Chain
	pool     *batch.Pool
	accel    *batch.Accelerator

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var store *storage.Store
	fpStore := cfg.Store
	if fpStore == nil {
		var err error
		store, err = storage.NewStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open fingerprint store: %w", err)
		}
		fpStore = store
	}

	var remote cache.Generator
	if cfg.RemoteURL != "" {
		remote = cache.NewRemoteClient(cfg.RemoteURL, cfg.RemoteTimeout)
	}

	extractor := fingerprint.NewExtractor(nil)
	resolver := cache.NewChain(fpStore, remote, extractor, cfg.Logger)

	pool := batch.NewPool(cfg.Workers)
	pool.Start()

	fallback := batch.NewCPUExecutor(pool)
	executor := batch.Detect(cfg.UseFastPath, 0)
	accel := batch.New(executor, fallback, cfg.Batch, cfg.Logger)
	accel.Start()

	return &masterService{
		config:   cfg,
		log:      cfg.Logger,
		store:    store,
		resolver: resolver,
		pool:     pool,
		accel:    accel,
		streams:  make(map[string]*stream),
	}, nil
}

// OpenStream decodes a track, resolves its fingerprint and derives its
// parameter set, then returns a session that produces chunks lazily.
// Streams open mastered; SetMastering toggles from there.
func (s *masterService) OpenStream(ctx context.Context, trackID, sourcePath string) (*StreamInfo, error) {
	buf, _, fp, err := s.resolveTrack(ctx, trackID, sourcePath)
	if err != nil {
		return nil, err
	}

	params := mastering.Derive(fp, s.config.Thresholds)
	proc, err := mastering.NewProcessor(buf, params, s.config.Chunk)
	if err != nil {
		return nil, err
	}

	// refresh the sidecar with the derived targets so a restarted
	// transport can read the plan without re-deriving
	if err := cache.WriteSidecar(sourcePath, fp, derivedTargets(params)); err != nil {
		s.log.Debugf("Sidecar refresh skipped for %s: %v", sourcePath, err)
	}

	st := &stream{
		id:       uuid.NewString(),
		trackID:  trackID,
		buf:      buf,
		fp:       fp,
		derived:  params,
		proc:     proc,
		mastered: true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.streams[st.id] = st
	s.mu.Unlock()

	s.log.Infof("Opened stream %s for track %s: %d chunks, class=%s",
		st.id, trackID, proc.NumChunks(), params.Class)
	return s.streamInfo(st), nil
}

// GetChunk produces the chunk at index for a stream. Production is
// lazy and strictly ordered; re-requesting a produced index replays it.
func (s *masterService) GetChunk(ctx context.Context, streamID string, index int) (*mastering.Chunk, error) {
	st, err := s.lookup(streamID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, mastering.ErrCancelled
	}
	return st.proc.Process(ctx, index)
}

// SetMastering toggles processing for a stream. The switch takes
// effect at the current offset: the old processor is dropped along
// with any carried state and a fresh one resumes from the next
// unproduced chunk under the new parameter set.
func (s *masterService) SetMastering(ctx context.Context, streamID string, enabled bool) (*StreamInfo, error) {
	st, err := s.lookup(streamID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, mastering.ErrCancelled
	}
	if st.mastered == enabled {
		return s.streamInfo(st), nil
	}

	offset := st.proc.Produced()
	params := st.derived
	if !enabled {
		params = mastering.PassThrough()
		params.Class = st.derived.Class
	}

	proc, err := mastering.NewProcessor(st.buf, params, s.config.Chunk)
	if err != nil {
		return nil, err
	}
	if offset < proc.NumChunks() {
		if err := proc.SkipTo(offset); err != nil {
			return nil, err
		}
	}

	st.proc.Cancel()
	st.proc = proc
	st.mastered = enabled

	s.log.Infof("Stream %s: mastering=%v from chunk %d", st.id, enabled, offset)
	return s.streamInfo(st), nil
}

// Stream reports the current state of an open stream.
func (s *masterService) Stream(streamID string) (*StreamInfo, error) {
	st, err := s.lookup(streamID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.streamInfo(st), nil
}

// CloseStream cancels a stream and releases its buffers. Closing an
// unknown stream is not an error.
func (s *masterService) CloseStream(streamID string) error {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	delete(s.streams, streamID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	st.closed = true
	st.proc.Cancel()
	st.buf = nil
	st.mu.Unlock()

	s.log.Debugf("Closed stream %s", streamID)
	return nil
}

// Fingerprint resolves one track through the cache chain.
func (s *masterService) Fingerprint(ctx context.Context, trackID, sourcePath string) (*fingerprint.Fingerprint, error) {
	_, _, fp, err := s.resolveTrack(ctx, trackID, sourcePath)
	return fp, err
}

// FingerprintBatch pushes a set of tracks through the batch
// accelerator. Store hits skip the queue entirely; results are
// persisted as they come back. A failed track fails alone.
func (s *masterService) FingerprintBatch(ctx context.Context, tracks []TrackSource) ([]BatchResult, error) {
	results := make([]BatchResult, len(tracks))
	type submitted struct {
		idx  int
		sig  string
		path string
		ch   <-chan batch.Outcome
	}
	var inflight []submitted

	for i, tr := range tracks {
		results[i].TrackID = tr.TrackID

		sig, err := fingerprint.SignatureFile(tr.SourcePath)
		if err != nil {
			results[i].Err = fmt.Errorf("signature failed: %w", err)
			continue
		}
		if fp, err := s.lookupStore(sig); err == nil {
			results[i].Fingerprint = fp
			continue
		}

		buf, err := audio.DecodeFile(tr.SourcePath)
		if err != nil {
			results[i].Err = fmt.Errorf("decode failed: %w", err)
			continue
		}

		ch, err := s.accel.Submit(ctx, batch.NewJob(tr.TrackID, sig, buf))
		if err != nil {
			results[i].Err = err
			continue
		}
		inflight = append(inflight, submitted{idx: i, sig: sig, path: tr.SourcePath, ch: ch})
	}

	for _, sub := range inflight {
		select {
		case out := <-sub.ch:
			results[sub.idx].Fingerprint = out.Fingerprint
			results[sub.idx].Err = out.Err
			if out.Err == nil {
				s.persist(results[sub.idx].TrackID, sub.sig, sub.path, out.Fingerprint)
			}
		case <-ctx.Done():
			results[sub.idx].Err = ctx.Err()
		}
	}
	return results, nil
}

// Analyze resolves a track and reports the decision engine's verdict
// without opening a stream.
func (s *masterService) Analyze(ctx context.Context, trackID, sourcePath string) (*Analysis, error) {
	_, sig, fp, err := s.resolveTrack(ctx, trackID, sourcePath)
	if err != nil {
		return nil, err
	}

	params := mastering.Derive(fp, s.config.Thresholds)
	return &Analysis{
		TrackID:     trackID,
		Signature:   sig,
		Fingerprint: fp,
		LoudnessDB:  fp.LoudnessDB(),
		CrestDB:     fp.CrestDB(),
		Class:       params.Class,
		Params:      params,
	}, nil
}

// Close shuts the service down: streams cancelled, batch queue
// drained, store closed.
func (s *masterService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		open = append(open, st)
	}
	s.streams = make(map[string]*stream)
	s.mu.Unlock()

	for _, st := range open {
		st.mu.Lock()
		st.closed = true
		st.proc.Cancel()
		st.mu.Unlock()
	}

	s.accel.Stop()
	s.pool.Stop()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *masterService) lookup(streamID string) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return st, nil
}

func (s *masterService) lookupStore(sig string) (*fingerprint.Fingerprint, error) {
	if st := s.storeFor(); st != nil {
		return st.GetBySignature(sig)
	}
	return nil, storage.ErrNotFound
}

// resolveTrack decodes the source and walks the cache chain.
func (s *masterService) resolveTrack(ctx context.Context, trackID, sourcePath string) (*audio.Buffer, string, *fingerprint.Fingerprint, error) {
	buf, err := audio.DecodeFile(sourcePath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to decode %s: %w", sourcePath, err)
	}

	sig, err := fingerprint.SignatureFile(sourcePath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to fingerprint source: %w", err)
	}

	fp, err := s.resolver.Resolve(ctx, cache.Request{
		TrackID:    trackID,
		Signature:  sig,
		SourcePath: sourcePath,
		Buffer:     buf,
	})
	if err != nil {
		return nil, "", nil, err
	}
	return buf, sig, fp, nil
}

func (s *masterService) persist(trackID, sig, sourcePath string, fp *fingerprint.Fingerprint) {
	if fp.ContentSignature == "" {
		fp.ContentSignature = sig
	}
	if st := s.storeFor(); st != nil {
		if err := st.Put(trackID, fp); err != nil {
			s.log.Warnf("Failed to persist fingerprint for %s: %v", trackID, err)
		}
	}
	if sourcePath != "" {
		if err := cache.WriteSidecar(sourcePath, fp, nil); err != nil {
			s.log.Debugf("Sidecar write skipped for %s: %v", sourcePath, err)
		}
	}
}

func derivedTargets(p mastering.ParameterSet) map[string]float64 {
	return map[string]float64{
		"target_loudness_db": p.TargetLoudnessDB,
		"normalization_db":   p.NormalizationDB,
		"stereo_width":       p.StereoWidth,
		"limiter_ceiling":    p.LimiterCeiling,
	}
}

func (s *masterService) storeFor() cache.FingerprintStore {
	if s.config.Store != nil {
		return s.config.Store
	}
	if s.store != nil {
		return s.store
	}
	return nil
}

func (s *masterService) streamInfo(st *stream) *StreamInfo {
	info := &StreamInfo{
		StreamID:    st.id,
		TrackID:     st.trackID,
		TotalChunks: st.proc.NumChunks(),
		NextIndex:   st.proc.Produced(),
		Mastered:    st.mastered,
		Class:       st.derived.Class,
	}
	if st.buf != nil {
		info.SampleRate = st.buf.SampleRate
		info.Duration = st.buf.Duration()
	}
	return info
}
