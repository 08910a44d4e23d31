package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]*fingerprint.Fingerprint
	puts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]*fingerprint.Fingerprint{}}
}

func (s *fakeStore) GetBySignature(sig string) (*fingerprint.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp, ok := s.data[sig]; ok {
		return fp, nil
	}
	return nil, errors.New("not found")
}

func (s *fakeStore) Put(trackID string, fp *fingerprint.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.data[fp.ContentSignature] = fp
	return nil
}

type fakeRemote struct {
	calls int32
	fp    *fingerprint.Fingerprint
	fail  bool
	delay time.Duration
}

func (r *fakeRemote) Generate(ctx context.Context, trackID, signature, sourcePath string) (*fingerprint.Fingerprint, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail {
		return nil, errors.New("remote unreachable: " + ErrMiss.Error())
	}
	fp := *r.fp
	fp.ContentSignature = signature
	return &fp, nil
}

func toneBuffer() *audio.Buffer {
	buf := audio.NewBuffer(1, 44100, 44100)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.25 * float64((i%64)-32) / 32
	}
	return buf
}

func TestResolveStoreHit(t *testing.T) {
	store := newFakeStore()
	want := fingerprint.Neutral()
	want.ContentSignature = "sig"
	store.data["sig"] = want

	remote := &fakeRemote{fail: true}
	chain := NewChain(store, remote, nil, nil)

	got, err := chain.Resolve(context.Background(), Request{TrackID: "t1", Signature: "sig"})
	require.NoError(t, err)
	assert.True(t, want.Equal(got, 0))
	assert.Zero(t, atomic.LoadInt32(&remote.calls), "store hit must not reach remote")
}

func TestResolveSidecarHit(t *testing.T) {
	source := filepath.Join(t.TempDir(), "track.wav")
	fp := fingerprint.Neutral()
	fp.ContentSignature = "sig"
	require.NoError(t, WriteSidecar(source, fp, nil))

	store := newFakeStore()
	chain := NewChain(store, &fakeRemote{fail: true}, nil, nil)

	got, err := chain.Resolve(context.Background(), Request{
		TrackID:    "t1",
		Signature:  "sig",
		SourcePath: source,
	})
	require.NoError(t, err)
	assert.True(t, fp.Equal(got, 1e-12))

	// sidecar hits are written through to the store
	assert.Equal(t, 1, store.puts)
}

func TestResolveRemoteTier(t *testing.T) {
	remoteFP := fingerprint.Neutral()
	remote := &fakeRemote{fp: remoteFP}
	store := newFakeStore()
	source := filepath.Join(t.TempDir(), "track.wav")

	chain := NewChain(store, remote, nil, nil)
	got, err := chain.Resolve(context.Background(), Request{
		TrackID:    "t1",
		Signature:  "sig",
		SourcePath: source,
	})
	require.NoError(t, err)
	assert.Equal(t, "sig", got.ContentSignature)
	assert.EqualValues(t, 1, atomic.LoadInt32(&remote.calls))

	// remote results are persisted to both cheaper tiers
	assert.Equal(t, 1, store.puts)
	assert.FileExists(t, SidecarPath(source))
}

func TestResolveLocalFallback(t *testing.T) {
	remote := &fakeRemote{fail: true}
	chain := NewChain(newFakeStore(), remote, nil, nil)

	got, err := chain.Resolve(context.Background(), Request{
		TrackID:   "t1",
		Signature: "sig",
		Buffer:    toneBuffer(),
	})
	require.NoError(t, err, "local tier must always answer")
	require.NotNil(t, got)
	assert.True(t, got.Bounded())
	assert.Equal(t, "sig", got.ContentSignature)
}

func TestResolveNoSourceDegradesToNeutral(t *testing.T) {
	chain := NewChain(nil, nil, nil, nil)

	got, err := chain.Resolve(context.Background(), Request{TrackID: "t1", Signature: "sig"})
	require.NoError(t, err)
	assert.True(t, got.Equal(fingerprint.Neutral(), 1e-9) || got.Bounded())
}

func TestResolveSingleFlight(t *testing.T) {
	remote := &fakeRemote{fp: fingerprint.Neutral(), delay: 50 * time.Millisecond}
	chain := NewChain(nil, remote, nil, nil)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := chain.Resolve(context.Background(), Request{TrackID: "t1", Signature: "sig"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every caller got an answer off at most a handful of generations;
	// with the flight map in place duplicates coalesce almost entirely
	assert.LessOrEqual(t, atomic.LoadInt32(&remote.calls), int32(2),
		"concurrent identical requests should share one generation")
}

func TestResolveDistinctTracksDoNotCoalesce(t *testing.T) {
	remote := &fakeRemote{fp: fingerprint.Neutral()}
	chain := NewChain(nil, remote, nil, nil)

	_, err := chain.Resolve(context.Background(), Request{TrackID: "a", Signature: "s1"})
	require.NoError(t, err)
	_, err = chain.Resolve(context.Background(), Request{TrackID: "b", Signature: "s2"})
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&remote.calls))
}
