package masterline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/masterline/batch"
	"github.com/avshenoy/masterline/pkg/masterline/cache"
	"github.com/avshenoy/masterline/pkg/masterline/mastering"
)

const testSampleRate = 8000

// writeTestWAV renders a stereo sine of the given amplitude to a
// temp WAV file and returns its path.
func writeTestWAV(t *testing.T, name string, seconds, amp float64) string {
	t.Helper()
	frames := int(seconds * testSampleRate)
	buf := audio.NewBuffer(2, frames, testSampleRate)
	for i := 0; i < frames; i++ {
		s := amp * math.Sin(2*math.Pi*440*float64(i)/testSampleRate)
		buf.Channels[0][i] = s
		buf.Channels[1][i] = s
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, audio.WriteWAV(path, buf))
	return path
}

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(
		WithDBPath(filepath.Join(t.TempDir(), "fp.sqlite3")),
		WithWorkers(2),
		WithFastPath(false),
		WithChunkConfig(mastering.ChunkConfig{
			ChunkDuration:   time.Second,
			OverlapDuration: 100 * time.Millisecond,
			Fade:            mastering.FadeEqualPower,
			MaxStepDB:       1.5,
		}),
		WithBatchConfig(batch.Config{BatchSize: 2, MaxWait: 50 * time.Millisecond}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestOpenStreamAndChunks(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 4, 0.25)
	ctx := context.Background()

	info, err := svc.OpenStream(ctx, "track-1", path)
	require.NoError(t, err)
	assert.NotEmpty(t, info.StreamID)
	assert.Equal(t, "track-1", info.TrackID)
	assert.Equal(t, testSampleRate, info.SampleRate)
	assert.Equal(t, 0, info.NextIndex)
	assert.True(t, info.Mastered)

	// 4s of audio, 1s chunks stepping 0.9s: 5 chunks
	require.Equal(t, 5, info.TotalChunks)

	for i := 0; i < info.TotalChunks; i++ {
		chunk, err := svc.GetChunk(ctx, info.StreamID, i)
		require.NoError(t, err, "chunk %d", i)
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, info.TotalChunks, chunk.TotalChunks)
		assert.Greater(t, chunk.PCM.Frames(), 0)
	}

	// the final chunk ends exactly at the track boundary
	last, err := svc.GetChunk(ctx, info.StreamID, info.TotalChunks-1)
	require.NoError(t, err)
	assert.Equal(t, 4*testSampleRate, last.EndFrame)

	// produced chunks replay; anything past the end does not
	replay, err := svc.GetChunk(ctx, info.StreamID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, replay.Index)
	_, err = svc.GetChunk(ctx, info.StreamID, info.TotalChunks)
	assert.ErrorIs(t, err, mastering.ErrOutOfOrder)
}

func TestGetChunkStrictOrdering(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 3, 0.25)

	info, err := svc.OpenStream(context.Background(), "track-1", path)
	require.NoError(t, err)

	_, err = svc.GetChunk(context.Background(), info.StreamID, 2)
	assert.ErrorIs(t, err, mastering.ErrOutOfOrder)
}

func TestSetMasteringResumesAtOffset(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 4, 0.25)
	ctx := context.Background()

	info, err := svc.OpenStream(ctx, "track-1", path)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.GetChunk(ctx, info.StreamID, i)
		require.NoError(t, err)
	}

	info, err = svc.SetMastering(ctx, info.StreamID, false)
	require.NoError(t, err)
	assert.False(t, info.Mastered)
	assert.Equal(t, 2, info.NextIndex)

	// already-delivered chunks are gone with the old processor
	_, err = svc.GetChunk(ctx, info.StreamID, 1)
	assert.ErrorIs(t, err, mastering.ErrOutOfOrder)

	// playback continues from the switch point, unprocessed
	chunk, err := svc.GetChunk(ctx, info.StreamID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, chunk.Index)
	assert.InDelta(t, 0.25/math.Sqrt2, chunk.PCM.RMS(), 0.01)

	// toggling to the current value is a no-op
	again, err := svc.SetMastering(ctx, info.StreamID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, again.NextIndex)

	// and back on, resuming where we are
	info, err = svc.SetMastering(ctx, info.StreamID, true)
	require.NoError(t, err)
	assert.True(t, info.Mastered)
	assert.Equal(t, 3, info.NextIndex)
	_, err = svc.GetChunk(ctx, info.StreamID, 3)
	require.NoError(t, err)
}

func TestCloseStream(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 2, 0.25)
	ctx := context.Background()

	info, err := svc.OpenStream(ctx, "track-1", path)
	require.NoError(t, err)

	require.NoError(t, svc.CloseStream(info.StreamID))

	_, err = svc.Stream(info.StreamID)
	assert.ErrorIs(t, err, ErrStreamNotFound)
	_, err = svc.GetChunk(ctx, info.StreamID, 0)
	assert.ErrorIs(t, err, ErrStreamNotFound)

	// closing twice, or closing an id that never existed, is fine
	assert.NoError(t, svc.CloseStream(info.StreamID))
	assert.NoError(t, svc.CloseStream("no-such-stream"))
}

func TestFingerprintBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tracks := []TrackSource{
		{TrackID: "good-1", SourcePath: writeTestWAV(t, "a.wav", 2, 0.25)},
		{TrackID: "bad", SourcePath: filepath.Join(t.TempDir(), "missing.wav")},
		{TrackID: "good-2", SourcePath: writeTestWAV(t, "b.wav", 2, 0.7)},
	}

	results, err := svc.FingerprintBatch(ctx, tracks)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Fingerprint)
	assert.True(t, results[0].Fingerprint.Bounded())

	assert.Error(t, results[1].Err, "a missing source fails alone")
	assert.Nil(t, results[1].Fingerprint)

	assert.NoError(t, results[2].Err)
	require.NotNil(t, results[2].Fingerprint)

	// successful results were persisted next to the source
	_, err = os.Stat(cache.SidecarPath(tracks[0].SourcePath))
	assert.NoError(t, err)

	// a second run resolves the good tracks from the store
	again, err := svc.FingerprintBatch(ctx, tracks[:1])
	require.NoError(t, err)
	require.NoError(t, again[0].Err)
	assert.True(t, results[0].Fingerprint.Equal(again[0].Fingerprint, 1e-9))
}

func TestFingerprintDeterministic(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 2, 0.5)
	ctx := context.Background()

	first, err := svc.Fingerprint(ctx, "track-1", path)
	require.NoError(t, err)
	second, err := svc.Fingerprint(ctx, "track-1", path)
	require.NoError(t, err)

	assert.True(t, first.Equal(second, 1e-12))
	assert.Len(t, first.ContentSignature, 64)
}

func TestAnalyze(t *testing.T) {
	svc := newTestService(t)
	// a near-full-scale sine is loud with a tiny crest factor
	path := writeTestWAV(t, "hot.wav", 2, 0.9)

	analysis, err := svc.Analyze(context.Background(), "hot-track", path)
	require.NoError(t, err)

	assert.Equal(t, "hot-track", analysis.TrackID)
	assert.Len(t, analysis.Signature, 64)
	assert.Equal(t, mastering.QuadrantLoudCompressed, analysis.Class)
	assert.True(t, analysis.Params.FrequencyPassThrough)
	assert.Greater(t, analysis.LoudnessDB, -12.0)
	assert.Less(t, analysis.CrestDB, 13.0)
}

func TestServiceClose(t *testing.T) {
	svc := newTestService(t)
	path := writeTestWAV(t, "track.wav", 2, 0.25)
	ctx := context.Background()

	info, err := svc.OpenStream(ctx, "track-1", path)
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err = svc.OpenStream(ctx, "track-2", path)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.GetChunk(ctx, info.StreamID, 0)
	assert.ErrorIs(t, err, ErrClosed)
}
