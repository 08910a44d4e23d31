package masterline

import (
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
	"github.com/avshenoy/masterline/pkg/masterline/mastering"
)

// TrackSource identifies one track and where its audio lives.
type TrackSource struct {
	TrackID    string
	SourcePath string
}

// BatchResult pairs one batch input with its outcome.
type BatchResult struct {
	TrackID     string
	Fingerprint *fingerprint.Fingerprint
	Err         error
}

// StreamInfo is the client-facing view of an open stream.
type StreamInfo struct {
	StreamID    string
	TrackID     string
	TotalChunks int
	NextIndex   int
	SampleRate  int
	Duration    time.Duration
	Mastered    bool
	Class       mastering.Quadrant
}

// Analysis reports what the decision engine saw and decided for a
// track, without opening a stream.
type Analysis struct {
	TrackID     string
	Signature   string
	Fingerprint *fingerprint.Fingerprint
	LoudnessDB  float64
	CrestDB     float64
	Class       mastering.Quadrant
	Params      mastering.ParameterSet
}
