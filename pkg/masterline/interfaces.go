package masterline

import (
	"context"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
	"github.com/avshenoy/masterline/pkg/masterline/mastering"
)

type Service interface {
	OpenStream(ctx context.Context, trackID, sourcePath string) (*StreamInfo, error)
	GetChunk(ctx context.Context, streamID string, index int) (*mastering.Chunk, error)
	SetMastering(ctx context.Context, streamID string, enabled bool) (*StreamInfo, error)
	Stream(streamID string) (*StreamInfo, error)
	CloseStream(streamID string) error

	Fingerprint(ctx context.Context, trackID, sourcePath string) (*fingerprint.Fingerprint, error)
	FingerprintBatch(ctx context.Context, tracks []TrackSource) ([]BatchResult, error)
	Analyze(ctx context.Context, trackID, sourcePath string) (*Analysis, error)

	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
