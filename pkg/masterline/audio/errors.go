package audio

import "errors"

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrInvalidWAV is returned when a .wav file fails header validation.
	ErrInvalidWAV = errors.New("invalid WAV file")

	// ErrEmptyAudio is returned when a decoded file contains no samples.
	ErrEmptyAudio = errors.New("audio contains no samples")
)
