package main

import "fmt"

// FingerprintRequest is the request body for POST /v1/fingerprint.
// This is the wire format the cache chain's remote tier speaks.
type FingerprintRequest struct {
	TrackID    string `json:"track_id"`
	Signature  string `json:"signature"`
	SourcePath string `json:"source_path,omitempty"`
}

// Validate checks if the request is valid
func (r *FingerprintRequest) Validate() error {
	if r.TrackID == "" {
		return fmt.Errorf("track_id is required")
	}
	if r.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	return nil
}

// FingerprintResponse is the response for POST /v1/fingerprint
type FingerprintResponse struct {
	SchemaVersion int       `json:"schema_version"`
	Fingerprint   []float64 `json:"fingerprint"`
	SampleRate    int       `json:"sample_rate"`
	Duration      float64   `json:"duration"`
}

// AnalyzeRequest is the request body for POST /api/analyze
type AnalyzeRequest struct {
	TrackID    string `json:"track_id"`
	SourcePath string `json:"source_path"`
}

// AnalysisDTO reports the decision engine's verdict for a track
type AnalysisDTO struct {
	TrackID     string  `json:"track_id"`
	Signature   string  `json:"signature"`
	LoudnessDB  float64 `json:"loudness_db"`
	CrestDB     float64 `json:"crest_db"`
	Class       string  `json:"class"`
	PassThrough bool    `json:"pass_through"`
	NormalizeDB float64 `json:"normalize_db"`
}

// OpenStreamRequest is the request body for POST /api/streams
type OpenStreamRequest struct {
	TrackID    string `json:"track_id"`
	SourcePath string `json:"source_path"`
}

// Validate checks if the request is valid
func (r *OpenStreamRequest) Validate() error {
	if r.TrackID == "" {
		return fmt.Errorf("track_id is required")
	}
	if r.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	return nil
}

// StreamInfoDTO is the client view of an open stream
type StreamInfoDTO struct {
	StreamID    string `json:"stream_id"`
	TrackID     string `json:"track_id"`
	TotalChunks int    `json:"total_chunks"`
	NextIndex   int    `json:"next_index"`
	SampleRate  int    `json:"sample_rate"`
	DurationMs  int64  `json:"duration_ms"`
	Mastered    bool   `json:"mastered"`
	Class       string `json:"class"`
}

// SetMasteringRequest is the request body for POST /api/streams/{id}/mastering
type SetMasteringRequest struct {
	Enabled bool `json:"enabled"`
}

// MetricsResponse provides server health information
type MetricsResponse struct {
	Status       string `json:"status"`
	DatabasePath string `json:"database_path"`
	UptimeSec    int64  `json:"uptime_sec"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
