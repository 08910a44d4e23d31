package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avshenoy/masterline/pkg/logger"
	"github.com/avshenoy/masterline/pkg/masterline"
	"github.com/avshenoy/masterline/pkg/masterline/audio"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service masterline.Service
	config  *ServerConfig
	log     masterline.Logger
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service masterline.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
		started: time.Now(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "masterline API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "GET /health",
			"metrics":      "GET /api/health/metrics",
			"fingerprint":  "POST /v1/fingerprint",
			"analyze":      "POST /api/analyze",
			"openStream":   "POST /api/streams",
			"streamInfo":   "GET /api/streams/{id}",
			"getChunk":     "GET /api/streams/{id}/chunks/{n}",
			"setMastering": "POST /api/streams/{id}/mastering",
			"closeStream":  "DELETE /api/streams/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		UptimeSec:    int64(time.Since(s.started).Seconds()),
	})
}

// handleFingerprint handles POST /v1/fingerprint. The response matches
// what the cache chain's remote tier expects, so one masterline node
// can act as the generation service for another.
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req FingerprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	fp, err := s.service.Fingerprint(r.Context(), req.TrackID, req.SourcePath)
	if err != nil {
		s.log.Errorf("Fingerprint failed for %s: %v", req.TrackID, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, FingerprintResponse{
		SchemaVersion: fp.SchemaVersion,
		Fingerprint:   fp.Dims[:],
		SampleRate:    fp.SampleRate,
		Duration:      fp.Duration,
	})
}

// handleAnalyze handles POST /api/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.SourcePath == "" {
		s.respondError(w, http.StatusBadRequest, "source_path is required")
		return
	}

	analysis, err := s.service.Analyze(r.Context(), req.TrackID, req.SourcePath)
	if err != nil {
		s.log.Errorf("Analyze failed for %s: %v", req.TrackID, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, AnalysisDTO{
		TrackID:     analysis.TrackID,
		Signature:   analysis.Signature,
		LoudnessDB:  analysis.LoudnessDB,
		CrestDB:     analysis.CrestDB,
		Class:       analysis.Class.String(),
		PassThrough: analysis.Params.FrequencyPassThrough,
		NormalizeDB: analysis.Params.NormalizationDB,
	})
}

// handleStreams handles POST /api/streams
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req OpenStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.service.OpenStream(r.Context(), req.TrackID, req.SourcePath)
	if err != nil {
		s.log.Errorf("OpenStream failed for %s: %v", req.TrackID, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, toStreamInfoDTO(info))
}

// handleStream routes GET/DELETE /api/streams/{id} and its subpaths
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.respondError(w, http.StatusBadRequest, "Stream ID required")
		return
	}
	streamID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleStreamInfo(w, r, streamID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleCloseStream(w, r, streamID)
	case len(parts) == 2 && parts[1] == "mastering" && r.Method == http.MethodPost:
		s.handleSetMastering(w, r, streamID)
	case len(parts) == 3 && parts[1] == "chunks" && r.Method == http.MethodGet:
		s.handleGetChunk(w, r, streamID, parts[2])
	default:
		s.respondError(w, http.StatusNotFound, "Unknown stream endpoint")
	}
}

func (s *Server) handleStreamInfo(w http.ResponseWriter, r *http.Request, streamID string) {
	info, err := s.service.Stream(streamID)
	if err != nil {
		s.streamError(w, streamID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toStreamInfoDTO(info))
}

func (s *Server) handleCloseStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if err := s.service.CloseStream(streamID); err != nil {
		s.log.Errorf("CloseStream failed for %s: %v", streamID, err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "stream closed", "stream_id": streamID})
}

func (s *Server) handleSetMastering(w http.ResponseWriter, r *http.Request, streamID string) {
	var req SetMasteringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	info, err := s.service.SetMastering(r.Context(), streamID, req.Enabled)
	if err != nil {
		s.streamError(w, streamID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toStreamInfoDTO(info))
}

// handleGetChunk produces one chunk and serves it as a WAV body. The
// chunk's placement metadata rides in response headers.
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request, streamID, indexStr string) {
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		s.respondError(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	chunk, err := s.service.GetChunk(r.Context(), streamID, index)
	if err != nil {
		s.streamError(w, streamID, err)
		return
	}

	// wav encoding needs a seekable target, so stage through a temp file
	tmp, err := os.CreateTemp("", "masterline-chunk-*.wav")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to stage chunk")
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := audio.WriteWAV(tmpPath, chunk.PCM); err != nil {
		s.log.Errorf("Chunk encode failed for %s[%d]: %v", streamID, index, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to encode chunk")
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to read chunk")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Chunk-Index", strconv.Itoa(chunk.Index))
	w.Header().Set("X-Total-Chunks", strconv.Itoa(chunk.TotalChunks))
	w.Header().Set("X-Overlap-Frames", strconv.Itoa(chunk.OverlapFrames))
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warnf("Chunk transfer aborted for %s[%d]: %v", streamID, index, err)
	}
}

// streamError maps service errors onto HTTP status codes
func (s *Server) streamError(w http.ResponseWriter, streamID string, err error) {
	switch {
	case errors.Is(err, masterline.ErrStreamNotFound):
		s.respondError(w, http.StatusNotFound, "Stream not found: "+streamID)
	case errors.Is(err, masterline.ErrClosed):
		s.respondError(w, http.StatusServiceUnavailable, "Service is shutting down")
	default:
		s.log.Errorf("Stream %s: %v", streamID, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func toStreamInfoDTO(info *masterline.StreamInfo) StreamInfoDTO {
	return StreamInfoDTO{
		StreamID:    info.StreamID,
		TrackID:     info.TrackID,
		TotalChunks: info.TotalChunks,
		NextIndex:   info.NextIndex,
		SampleRate:  info.SampleRate,
		DurationMs:  info.Duration.Milliseconds(),
		Mastered:    info.Mastered,
		Class:       info.Class.String(),
	}
}
