package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

// DefaultRemoteTimeout bounds one remote generation round trip.
const DefaultRemoteTimeout = 60 * time.Second

// RemoteClient asks an external generation service for a fingerprint.
// Every failure mode (timeout, refused connection, bad status,
// malformed body) is collapsed into ErrMiss so the chain falls back to
// local computation instead of surfacing a playback error.
type RemoteClient struct {
	baseURL string
	client  *http.Client
}

// NewRemoteClient builds a client for the service at baseURL. A zero
// timeout selects DefaultRemoteTimeout.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	TrackID    string `json:"track_id"`
	Signature  string `json:"signature"`
	SourcePath string `json:"source_path,omitempty"`
}

type remoteResponse struct {
	SchemaVersion int       `json:"schema_version"`
	Fingerprint   []float64 `json:"fingerprint"`
	SampleRate    int       `json:"sample_rate"`
	Duration      float64   `json:"duration"`
}

// Generate requests a fingerprint for one track.
func (c *RemoteClient) Generate(ctx context.Context, trackID, signature, sourcePath string) (*fingerprint.Fingerprint, error) {
	body, err := json.Marshal(remoteRequest{
		TrackID:    trackID,
		Signature:  signature,
		SourcePath: sourcePath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding remote request: %v", ErrMiss, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/fingerprint", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building remote request: %v", ErrMiss, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: remote generation failed: %v", ErrMiss, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote generation returned %d", ErrMiss, resp.StatusCode)
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%w: malformed remote response: %v", ErrMiss, err)
	}
	if rr.SchemaVersion != fingerprint.SchemaVersion || len(rr.Fingerprint) < fingerprint.NumDims {
		return nil, fmt.Errorf("%w: remote response has schema %d with %d dims",
			ErrMiss, rr.SchemaVersion, len(rr.Fingerprint))
	}

	fp := &fingerprint.Fingerprint{
		SchemaVersion:    rr.SchemaVersion,
		ContentSignature: signature,
		SampleRate:       rr.SampleRate,
		Duration:         rr.Duration,
		GeneratedAt:      time.Now().UTC(),
	}
	copy(fp.Dims[:], rr.Fingerprint[:fingerprint.NumDims])
	if !fp.Bounded() {
		return nil, fmt.Errorf("%w: remote response out of bounds", ErrMiss)
	}
	return fp, nil
}
