package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

func remoteServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func validRemoteBody() remoteResponse {
	fp := fingerprint.Neutral()
	return remoteResponse{
		SchemaVersion: fingerprint.SchemaVersion,
		Fingerprint:   fp.Dims[:],
		SampleRate:    44100,
		Duration:      180.5,
	}
}

func TestRemoteGenerate(t *testing.T) {
	srv := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/fingerprint", r.URL.Path)

		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "track-1", req.TrackID)
		assert.Equal(t, "sig-1", req.Signature)

		json.NewEncoder(w).Encode(validRemoteBody())
	})

	client := NewRemoteClient(srv.URL, 0)
	fp, err := client.Generate(context.Background(), "track-1", "sig-1", "/media/track.flac")
	require.NoError(t, err)

	assert.Equal(t, fingerprint.SchemaVersion, fp.SchemaVersion)
	assert.Equal(t, "sig-1", fp.ContentSignature)
	assert.Equal(t, 44100, fp.SampleRate)
	assert.InDelta(t, 180.5, fp.Duration, 1e-9)
	assert.True(t, fp.Bounded())
}

func TestRemoteGenerateFailuresAreMisses(t *testing.T) {
	outOfBounds := validRemoteBody()
	outOfBounds.Fingerprint[0] = 7

	oldSchema := validRemoteBody()
	oldSchema.SchemaVersion = fingerprint.SchemaVersion - 1

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
		{"stale schema", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(oldSchema)
		}},
		{"out of bounds dims", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(outOfBounds)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := remoteServer(t, tc.handler)
			client := NewRemoteClient(srv.URL, 0)
			_, err := client.Generate(context.Background(), "t", "s", "")
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestRemoteGenerateRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewRemoteClient(url, time.Second)
	_, err := client.Generate(context.Background(), "t", "s", "")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRemoteGenerateTimeout(t *testing.T) {
	srv := remoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(validRemoteBody())
	})

	client := NewRemoteClient(srv.URL, 20*time.Millisecond)
	_, err := client.Generate(context.Background(), "t", "s", "")
	assert.ErrorIs(t, err, ErrMiss)
}
