package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

// SidecarExt is appended to the full source filename, so naming is
// deterministic: "track.flac" -> "track.flac.fpz.json".
const SidecarExt = ".fpz.json"

// SidecarPath returns the sidecar filename for a source media path.
func SidecarPath(sourcePath string) string {
	return sourcePath + SidecarExt
}

// sidecarRecord is the on-disk format. The fingerprint is a slice, not
// a fixed array, so files written by a newer schema with more
// dimensions still parse; unknown JSON fields are ignored.
type sidecarRecord struct {
	ContentSignature string             `json:"content_signature"`
	SchemaVersion    int                `json:"schema_version"`
	Fingerprint      []float64          `json:"fingerprint"`
	DerivedTargets   map[string]float64 `json:"derived_targets,omitempty"`
	SampleRate       int                `json:"sample_rate"`
	Duration         float64            `json:"duration"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// WriteSidecar stores a fingerprint (and optional derived mastering
// targets) next to the source file. The write goes through a temp file
// and rename so a crashed writer never leaves a truncated record.
func WriteSidecar(sourcePath string, fp *fingerprint.Fingerprint, targets map[string]float64) error {
	rec := sidecarRecord{
		ContentSignature: fp.ContentSignature,
		SchemaVersion:    fp.SchemaVersion,
		Fingerprint:      fp.Dims[:],
		DerivedTargets:   targets,
		SampleRate:       fp.SampleRate,
		Duration:         fp.Duration,
		GeneratedAt:      fp.GeneratedAt,
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}

	path := SidecarPath(sourcePath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("placing sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads and validates the sidecar for a source file against
// the expected content signature. A missing file, a signature mismatch
// or a record older than the current schema all return ErrMiss; a
// mismatched sidecar is deleted on the spot, which is this system's
// stale-sidecar collection policy.
func ReadSidecar(sourcePath, signature string) (*fingerprint.Fingerprint, map[string]float64, error) {
	path := SidecarPath(sourcePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrMiss
		}
		return nil, nil, fmt.Errorf("reading sidecar: %w", err)
	}

	var rec sidecarRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt sidecar %s", ErrMiss, path)
	}

	if rec.ContentSignature != signature {
		// the source changed under the sidecar; drop the stale record
		os.Remove(path)
		return nil, nil, ErrMiss
	}
	if rec.SchemaVersion < fingerprint.SchemaVersion || len(rec.Fingerprint) < fingerprint.NumDims {
		return nil, nil, ErrMiss
	}

	fp := &fingerprint.Fingerprint{
		SchemaVersion:    fingerprint.SchemaVersion,
		ContentSignature: rec.ContentSignature,
		SampleRate:       rec.SampleRate,
		Duration:         rec.Duration,
		GeneratedAt:      rec.GeneratedAt,
	}
	copy(fp.Dims[:], rec.Fingerprint[:fingerprint.NumDims])
	return fp, rec.DerivedTargets, nil
}
