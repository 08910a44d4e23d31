package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Signature computes the content signature digest over raw source
// bytes. The digest is format-agnostic: it hashes the bytes as stored,
// so any edit to the file changes the signature and implicitly
// invalidates cached fingerprints keyed by it.
func Signature(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SignatureBytes computes the content signature of an in-memory blob.
func SignatureBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignatureFile computes the content signature of a file on disk.
func SignatureFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Signature(f)
}
