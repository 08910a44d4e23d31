// Package cache resolves fingerprints through an ordered fallback
// chain: persistent store, sidecar file, remote generation, local
// synchronous extraction. The final tier cannot fail, so a fingerprint
// is always eventually available and playback never blocks on an error.
package cache

import (
	"context"
	"sync"

	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
	"github.com/avshenoy/masterline/pkg/logger"
)

// FingerprintStore is the slice of the persistent store the chain uses.
type FingerprintStore interface {
	GetBySignature(signature string) (*fingerprint.Fingerprint, error)
	Put(trackID string, fp *fingerprint.Fingerprint) error
}

// Generator produces a fingerprint remotely. Implementations must fold
// every failure into an error wrapping ErrMiss.
type Generator interface {
	Generate(ctx context.Context, trackID, signature, sourcePath string) (*fingerprint.Fingerprint, error)
}

// Logger is the minimal logging surface the chain needs; logrus
// satisfies it.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Request identifies what to resolve. Signature is required; at least
// one of SourcePath or Buffer should be set for the sidecar and local
// tiers to have material to work with.
type Request struct {
	TrackID    string
	Signature  string
	SourcePath string
	Buffer     *audio.Buffer
}

type call struct {
	done chan struct{}
	fp   *fingerprint.Fingerprint
	err  error
}

// Chain is the ordered resolver. Concurrent Resolve calls for the same
// (track, signature) share one resolution; nobody generates twice.
type Chain struct {
	store     FingerprintStore
	remote    Generator
	extractor *fingerprint.Extractor
	log       Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// NewChain builds the resolver chain. store and remote may be nil, in
// which case those tiers are skipped; the local tier always exists.
func NewChain(store FingerprintStore, remote Generator, extractor *fingerprint.Extractor, log Logger) *Chain {
	if extractor == nil {
		extractor = fingerprint.NewExtractor(nil)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Chain{
		store:     store,
		remote:    remote,
		extractor: extractor,
		log:       log,
		inflight:  make(map[string]*call),
	}
}

// Resolve returns the fingerprint for a request, walking the chain
// until a tier answers. Duplicate concurrent requests single-flight.
func (c *Chain) Resolve(ctx context.Context, req Request) (*fingerprint.Fingerprint, error) {
	key := req.TrackID + "|" + req.Signature

	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.fp, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.fp, cl.err = c.resolve(ctx, req)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return cl.fp, cl.err
}

func (c *Chain) resolve(ctx context.Context, req Request) (*fingerprint.Fingerprint, error) {
	// tier 1: persistent store, keyed by content signature
	if c.store != nil {
		if fp, err := c.store.GetBySignature(req.Signature); err == nil {
			c.log.Debugf("fingerprint for %s served from store", req.TrackID)
			return fp, nil
		}
	}

	// tier 2: sidecar file next to the source
	if req.SourcePath != "" {
		if fp, _, err := ReadSidecar(req.SourcePath, req.Signature); err == nil {
			c.log.Debugf("fingerprint for %s served from sidecar", req.TrackID)
			c.persist(req, fp, false)
			return fp, nil
		}
	}

	// tier 3: remote generation, bounded by the client's timeout
	if c.remote != nil {
		if fp, err := c.remote.Generate(ctx, req.TrackID, req.Signature, req.SourcePath); err == nil {
			c.log.Infof("fingerprint for %s generated remotely", req.TrackID)
			c.persist(req, fp, true)
			return fp, nil
		} else {
			c.log.Warnf("remote generation for %s unavailable, computing locally: %v", req.TrackID, err)
		}
	}

	// tier 4: local synchronous extraction, guaranteed to succeed
	fp := c.extractLocal(req)
	c.persist(req, fp, true)
	return fp, nil
}

func (c *Chain) extractLocal(req Request) *fingerprint.Fingerprint {
	buf := req.Buffer
	if buf == nil && req.SourcePath != "" {
		decoded, err := audio.DecodeFile(req.SourcePath)
		if err != nil {
			c.log.Warnf("decoding %s failed, using neutral fingerprint: %v", req.SourcePath, err)
		} else {
			buf = decoded
		}
	}

	fp := c.extractor.Extract(buf)
	fp.ContentSignature = req.Signature
	return fp
}

// persist writes the resolved fingerprint back into the cheaper tiers.
// Persistence failures degrade to log lines; the caller already has its
// answer.
func (c *Chain) persist(req Request, fp *fingerprint.Fingerprint, writeSidecar bool) {
	if c.store != nil {
		if err := c.store.Put(req.TrackID, fp); err != nil {
			c.log.Warnf("persisting fingerprint for %s: %v", req.TrackID, err)
		}
	}
	if writeSidecar && req.SourcePath != "" {
		if err := WriteSidecar(req.SourcePath, fp, nil); err != nil {
			c.log.Warnf("writing sidecar for %s: %v", req.SourcePath, err)
		}
	}
}
