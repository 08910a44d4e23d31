package masterline

import (
	"time"

	"github.com/avshenoy/masterline/pkg/masterline/batch"
	"github.com/avshenoy/masterline/pkg/masterline/cache"
	"github.com/avshenoy/masterline/pkg/masterline/mastering"
	"github.com/avshenoy/masterline/pkg/masterline/storage"
)

type Config struct {
	DBPath        string
	RemoteURL     string
	RemoteTimeout time.Duration

	Chunk      mastering.ChunkConfig
	Thresholds mastering.Thresholds
	Batch      batch.Config

	// UseFastPath asks for the accelerated batch executor; the detector
	// still falls back to CPU if the fast path fails its self test.
	UseFastPath bool
	Workers     int

	Logger Logger
	Store  cache.FingerprintStore
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithRemote(baseURL string, timeout time.Duration) Option {
	return func(c *Config) {
		c.RemoteURL = baseURL
		c.RemoteTimeout = timeout
	}
}

func WithChunkConfig(cfg mastering.ChunkConfig) Option {
	return func(c *Config) {
		c.Chunk = cfg
	}
}

func WithThresholds(t mastering.Thresholds) Option {
	return func(c *Config) {
		c.Thresholds = t
	}
}

func WithBatchConfig(cfg batch.Config) Option {
	return func(c *Config) {
		c.Batch = cfg
	}
}

func WithFastPath(enabled bool) Option {
	return func(c *Config) {
		c.UseFastPath = enabled
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStore(store cache.FingerprintStore) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:        storage.DefaultDBFile,
		RemoteTimeout: cache.DefaultRemoteTimeout,
		Chunk:         mastering.DefaultChunkConfig(),
		Thresholds:    mastering.DefaultThresholds(),
		UseFastPath:   true,
		Workers:       4,
	}
}
