package storage

import (
	"context"
	"time"
)

// KVEngine is the embedded key/value store used by the Engine.
//
// Implementations must be safe for concurrent use and durable across
// restarts unless configured in memory.
type KVEngine interface {
	// Get returns ErrKeyNotFound if key does not exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	Set(ctx context.Context, key, value []byte) error

	Delete(ctx context.Context, key []byte) error

	// Scan calls fn for every key with prefix, in key order, until fn
	// returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// GC reclaims value log space. Returns the number of rewritten files.
	GC(ctx context.Context) (uint64, error)

	Stats(ctx context.Context) (*KVStats, error)

	Close() error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	TotalSize    uint64 `json:"total_size"`
	LSMSize      uint64 `json:"lsm_size"`
	ValueLogSize uint64 `json:"value_log_size"`

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`

	// GCRewrites is the number of value log files rewritten by GC.
	GCRewrites uint64 `json:"gc_rewrites"`
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the whole database in memory.
	InMemory bool

	Badger BadgerConfig
}

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs. Zero
	// disables automatic GC.
	GCInterval time.Duration

	// GCDiscardRatio is the stale fraction of a value log file that
	// makes GC rewrite it.
	GCDiscardRatio float64

	// CacheSize is the block cache size in bytes.
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	ValueLogFileSize int64

	NumMemtables int

	// SyncWrites fsyncs after each write.
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		CacheSize:        16 << 20,
		ValueLogFileSize: 64 << 20,
		NumMemtables:     2,
		SyncWrites:       true,
	}
}
