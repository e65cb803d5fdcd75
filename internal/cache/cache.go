// Package cache provides the transform cache shared by every build: a
// size-bounded in-memory LRU in front of an optional zstd-compressed disk
// store. Entries are keyed by file identity and are only served while they
// are at least as new as the file they were produced from.
//
// Reset replaces the backing stores wholesale. Builds that took a Snapshot
// before the reset keep reading and writing the old generation, and nothing
// they write becomes visible through the new one.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
)

// DefaultMaxSize bounds the in-memory store.
const DefaultMaxSize = 256 << 20

// Entry is one cached transform result.
type Entry struct {
	Data string
	// ModifiedAt is the source file's modification time in unix milliseconds.
	ModifiedAt int64
}

// Fresh reports whether the entry may be served for a file last modified at
// modifiedAt.
func (e Entry) Fresh(modifiedAt int64) bool {
	return e.ModifiedAt >= modifiedAt
}

// Stats summarizes the live generation.
type Stats struct {
	Generation uint64
	Entries    int
	Size       int64
	MaxSize    int64
	Hits       int64
	Misses     int64
	Sets       int64
	Evictions  int64
}

// Options configures a Cache.
type Options struct {
	// Disabled makes every lookup miss and every write a no-op.
	Disabled bool
	// Dir enables the disk layer. Empty keeps the cache in memory only.
	Dir string
	// MaxSize bounds the memory layer in bytes; zero selects DefaultMaxSize.
	MaxSize int64
	Logger  logging.Logger
}

// Cache is the process-wide transform cache.
type Cache struct {
	current  atomic.Pointer[generation]
	resetMu  sync.Mutex
	nextID   uint64
	disabled bool
	dir      string
	maxSize  int64
	logger   logging.Logger
}

type generation struct {
	id   uint64
	mem  *memoryStore
	disk *diskStore
}

// New creates a cache and opens its disk layer when configured.
func New(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	c := &Cache{
		disabled: opts.Disabled,
		dir:      opts.Dir,
		maxSize:  maxSize,
		logger:   logger.WithComponent("cache"),
	}

	gen := &generation{id: c.nextID, mem: newMemoryStore(maxSize)}
	if !c.disabled && c.dir != "" {
		disk, err := openDiskStore(c.dir)
		if err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeCacheIO, "failed to open transform cache")
		}
		gen.disk = disk
	}
	c.current.Store(gen)

	return c, nil
}

// FromConfig builds the cache described by cfg. The disk layer lives in a
// directory named by Fingerprint, so entries written under other
// transformer settings are never served.
func FromConfig(cfg *config.Config, logger logging.Logger, salt ...string) (*Cache, error) {
	return New(Options{
		Disabled: !cfg.Cache,
		Dir:      filepath.Join(TransformDir(cfg.CacheDir), Fingerprint(cfg, salt...)),
		Logger:   logger,
	})
}

// Fingerprint hashes the settings that shape transform output: the
// transformer config plus caller supplied salt such as the binary version
// and custom rule names.
func Fingerprint(cfg *config.Config, salt ...string) string {
	h := xxhash.New()
	// Marshalling strings, bools and string slices cannot fail
	data, _ := json.Marshal(cfg.Transformer)
	_, _ = h.Write(data)
	for _, s := range salt {
		_, _ = h.WriteString("\x00" + s)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// TransformDir returns the disk layer location under a cache root.
func TransformDir(cacheDir string) string {
	return filepath.Join(cacheDir, "transform")
}

// Key returns the stable identity of the file at path.
func Key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(path))
}

// Disabled reports whether caching is switched off.
func (c *Cache) Disabled() bool {
	return c.disabled
}

// Snapshot pins the live generation. Builds take one snapshot when they
// start and use it for all of their lookups.
func (c *Cache) Snapshot() *Snapshot {
	return &Snapshot{cache: c, gen: c.current.Load()}
}

// Get looks key up in the live generation.
func (c *Cache) Get(key string, modifiedAt int64) (Entry, bool) {
	return c.Snapshot().Get(key, modifiedAt)
}

// Put stores data for key in the live generation.
func (c *Cache) Put(key, data string, modifiedAt int64) error {
	return c.Snapshot().Put(key, data, modifiedAt)
}

// Reset installs an empty generation. The previous disk generation is
// removed in the background once it is no longer current.
func (c *Cache) Reset(ctx context.Context) error {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	old := c.current.Load()
	c.nextID++
	gen := &generation{id: c.nextID, mem: newMemoryStore(c.maxSize)}

	if old.disk != nil {
		disk, err := newDiskGeneration(c.dir)
		if err != nil {
			return errors.WrapIO(err, errors.ErrCodeCacheIO, "failed to reset transform cache")
		}
		gen.disk = disk
	}

	c.current.Store(gen)
	c.logger.Info(ctx, "Transform cache reset", "generation", gen.id)

	if old.disk != nil {
		go func() {
			if err := old.disk.remove(); err != nil {
				c.logger.Warn(context.Background(), err, "Failed to remove old cache generation", "dir", old.disk.dir)
			}
		}()
	}
	return nil
}

// Stats returns statistics of the live generation.
func (c *Cache) Stats() Stats {
	gen := c.current.Load()
	stats := gen.mem.stats()
	stats.Generation = gen.id
	return stats
}

// Clean removes the on-disk cache under cacheDir.
func Clean(cacheDir string) error {
	if err := os.RemoveAll(TransformDir(cacheDir)); err != nil {
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "failed to clean transform cache")
	}
	return nil
}

// Snapshot is a view of one cache generation.
type Snapshot struct {
	cache *Cache
	gen   *generation
}

// Generation identifies the pinned generation.
func (s *Snapshot) Generation() uint64 {
	return s.gen.id
}

// Get returns the entry for key when it is at least as new as modifiedAt.
func (s *Snapshot) Get(key string, modifiedAt int64) (Entry, bool) {
	if s.cache.disabled {
		return Entry{}, false
	}

	mem := s.gen.mem
	if entry, ok := mem.get(key); ok && entry.Fresh(modifiedAt) {
		atomic.AddInt64(&mem.hits, 1)
		return entry, true
	}

	if s.gen.disk != nil {
		entry, ok, err := s.gen.disk.get(key)
		if err != nil {
			s.cache.logger.Debug(context.Background(), "Ignoring unreadable cache entry", "key", key, "error", err)
		}
		if ok && entry.Fresh(modifiedAt) {
			mem.put(key, entry)
			atomic.AddInt64(&mem.hits, 1)
			return entry, true
		}
	}

	atomic.AddInt64(&mem.misses, 1)
	return Entry{}, false
}

// Put overwrites the entry for key. The disk layer is only written while
// the snapshot's generation is still current.
func (s *Snapshot) Put(key, data string, modifiedAt int64) error {
	if s.cache.disabled {
		return nil
	}

	entry := Entry{Data: data, ModifiedAt: modifiedAt}
	s.gen.mem.put(key, entry)

	if s.gen.disk == nil || s.cache.current.Load() != s.gen {
		return nil
	}
	if err := s.gen.disk.put(key, entry); err != nil {
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "failed to persist transform result").
			WithContext("key", key)
	}
	return nil
}
