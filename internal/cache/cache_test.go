package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woody-morgan/react-native-esbuild/internal/config"
)

func newMemoryCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := New(Options{MaxSize: maxSize})
	require.NoError(t, err)
	return c
}

func TestCacheFreshness(t *testing.T) {
	c := newMemoryCache(t, 0)
	key := Key("/app/src/App.tsx")

	require.NoError(t, c.Put(key, "transformed", 1000))

	t.Run("same modification time hits", func(t *testing.T) {
		entry, ok := c.Get(key, 1000)
		require.True(t, ok)
		assert.Equal(t, "transformed", entry.Data)
		assert.Equal(t, int64(1000), entry.ModifiedAt)
	})

	t.Run("older file hits", func(t *testing.T) {
		_, ok := c.Get(key, 999)
		assert.True(t, ok)
	})

	t.Run("newer file misses", func(t *testing.T) {
		_, ok := c.Get(key, 1001)
		assert.False(t, ok)
	})

	t.Run("unknown key misses", func(t *testing.T) {
		_, ok := c.Get(Key("/app/other.js"), 0)
		assert.False(t, ok)
	})

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCacheOverwrite(t *testing.T) {
	c := newMemoryCache(t, 0)
	key := Key("a.js")

	require.NoError(t, c.Put(key, "v1", 1))
	require.NoError(t, c.Put(key, "v2", 2))

	entry, ok := c.Get(key, 2)
	require.True(t, ok)
	assert.Equal(t, Entry{Data: "v2", ModifiedAt: 2}, entry)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCacheLRUEviction(t *testing.T) {
	c := newMemoryCache(t, 10)

	require.NoError(t, c.Put("a", "aaaa", 1))
	require.NoError(t, c.Put("b", "bbbb", 1))

	// Touch a so b becomes least recently used
	_, ok := c.Get("a", 1)
	require.True(t, ok)

	require.NoError(t, c.Put("c", "cccc", 1))

	_, ok = c.Get("b", 1)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a", 1)
	assert.True(t, ok)
	_, ok = c.Get("c", 1)
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.LessOrEqual(t, stats.Size, int64(10))
}

func TestCacheOversizedEntryIsSkipped(t *testing.T) {
	c := newMemoryCache(t, 4)
	require.NoError(t, c.Put("big", "0123456789", 1))

	_, ok := c.Get("big", 1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCacheReset(t *testing.T) {
	c := newMemoryCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Put("a", "old", 1))
	before := c.Snapshot()

	require.NoError(t, c.Reset(ctx))

	_, ok := c.Get("a", 1)
	assert.False(t, ok, "reset drops every entry")

	// The old snapshot keeps working on its own generation
	entry, ok := before.Get("a", 1)
	require.True(t, ok)
	assert.Equal(t, "old", entry.Data)

	// and its writes never reach the new generation
	require.NoError(t, before.Put("b", "stale", 1))
	_, ok = c.Get("b", 1)
	assert.False(t, ok)

	assert.NotEqual(t, before.Generation(), c.Snapshot().Generation())
}

func TestDisabledCache(t *testing.T) {
	c, err := New(Options{Disabled: true, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, c.Disabled())

	require.NoError(t, c.Put("a", "data", 1))
	_, ok := c.Get("a", 0)
	assert.False(t, ok)
}

func TestDiskPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transform")
	key := Key("/app/index.js")

	first, err := New(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, first.Put(key, "console.log('persisted');", 42))

	second, err := New(Options{Dir: dir})
	require.NoError(t, err)

	entry, ok := second.Get(key, 42)
	require.True(t, ok)
	assert.Equal(t, "console.log('persisted');", entry.Data)
	assert.Equal(t, int64(42), entry.ModifiedAt)

	_, ok = second.Get(key, 43)
	assert.False(t, ok, "stale disk entries are not served")
}

func TestDiskReset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transform")
	ctx := context.Background()

	c, err := New(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, c.Put("k", "v", 1))
	before := c.Snapshot()

	require.NoError(t, c.Reset(ctx))

	// Writes through the old snapshot skip the disk entirely
	require.NoError(t, before.Put("late", "v", 1))

	reopened, err := New(Options{Dir: dir})
	require.NoError(t, err)
	_, ok := reopened.Get("k", 1)
	assert.False(t, ok)
	_, ok = reopened.Get("late", 1)
	assert.False(t, ok)
}

func TestDiskTruncatedEntryMisses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transform")
	c, err := New(Options{Dir: dir})
	require.NoError(t, err)

	gen := c.current.Load()
	require.NoError(t, os.WriteFile(gen.disk.path("bad"), []byte{1, 2}, 0o644))

	_, ok := c.Get("bad", 0)
	assert.False(t, ok)
}

func TestClean(t *testing.T) {
	root := t.TempDir()
	c, err := New(Options{Dir: TransformDir(root)})
	require.NoError(t, err)
	require.NoError(t, c.Put("k", "v", 1))

	require.NoError(t, Clean(root))
	_, err = os.Stat(TransformDir(root))
	assert.True(t, os.IsNotExist(err))
}

func TestFromConfigSeparatesTransformerSettings(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	path := filepath.Join(cfg.Root, "node_modules", "lib", "index.js")

	first, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Put(Key(path), "stripped", 1))

	same, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	entry, ok := same.Get(Key(path), 1)
	require.True(t, ok, "an unchanged config reuses the disk layer")
	assert.Equal(t, "stripped", entry.Data)

	changed := *cfg
	changed.Transformer.FullyTransformPackageNames = []string{"lib"}
	other, err := FromConfig(&changed, nil)
	require.NoError(t, err)
	_, ok = other.Get(Key(path), 1)
	assert.False(t, ok, "entries from other transformer settings are not served")

	salted, err := FromConfig(cfg, nil, "rule:inline-env")
	require.NoError(t, err)
	_, ok = salted.Get(Key(path), 1)
	assert.False(t, ok)

	assert.NotEqual(t, Fingerprint(cfg), Fingerprint(&changed))
	assert.Equal(t, Fingerprint(cfg, "a"), Fingerprint(cfg, "a"))

	require.NoError(t, Clean(cfg.CacheDir))
	assert.NoDirExists(t, TransformDir(cfg.CacheDir), "clean removes every fingerprint")
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("/app/a.js"), Key("/app/a.js"))
	assert.NotEqual(t, Key("/app/a.js"), Key("/app/b.js"))
	assert.Len(t, Key("/app/a.js"), 16)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, Key(filepath.Join(wd, "rel.js")), Key("rel.js"), "relative paths resolve to the same identity")
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newMemoryCache(t, 1<<10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("file-%d", j%16)
				data := fmt.Sprintf("worker-%d-%d", worker, j)
				_ = c.Put(key, data, int64(j))
				if entry, ok := c.Get(key, 0); ok {
					// Entries are whole: data and time always belong together
					assert.Contains(t, entry.Data, "worker-")
				}
				if j == 100 && worker == 0 {
					assert.NoError(t, c.Reset(ctx))
				}
			}
		}(i)
	}
	wg.Wait()
}
