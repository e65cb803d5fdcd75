package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(0, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.Equal(t, DefaultDebounce, watcher.debouncer.delay)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
}

// collector records every batch delivered to its handler.
type collector struct {
	mu      sync.Mutex
	batches [][]ChangeEvent
}

func (c *collector) handle(_ context.Context, events []ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
	return nil
}

func (c *collector) paths() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make(map[string]bool)
	for _, batch := range c.batches {
		for _, event := range batch {
			paths[event.Path] = true
		}
	}
	return paths
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func startWatcher(t *testing.T, root string, filters ...FileFilter) *collector {
	t.Helper()

	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	for _, f := range filters {
		watcher.AddFilter(f)
	}
	c := &collector{}
	watcher.AddHandler(c.handle)
	require.NoError(t, watcher.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, watcher.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = watcher.Stop()
		watcher.Wait()
	})
	return c
}

func TestFileWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	c := startWatcher(t, root, SourceFilter)

	path := filepath.Join(root, "App.tsx")
	require.NoError(t, os.WriteFile(path, []byte("export default 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool { return c.paths()[path] }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.paths()[filepath.Join(root, "notes.md")])
}

func TestFileWatcherSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "node_modules", "lib")
	require.NoError(t, os.MkdirAll(modules, 0o755))
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))

	c := startWatcher(t, root, SourceFilter)

	require.NoError(t, os.WriteFile(filepath.Join(modules, "index.js"), []byte("1"), 0o644))
	srcFile := filepath.Join(src, "index.js")
	require.NoError(t, os.WriteFile(srcFile, []byte("1"), 0o644))

	assert.Eventually(t, func() bool { return c.paths()[srcFile] }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.paths()[filepath.Join(modules, "index.js")])
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	c := startWatcher(t, root, SourceFilter)

	dir := filepath.Join(root, "screens")
	require.NoError(t, os.Mkdir(dir, 0o755))

	path := filepath.Join(dir, "Home.tsx")
	// The directory watch is added asynchronously; keep touching the file
	// until a change is seen
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(fmt.Sprint(time.Now().UnixNano())), 0o644)
		return c.paths()[path]
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFileWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	c := startWatcher(t, root, SourceFilter)

	path := filepath.Join(root, "index.js")
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprint(i)), 0o644))
	}

	assert.Eventually(t, func() bool { return c.count() > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Less(t, c.count(), 10)
}

func TestDebouncer(t *testing.T) {
	debouncer := newDebouncer(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.js", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "a.js", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "b.js", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.js", events[0].Path)
		assert.Equal(t, "b.js", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "the latest event per path wins")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestSourceFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"index.js", true},
		{"App.TSX", true},
		{"package.json", true},
		{"icon@2x.png", true},
		{"logo.svg", true},
		{"README.md", false},
		{"Podfile", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, SourceFilter(tc.path))
		})
	}
}

func TestPathFilters(t *testing.T) {
	assert.True(t, NoNodeModulesFilter("/app/src/index.js"))
	assert.False(t, NoNodeModulesFilter("/app/node_modules/react/index.js"))
	assert.True(t, NoNodeModulesFilter("/app/my_node_modules_notes.js"))

	assert.True(t, NoGitFilter("/app/src/index.js"))
	assert.False(t, NoGitFilter("/app/.git/HEAD"))

	assert.True(t, NoTempFilter("/app/index.js"))
	assert.False(t, NoTempFilter("/app/index.js~"))
	assert.False(t, NoTempFilter("/app/.index.js.swp"))
	assert.False(t, NoTempFilter("/app/.#index.js"))

	outsideCache := NotUnderFilter("/app/.cache")
	assert.True(t, outsideCache("/app/src/index.js"))
	assert.True(t, outsideCache("/app/.cache-notes.js"))
	assert.False(t, outsideCache("/app/.cache/transform/abc.zst"))
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "components"), 0o755))

	assert.NoError(t, watcher.AddRecursive(root))
	assert.Error(t, watcher.AddRecursive(filepath.Join(root, "missing")))

	watched := watcher.watcher.WatchList()
	assert.Contains(t, watched, filepath.Join(root, "src", "components"))
}
