package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/woody-morgan/react-native-esbuild/internal/cache"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// fakeEngine stands in for esbuild. Each rebuild loads every file in files
// through the registry's loader, falling back to the file on disk when the
// loader declines it, and concatenates the results.
type fakeEngine struct {
	mu       sync.Mutex
	files    []string
	gate     chan struct{}
	newErr   error
	output   func(n int32, contents string) (*engine.Output, error)
	contexts []*fakeContext

	rebuilds atomic.Int32
	created  atomic.Int32
}

func (e *fakeEngine) NewContext(opts engine.Options, loader engine.FileLoader) (engine.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		err := e.newErr
		e.newErr = nil
		return nil, err
	}
	e.created.Add(1)
	fc := &fakeContext{engine: e, opts: opts, loader: loader}
	e.contexts = append(e.contexts, fc)
	return fc, nil
}

// setGate makes subsequent rebuilds block until release is called.
func (e *fakeEngine) setGate() {
	e.mu.Lock()
	e.gate = make(chan struct{})
	e.mu.Unlock()
}

func (e *fakeEngine) release() {
	e.mu.Lock()
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
	e.mu.Unlock()
}

type fakeContext struct {
	engine   *fakeEngine
	opts     engine.Options
	loader   engine.FileLoader
	disposed atomic.Bool
}

func (c *fakeContext) Rebuild(ctx context.Context) (*engine.Output, error) {
	e := c.engine
	n := e.rebuilds.Add(1)

	e.mu.Lock()
	gate := e.gate
	files := append([]string(nil), e.files...)
	output := e.output
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}

	var contents strings.Builder
	for _, path := range files {
		res, err := c.loader.Load(ctx, path)
		if err != nil {
			return nil, errors.NewBuildFailure("build failed with 1 error", err)
		}
		if res == nil {
			// Files no plugin claims are read as they are
			code, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.NewBuildFailure("build failed with 1 error", err)
			}
			res = &engine.LoadResult{Contents: code}
		}
		contents.Write(res.Contents)
		contents.WriteString("\n")
	}

	if output != nil {
		return output(n, contents.String())
	}
	return &engine.Output{
		Source:    []byte(fmt.Sprintf("// build %d\n%s", n, contents.String())),
		SourceMap: []byte(`{"version":3}`),
	}, nil
}

func (c *fakeContext) Dispose() {
	c.disposed.Store(true)
}

// wrapPlugin wraps matching files in name(...) and counts applications
// and build starts.
type wrapPlugin struct {
	name      string
	suffix    string
	err       error
	startErr  error
	skipCache bool
	applied   atomic.Int32
	started   atomic.Int32
}

func (p *wrapPlugin) Name() string       { return p.name }
func (p *wrapPlugin) Kind() plugins.Kind { return plugins.KindFuncRule }
func (p *wrapPlugin) SkipCache() bool    { return p.skipCache }
func (p *wrapPlugin) Test(path string, _ []byte) bool {
	return strings.HasSuffix(path, p.suffix)
}

func (p *wrapPlugin) Start(context.Context, *plugins.Context) error {
	p.started.Add(1)
	return p.startErr
}

func (p *wrapPlugin) Apply(_ context.Context, file *plugins.File) error {
	p.applied.Add(1)
	if p.err != nil {
		return p.err
	}
	file.Code = []byte(p.name + "(" + string(file.Code) + ")")
	return nil
}

type testEnv struct {
	registry *Registry
	engine   *fakeEngine
	cache    *cache.Cache
	config   *config.Config
	root     string
}

func newTestEnv(t *testing.T, factories ...plugins.Factory) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Root = root
	cfg.CacheDir = filepath.Join(root, ".cache")

	c, err := cache.New(cache.Options{})
	require.NoError(t, err)

	pipeline := plugins.NewPipeline(nil)
	for _, f := range factories {
		pipeline.Register(f)
	}

	eng := &fakeEngine{}
	registry, err := NewRegistry(Options{
		Engine:   eng,
		Pipeline: pipeline,
		Cache:    c,
		Config:   cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.release()
		_ = registry.Close()
	})

	return &testEnv{registry: registry, engine: eng, cache: c, config: cfg, root: root}
}

// writeFile writes a source file under the env root and registers it with
// the fake engine.
func (env *testEnv) writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(env.root, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	env.engine.mu.Lock()
	env.engine.files = append(env.engine.files, path)
	env.engine.mu.Unlock()
	return path
}

func pluginFactory(p plugins.Plugin) plugins.Factory {
	return func(*plugins.Context) (plugins.Plugin, error) { return p, nil }
}

func iosTarget(mode plugins.Mode) Target {
	return Target{EntryFile: "index.js", Platform: plugins.PlatformIOS, Mode: mode, Dev: true}
}

// osWriteLater rewrites path with a modification time strictly after the
// current one so cache freshness checks see the change.
func osWriteLater(path, contents string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return err
	}
	later := info.ModTime().Add(2 * time.Second)
	return os.Chtimes(path, later, later)
}
