package build

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/woody-morgan/react-native-esbuild/internal/cache"
	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// fileTransformer loads files for the engine: it runs the task's plugin
// instance over each file and consults the transform cache first.
type fileTransformer struct {
	instance *plugins.Instance
	snapshot atomic.Pointer[cache.Snapshot]
	logger   logging.Logger
}

var _ engine.FileLoader = (*fileTransformer)(nil)

// cachedTransform is the serialized form of a transform result.
type cachedTransform struct {
	Loader plugins.Loader `json:"loader"`
	Code   string         `json:"code"`
}

// begin pins the cache snapshot used by the next build.
func (ft *fileTransformer) begin(snapshot *cache.Snapshot) {
	ft.snapshot.Store(snapshot)
}

// Load implements engine.FileLoader.
func (ft *fileTransformer) Load(ctx context.Context, path string) (*engine.LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		// Leave missing files to the engine's own error reporting
		return nil, nil
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	file := &plugins.File{
		Path:       path,
		Code:       code,
		Loader:     plugins.LoaderForPath(path),
		ModifiedAt: info.ModTime().UnixMilli(),
	}

	matched := ft.instance.Match(file)
	if len(matched) == 0 {
		return nil, nil
	}

	snapshot := ft.snapshot.Load()
	cacheable := snapshot != nil && plugins.Cacheable(matched)
	key := cache.Key(path)

	if cacheable {
		if entry, ok := snapshot.Get(key, file.ModifiedAt); ok {
			var cached cachedTransform
			if err := json.Unmarshal([]byte(entry.Data), &cached); err == nil {
				return &engine.LoadResult{Contents: []byte(cached.Code), Loader: cached.Loader}, nil
			}
			ft.logger.Debug(ctx, "Discarding undecodable cache entry", "path", path)
		}
	}

	// A failed transform returns before anything is written to the cache
	if err := ft.instance.Apply(ctx, file, matched); err != nil {
		return nil, err
	}

	if cacheable {
		data, err := json.Marshal(cachedTransform{Loader: file.Loader, Code: string(file.Code)})
		if err == nil {
			err = snapshot.Put(key, string(data), file.ModifiedAt)
		}
		if err != nil {
			ft.logger.Warn(ctx, err, "Failed to cache transform result", "path", path)
		}
	}

	return &engine.LoadResult{Contents: file.Code, Loader: file.Loader}, nil
}
