// Package engine is the boundary to the bundling engine. The registry only
// sees the Engine and Context interfaces; the esbuild adapter in this
// package is the production implementation.
package engine

import (
	"context"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// Options describes one incremental build session.
type Options struct {
	Root       string
	EntryFile  string
	Platform   plugins.Platform
	Dev        bool
	Minify     bool
	MainFields []string
	// Target is the syntax target of the emitted bundle, e.g. "es2020".
	Target string
	// Outfile names the virtual output; nothing is written to disk.
	Outfile string
}

// LoadResult is the outcome of loading one file through the plugin
// pipeline. A nil result leaves the file to the engine's default loaders.
type LoadResult struct {
	Contents []byte
	Loader   plugins.Loader
}

// FileLoader loads source files on behalf of the engine. The engine calls
// it from many goroutines during a build.
type FileLoader interface {
	Load(ctx context.Context, path string) (*LoadResult, error)
}

// FileLoaderFunc adapts a function to FileLoader.
type FileLoaderFunc func(ctx context.Context, path string) (*LoadResult, error)

// Load calls f.
func (f FileLoaderFunc) Load(ctx context.Context, path string) (*LoadResult, error) {
	return f(ctx, path)
}

// Output is the product of one build.
type Output struct {
	Source    []byte
	SourceMap []byte
	Metafile  []byte
	Warnings  []errors.Diagnostic
}

// Empty reports whether the build emitted no bundle.
func (o *Output) Empty() bool {
	return o == nil || len(o.Source) == 0
}

// Context is an incremental build session for one target.
type Context interface {
	// Rebuild runs a build and returns its output. Engine diagnostics are
	// returned as a build failure.
	Rebuild(ctx context.Context) (*Output, error)

	// Dispose releases the session.
	Dispose()
}

// Engine creates build sessions.
type Engine interface {
	NewContext(opts Options, loader FileLoader) (Context, error)
}
