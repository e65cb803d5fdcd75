// Package plugins defines the transform plugin contract and the ordered
// pipeline that binds plugins to a build.
//
// A Factory is registered once on the Pipeline. Every build task
// instantiates the whole pipeline against its own Context, and files are
// passed through every plugin whose Test matches, in registration order.
package plugins

import (
	"context"
	"path/filepath"
	"strings"
)

// Kind is the closed set of plugin variants.
type Kind string

const (
	KindAssetRegister    Kind = "asset-register"
	KindSVGTransform     Kind = "svg-transform"
	KindRuntimeTransform Kind = "runtime-transform"
	KindTransformRule    Kind = "custom-transform-rule"
	KindFuncRule         Kind = "custom-func-rule"
)

// Plugin transforms files during a build.
type Plugin interface {
	// Name returns the unique name of the plugin
	Name() string

	// Kind returns the plugin variant
	Kind() Kind

	// Test reports whether the plugin applies to the file
	Test(path string, code []byte) bool

	// Apply transforms the file in place
	Apply(ctx context.Context, file *File) error
}

// Starter is implemented by plugins that reset per-build state before a
// build begins.
type Starter interface {
	Start(ctx context.Context, pctx *Context) error
}

// Finalizer is implemented by plugins that emit data once a build has
// succeeded, such as an accumulated asset list.
type Finalizer interface {
	Finalize(ctx context.Context, pctx *Context) error
}

// Uncacheable is implemented by plugins whose output must be recomputed on
// every build because applying them has side effects on the Context.
type Uncacheable interface {
	SkipCache() bool
}

// Factory binds a plugin to one build task's Context.
type Factory func(pctx *Context) (Plugin, error)

// Loader tells the bundling engine how to parse file contents.
type Loader string

const (
	LoaderJS   Loader = "js"
	LoaderJSX  Loader = "jsx"
	LoaderTS   Loader = "ts"
	LoaderTSX  Loader = "tsx"
	LoaderJSON Loader = "json"
	LoaderText Loader = "text"
	LoaderFile Loader = "file"
)

// File is a source file flowing through the pipeline.
type File struct {
	Path   string
	Code   []byte
	Loader Loader
	// ModifiedAt is the file's modification time in unix milliseconds.
	ModifiedAt int64
}

// LoaderForPath returns the default loader for a file name. Plain .js files
// use the JSX loader because react-native sources commonly contain JSX.
func LoaderForPath(path string) Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return LoaderJSX
	case ".ts", ".mts", ".cts":
		return LoaderTS
	case ".tsx":
		return LoaderTSX
	case ".json":
		return LoaderJSON
	case ".txt":
		return LoaderText
	default:
		return LoaderFile
	}
}

// IsScript reports whether path names a JavaScript or TypeScript source.
func IsScript(path string) bool {
	switch LoaderForPath(path) {
	case LoaderJSX, LoaderTS, LoaderTSX:
		return true
	default:
		return false
	}
}

// PackageName returns the node_modules package a file belongs to, or an
// empty string for project sources.
func PackageName(path string) string {
	slashed := filepath.ToSlash(path)
	idx := strings.LastIndex(slashed, "node_modules/")
	if idx < 0 {
		return ""
	}

	parts := strings.Split(slashed[idx+len("node_modules/"):], "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
