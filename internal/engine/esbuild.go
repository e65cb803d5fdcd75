package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// pluginName is reported by esbuild for errors raised while loading files.
const pluginName = "react-native-esbuild"

var loaders = map[plugins.Loader]api.Loader{
	plugins.LoaderJS:   api.LoaderJS,
	plugins.LoaderJSX:  api.LoaderJSX,
	plugins.LoaderTS:   api.LoaderTS,
	plugins.LoaderTSX:  api.LoaderTSX,
	plugins.LoaderJSON: api.LoaderJSON,
	plugins.LoaderText: api.LoaderText,
	plugins.LoaderFile: api.LoaderFile,
}

// APILoader converts a pipeline loader to esbuild's.
func APILoader(loader plugins.Loader) api.Loader {
	if l, ok := loaders[loader]; ok {
		return l
	}
	return api.LoaderDefault
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// APITarget converts a configured target name to esbuild's.
func APITarget(name string) api.Target {
	if t, ok := targets[strings.ToLower(name)]; ok {
		return t
	}
	return api.ES2020
}

// ResolveExtensions returns the platform-specific resolution order used by
// react-native: platform files first, then native, then generic.
func ResolveExtensions(platform plugins.Platform) []string {
	base := []string{".tsx", ".ts", ".jsx", ".js", ".json"}
	prefixes := []string{"." + string(platform)}
	if platform != plugins.PlatformWeb {
		prefixes = append(prefixes, ".native")
	}

	exts := make([]string, 0, len(base)*(len(prefixes)+1))
	for _, prefix := range prefixes {
		for _, ext := range base {
			exts = append(exts, prefix+ext)
		}
	}
	return append(exts, base...)
}

// Defines returns the global definitions injected into every bundle.
func Defines(dev bool) map[string]string {
	env := "production"
	if dev {
		env = "development"
	}
	return map[string]string{
		"__DEV__":              fmt.Sprintf("%t", dev),
		"process.env.NODE_ENV": fmt.Sprintf("%q", env),
		"global":               "globalThis",
	}
}

// Esbuild is the production Engine.
type Esbuild struct {
	logger logging.Logger
}

// NewEsbuild creates the esbuild engine adapter.
func NewEsbuild(logger logging.Logger) *Esbuild {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Esbuild{logger: logger.WithComponent("engine")}
}

// BuildOptions translates Options into esbuild build options.
func BuildOptions(opts Options) api.BuildOptions {
	outfile := opts.Outfile
	if outfile == "" {
		outfile = filepath.Join(opts.Root, "index.bundle")
	}
	entry := opts.EntryFile
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(opts.Root, entry)
	}

	return api.BuildOptions{
		AbsWorkingDir:     opts.Root,
		EntryPoints:       []string{entry},
		Outfile:           outfile,
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Sourcemap:         api.SourceMapExternal,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            APITarget(opts.Target),
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		MainFields:        opts.MainFields,
		ResolveExtensions: ResolveExtensions(opts.Platform),
		Define:            Defines(opts.Dev),
		Loader: map[string]api.Loader{
			".js": api.LoaderJSX,
		},
		LogLevel: api.LogLevelSilent,
	}
}

// NewContext creates an esbuild incremental context whose file loads go
// through loader.
func (e *Esbuild) NewContext(opts Options, loader FileLoader) (Context, error) {
	ec := &esbuildContext{
		logger: e.logger.With("entry", opts.EntryFile, "platform", string(opts.Platform)),
		loader: loader,
	}

	buildOpts := BuildOptions(opts)
	buildOpts.Plugins = []api.Plugin{ec.plugin()}

	ctx, ctxErr := api.Context(buildOpts)
	if ctxErr != nil {
		return nil, errors.NewBuildFailure("failed to create build context", nil,
			Diagnostics(ctxErr.Errors, errors.SeverityError)...)
	}
	ec.ctx = ctx
	return ec, nil
}

type esbuildContext struct {
	ctx    api.BuildContext
	loader FileLoader
	logger logging.Logger

	// current build state, guarded by mu; Rebuild calls are serialized by
	// the registry
	mu         sync.Mutex
	buildCtx   context.Context
	pluginErrs []error
}

func (c *esbuildContext) plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					result, err := c.loader.Load(c.currentContext(), args.Path)
					if err != nil {
						c.recordPluginError(err)
						return api.OnLoadResult{}, err
					}
					if result == nil {
						return api.OnLoadResult{}, nil
					}

					contents := string(result.Contents)
					resolveDir := filepath.Dir(args.Path)
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: resolveDir,
						Loader:     APILoader(result.Loader),
					}, nil
				})
		},
	}
}

func (c *esbuildContext) currentContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buildCtx == nil {
		return context.Background()
	}
	return c.buildCtx
}

func (c *esbuildContext) recordPluginError(err error) {
	c.mu.Lock()
	c.pluginErrs = append(c.pluginErrs, err)
	c.mu.Unlock()
}

// Rebuild runs one incremental build.
func (c *esbuildContext) Rebuild(ctx context.Context) (*Output, error) {
	c.mu.Lock()
	c.buildCtx = ctx
	c.pluginErrs = nil
	c.mu.Unlock()

	result := c.ctx.Rebuild()

	c.mu.Lock()
	pluginErrs := c.pluginErrs
	c.buildCtx = nil
	c.pluginErrs = nil
	c.mu.Unlock()

	if len(result.Errors) > 0 {
		diags := Diagnostics(result.Errors, errors.SeverityError)
		var cause error
		if len(pluginErrs) > 0 {
			cause = pluginErrs[0]
		}
		c.logger.Debug(ctx, "Build reported errors", "errors", len(result.Errors))
		return nil, errors.NewBuildFailure(
			fmt.Sprintf("build failed with %d error(s)", len(result.Errors)), cause, diags...)
	}

	out := &Output{
		Metafile: []byte(result.Metafile),
		Warnings: Diagnostics(result.Warnings, errors.SeverityWarning),
	}
	for _, file := range result.OutputFiles {
		switch {
		case strings.HasSuffix(file.Path, ".map"):
			out.SourceMap = file.Contents
		case strings.HasSuffix(file.Path, ".js"), strings.HasSuffix(file.Path, ".bundle"):
			out.Source = file.Contents
		}
	}
	return out, nil
}

// Dispose releases the esbuild context.
func (c *esbuildContext) Dispose() {
	c.ctx.Dispose()
}

// Diagnostics converts esbuild messages.
func Diagnostics(messages []api.Message, severity errors.Severity) []errors.Diagnostic {
	if len(messages) == 0 {
		return nil
	}
	diags := make([]errors.Diagnostic, 0, len(messages))
	for _, msg := range messages {
		d := errors.Diagnostic{
			Plugin:   msg.PluginName,
			Message:  msg.Text,
			Severity: severity,
		}
		if msg.Location != nil {
			d.File = msg.Location.File
			d.Line = msg.Location.Line
			d.Column = msg.Location.Column
			d.LineText = msg.Location.LineText
		}
		diags = append(diags, d)
	}
	return diags
}
