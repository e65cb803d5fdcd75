// Package builtin provides the plugins every build registers: asset
// registration, SVG components, runtime syntax transforms and custom
// transform rules.
package builtin

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// esbuildTransform runs esbuild's single-file transform and converts its
// messages into a build failure.
func esbuildTransform(code []byte, path string, opts api.TransformOptions) ([]byte, error) {
	opts.Sourcefile = path
	if opts.Loader == api.LoaderNone || opts.Loader == api.LoaderDefault {
		opts.Loader = engine.APILoader(plugins.LoaderForPath(path))
	}
	opts.LogLevel = api.LogLevelSilent

	result := api.Transform(string(code), opts)
	if len(result.Errors) > 0 {
		return nil, errors.NewBuildFailure(
			fmt.Sprintf("transform of %s failed", path), nil,
			engine.Diagnostics(result.Errors, errors.SeverityError)...)
	}
	return result.Code, nil
}

// Register adds the built-in plugins to pipeline in their fixed order:
// assets, svg components, custom rules, then runtime transforms.
func Register(pipeline *plugins.Pipeline, cfg *config.Config, rules Rules) {
	pipeline.Register(AssetRegister(AssetRegisterOptions{}))
	if cfg.Transformer.ConvertSvg {
		pipeline.Register(SVGTransform())
	}
	for _, rule := range rules.Transform {
		pipeline.Register(TransformRulePlugin(rule))
	}
	for _, rule := range rules.Func {
		pipeline.Register(FuncRulePlugin(rule))
	}
	pipeline.Register(RuntimeTransform())
}
