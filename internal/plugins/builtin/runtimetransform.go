package builtin

import (
	"bytes"
	"context"
	"regexp"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

var (
	flowPragma = regexp.MustCompile(`(?m)^\s*(?://|/\*+|\*)?\s*@(?:flow|noflow)\b.*$`)
	// import typeof and opaque type declarations have no TypeScript form
	flowTypeStatement = regexp.MustCompile(`(?m)^[ \t]*(?:import\s+typeof\s|(?:export\s+)?opaque\s+type\s)[^;]*;[ \t]*$`)
	flowExactOpen     = regexp.MustCompile(`\{\|`)
	flowExactClose    = regexp.MustCompile(`\|\}`)
	// maybe types after an annotation colon: `x: ?string`
	flowMaybe = regexp.MustCompile(`:\s*\?([A-Za-z_$({\[])`)
)

// RuntimeTransform strips Flow from the packages listed in
// transformer.stripFlowPackageNames and downlevels the packages listed in
// transformer.fullyTransformPackageNames to ES2015. Project sources are left
// to the bundler.
func RuntimeTransform() plugins.Factory {
	return func(pctx *plugins.Context) (plugins.Plugin, error) {
		r := &runtimeTransform{
			pctx:           pctx,
			stripFlow:      make(map[string]bool),
			fullyTransform: make(map[string]bool),
		}
		if pctx.Config != nil {
			for _, name := range pctx.Config.Transformer.StripFlowPackageNames {
				r.stripFlow[name] = true
			}
			for _, name := range pctx.Config.Transformer.FullyTransformPackageNames {
				r.fullyTransform[name] = true
			}
		}
		return r, nil
	}
}

type runtimeTransform struct {
	pctx           *plugins.Context
	stripFlow      map[string]bool
	fullyTransform map[string]bool
}

func (r *runtimeTransform) Name() string       { return string(plugins.KindRuntimeTransform) }
func (r *runtimeTransform) Kind() plugins.Kind { return plugins.KindRuntimeTransform }

func (r *runtimeTransform) Test(path string, _ []byte) bool {
	if !plugins.IsScript(path) {
		return false
	}
	pkg := plugins.PackageName(path)
	return pkg != "" && (r.stripFlow[pkg] || r.fullyTransform[pkg])
}

func (r *runtimeTransform) Apply(_ context.Context, file *plugins.File) error {
	pkg := plugins.PackageName(file.Path)
	loader := loaderFor(file)

	code := file.Code
	if r.stripFlow[pkg] {
		code = StripFlow(code)
		// Flow annotations left after stripping parse as TypeScript
		if loader == api.LoaderJS || loader == api.LoaderJSX {
			loader = api.LoaderTSX
		}
	}

	target := api.ESNext
	if r.fullyTransform[pkg] {
		target = api.ES2015
	}

	out, err := esbuildTransform(code, file.Path, api.TransformOptions{
		Loader: loader,
		Target: target,
	})
	if err != nil {
		return err
	}
	file.Code = out
	file.Loader = plugins.LoaderJS
	return nil
}

// StripFlow removes Flow-only syntax that TypeScript parsing rejects: the
// @flow pragma, typeof imports, opaque types, exact object braces and
// maybe-type prefixes. Annotations, type aliases and type imports share
// TypeScript's syntax and are left for the TSX parser.
func StripFlow(code []byte) []byte {
	code = flowPragma.ReplaceAll(code, nil)
	code = flowTypeStatement.ReplaceAll(code, nil)
	code = flowExactOpen.ReplaceAll(code, []byte("{"))
	code = flowExactClose.ReplaceAll(code, []byte("}"))
	code = flowMaybe.ReplaceAll(code, []byte(": $1"))
	return bytes.TrimLeft(code, "\n")
}
