package builtin

import (
	"context"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// Rules are the additional transform rules applied before runtime
// transforms.
type Rules struct {
	Transform []TransformRule
	Func      []FuncRule
}

// TestFunc selects the files a rule applies to.
type TestFunc func(path string, code []byte) bool

// TransformRule applies an esbuild transform to matching files. Options is
// used unless OptionsFunc computes options per file.
type TransformRule struct {
	Name        string
	Test        TestFunc
	Options     api.TransformOptions
	OptionsFunc func(path string, code []byte) api.TransformOptions
}

// FuncRule applies a Go function to matching files. Options is passed to
// Transform unless OptionsFunc computes options per file.
type FuncRule struct {
	Name        string
	Test        TestFunc
	Options     interface{}
	OptionsFunc func(path string, code []byte) interface{}
	Transform   func(ctx context.Context, code []byte, path string, options interface{}) ([]byte, error)
}

// TransformRulePlugin binds an esbuild transform rule.
func TransformRulePlugin(rule TransformRule) plugins.Factory {
	return func(pctx *plugins.Context) (plugins.Plugin, error) {
		if rule.Test == nil {
			return nil, fmt.Errorf("transform rule %q has no test", rule.Name)
		}
		return &transformRule{rule: rule}, nil
	}
}

type transformRule struct {
	rule TransformRule
}

func (r *transformRule) Name() string {
	if r.rule.Name != "" {
		return r.rule.Name
	}
	return string(plugins.KindTransformRule)
}

func (r *transformRule) Kind() plugins.Kind { return plugins.KindTransformRule }

func (r *transformRule) Test(path string, code []byte) bool {
	return r.rule.Test(path, code)
}

func (r *transformRule) Apply(_ context.Context, file *plugins.File) error {
	opts := r.rule.Options
	if r.rule.OptionsFunc != nil {
		opts = r.rule.OptionsFunc(file.Path, file.Code)
	}
	if opts.Loader == api.LoaderNone || opts.Loader == api.LoaderDefault {
		opts.Loader = loaderFor(file)
	}

	code, err := esbuildTransform(file.Code, file.Path, opts)
	if err != nil {
		return err
	}
	file.Code = code
	file.Loader = plugins.LoaderJS
	return nil
}

// FuncRulePlugin binds a Go function rule.
func FuncRulePlugin(rule FuncRule) plugins.Factory {
	return func(pctx *plugins.Context) (plugins.Plugin, error) {
		if rule.Test == nil || rule.Transform == nil {
			return nil, fmt.Errorf("func rule %q needs test and transform", rule.Name)
		}
		return &funcRule{rule: rule}, nil
	}
}

type funcRule struct {
	rule FuncRule
}

func (r *funcRule) Name() string {
	if r.rule.Name != "" {
		return r.rule.Name
	}
	return string(plugins.KindFuncRule)
}

func (r *funcRule) Kind() plugins.Kind { return plugins.KindFuncRule }

func (r *funcRule) Test(path string, code []byte) bool {
	return r.rule.Test(path, code)
}

func (r *funcRule) Apply(ctx context.Context, file *plugins.File) error {
	opts := r.rule.Options
	if r.rule.OptionsFunc != nil {
		opts = r.rule.OptionsFunc(file.Path, file.Code)
	}

	code, err := r.rule.Transform(ctx, file.Code, file.Path, opts)
	if err != nil {
		return err
	}
	file.Code = code
	return nil
}
