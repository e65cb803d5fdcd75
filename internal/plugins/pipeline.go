package plugins

import (
	"context"
	"sync"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
)

// Pipeline is the ordered registry of plugin factories.
type Pipeline struct {
	mu        sync.RWMutex
	factories []Factory
	logger    logging.Logger
}

// NewPipeline creates an empty pipeline.
func NewPipeline(logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{logger: logger.WithComponent("plugins")}
}

// Register appends a factory. Registration order is application order.
func (p *Pipeline) Register(factory Factory) {
	p.mu.Lock()
	p.factories = append(p.factories, factory)
	p.mu.Unlock()
}

// Len returns the number of registered factories.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.factories)
}

// Instantiate binds every registered factory to pctx. Factories registered
// afterwards only affect later instantiations.
func (p *Pipeline) Instantiate(pctx *Context) (*Instance, error) {
	p.mu.RLock()
	factories := make([]Factory, len(p.factories))
	copy(factories, p.factories)
	p.mu.RUnlock()

	plugins := make([]Plugin, 0, len(factories))
	for _, factory := range factories {
		plugin, err := factory(pctx)
		if err != nil {
			return nil, errors.NewPluginError("", "", err).
				WithContext("stage", "instantiate")
		}
		plugins = append(plugins, plugin)
	}

	return &Instance{
		Context: pctx,
		plugins: plugins,
		logger:  p.logger.With("context_id", pctx.ID),
	}, nil
}

// Instance is a pipeline bound to one build task.
type Instance struct {
	Context *Context
	plugins []Plugin
	logger  logging.Logger
}

// Plugins returns the bound plugins in application order.
func (i *Instance) Plugins() []Plugin {
	out := make([]Plugin, len(i.plugins))
	copy(out, i.plugins)
	return out
}

// Match returns the plugins whose Test accepts the file, in order.
func (i *Instance) Match(file *File) []Plugin {
	var matched []Plugin
	for _, plugin := range i.plugins {
		if plugin.Test(file.Path, file.Code) {
			matched = append(matched, plugin)
		}
	}
	return matched
}

// Cacheable reports whether the output of plugins may be cached.
func Cacheable(plugins []Plugin) bool {
	for _, plugin := range plugins {
		if u, ok := plugin.(Uncacheable); ok && u.SkipCache() {
			return false
		}
	}
	return true
}

// Apply runs plugins over file in order. Each plugin sees the output of the
// previous one, and the first failure stops the chain.
func (i *Instance) Apply(ctx context.Context, file *File, plugins []Plugin) error {
	for _, plugin := range plugins {
		if err := plugin.Apply(ctx, file); err != nil {
			return errors.NewPluginError(plugin.Name(), file.Path, err)
		}
	}
	return nil
}

// Transform matches and applies plugins in one step and reports whether any
// plugin ran.
func (i *Instance) Transform(ctx context.Context, file *File) (bool, error) {
	matched := i.Match(file)
	if len(matched) == 0 {
		return false, nil
	}
	return true, i.Apply(ctx, file, matched)
}

// Start runs every Starter before a build.
func (i *Instance) Start(ctx context.Context) error {
	for _, plugin := range i.plugins {
		starter, ok := plugin.(Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx, i.Context); err != nil {
			return errors.NewPluginError(plugin.Name(), "", err)
		}
	}
	return nil
}

// Finalize runs every Finalizer once after a successful build.
func (i *Instance) Finalize(ctx context.Context) error {
	for _, plugin := range i.plugins {
		finalizer, ok := plugin.(Finalizer)
		if !ok {
			continue
		}
		if err := finalizer.Finalize(ctx, i.Context); err != nil {
			return errors.NewPluginError(plugin.Name(), "", err)
		}
	}
	i.logger.Debug(ctx, "Plugins finalized", "plugins", len(i.plugins))
	return nil
}
