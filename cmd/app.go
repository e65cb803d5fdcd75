package cmd

import (
	"context"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/cache"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins/builtin"
	"github.com/woody-morgan/react-native-esbuild/internal/version"
)

// bundler wires the transform cache, plugin pipeline and esbuild engine
// into one build registry.
type bundler struct {
	cfg      *config.Config
	logger   logging.Logger
	cache    *cache.Cache
	registry *build.Registry
}

func newBundler(ctx context.Context, cfg *config.Config, logger logging.Logger, reset bool) (*bundler, error) {
	if reset {
		if err := cache.Clean(cfg.CacheDir); err != nil {
			return nil, err
		}
		logger.Info(ctx, "Transform cache cleared", "dir", cache.TransformDir(cfg.CacheDir))
	}

	store, err := cache.FromConfig(cfg, logger, cacheSalt(hooks.Rules)...)
	if err != nil {
		return nil, err
	}

	pipeline := plugins.NewPipeline(logger)
	builtin.Register(pipeline, cfg, hooks.Rules)

	registry, err := build.NewRegistry(build.Options{
		Engine:   engine.NewEsbuild(logger),
		Pipeline: pipeline,
		Cache:    store,
		Config:   cfg,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &bundler{cfg: cfg, logger: logger, cache: store, registry: registry}, nil
}

// cacheSalt lists what besides the config changes transform output. Rule
// functions cannot be hashed, so rules are identified by name.
func cacheSalt(rules builtin.Rules) []string {
	salt := []string{version.GetShortVersion()}
	for _, rule := range rules.Transform {
		salt = append(salt, "transform:"+rule.Name)
	}
	for _, rule := range rules.Func {
		salt = append(salt, "func:"+rule.Name)
	}
	return salt
}

// Close waits for pending builds and releases every engine context.
func (b *bundler) Close() error {
	err := b.registry.Close()
	metrics := b.registry.Metrics()
	b.logger.Info(context.Background(), "Bundler stopped",
		"builds", metrics.TotalBuilds,
		"success_rate", metrics.GetSuccessRate(),
		"average_duration_ms", metrics.AverageDuration.Milliseconds())
	return err
}
