package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

var bundleFlags struct {
	platform        string
	bundleOutput    string
	sourcemapOutput string
	assetsDest      string
	dev             bool
	minify          bool
	metafile        bool
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Bundle your application",
	Long: `Build a release bundle and write it to disk together with its source
map, registered assets and esbuild metafile.

Minification defaults to on for production bundles (--dev=false).

Examples:
  rne bundle --platform ios --bundle-output ios/main.jsbundle --assets-dest ios
  rne bundle --platform android --dev=false \
    --bundle-output android/app/src/main/assets/index.android.bundle \
    --sourcemap-output index.android.bundle.map \
    --assets-dest android/app/src/main/res`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlag("entryFile", cmd.Flags().Lookup("entry-file"))
	},
	RunE: runBundle,
}

func init() {
	rootCmd.AddCommand(bundleCmd)

	flags := bundleCmd.Flags()
	flags.StringVar(&bundleFlags.platform, "platform", "", "platform for resolve modules (android, ios, web)")
	flags.String("entry-file", "", "entry file path")
	flags.StringVar(&bundleFlags.bundleOutput, "bundle-output", "", "bundle output file destination")
	flags.StringVar(&bundleFlags.sourcemapOutput, "sourcemap-output", "", "sourcemap file destination")
	flags.StringVar(&bundleFlags.assetsDest, "assets-dest", "", "assets directory")
	flags.BoolVar(&bundleFlags.dev, "dev", true, "set as development environment")
	flags.BoolVar(&bundleFlags.minify, "minify", false, "enable minify (default is !dev)")
	flags.BoolVar(&bundleFlags.metafile, "metafile", false, "make metafile.json file for esbuild analyze")

	_ = bundleCmd.MarkFlagRequired("platform")
	_ = bundleCmd.MarkFlagRequired("bundle-output")

	addCompatFlags(flags,
		compatFlag{name: "transformer", kind: compatString},
		compatFlag{name: "bundle-encoding", kind: compatString},
		compatFlag{name: "max-workers", kind: compatInt},
		compatFlag{name: "sourcemap-sources-root", kind: compatString},
		compatFlag{name: "sourcemap-use-absolute-path", kind: compatBool},
		compatFlag{name: "unstable-transform-profile", kind: compatString},
		compatFlag{name: "asset-catalog-dest", kind: compatString},
		compatFlag{name: "read-global-cache", kind: compatBool},
		compatFlag{name: "generate-static-view-configs", kind: compatBool},
	)
}

func runBundle(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	platform, err := plugins.ParsePlatform(bundleFlags.platform)
	if err != nil {
		return errors.WrapValidation(err, errors.ErrCodeValidationFailed, "invalid --platform")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	b, err := newBundler(ctx, cfg, logger, resetCache)
	if err != nil {
		return err
	}
	defer b.Close()

	minify := bundleFlags.minify
	if !cmd.Flags().Changed("minify") {
		minify = !bundleFlags.dev
	}
	target := build.Target{
		EntryFile: cfg.EntryFile,
		Platform:  platform,
		Mode:      plugins.ModeBundle,
		Dev:       bundleFlags.dev,
		Minify:    minify,
	}

	result, err := b.registry.Build(ctx, target, build.RequestOptions{})
	if err != nil {
		return err
	}

	outputs := bundleOutputs{
		root:      cfg.Root,
		platform:  platform,
		bundle:    bundleFlags.bundleOutput,
		sourcemap: bundleFlags.sourcemapOutput,
		assets:    bundleFlags.assetsDest,
		metafile:  bundleFlags.metafile,
	}
	if err := outputs.write(ctx, result); err != nil {
		return err
	}

	logger.Info(ctx, "Bundle written", "output", outputs.bundle, "revision", result.RevisionID,
		"assets", len(result.Assets), "warnings", len(result.Warnings))
	return nil
}

// bundleOutputs are the files written by one bundle command. Relative paths
// resolve against the working directory.
type bundleOutputs struct {
	root      string
	platform  plugins.Platform
	bundle    string
	sourcemap string
	assets    string
	metafile  bool
	now       func() time.Time
}

func (o bundleOutputs) write(ctx context.Context, result *build.BundleResult) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return writeOutputFile(o.bundle, result.Source)
	})

	if o.sourcemap != "" && len(result.SourceMap) > 0 {
		g.Go(func() error {
			return writeOutputFile(o.sourcemap, result.SourceMap)
		})
	}

	if o.metafile && len(result.Metafile) > 0 {
		g.Go(func() error {
			return writeOutputFile(o.metafilePath(), result.Metafile)
		})
	}

	if o.assets != "" {
		g.Go(func() error {
			return copyAssets(ctx, result.Assets, o.platform, o.assets)
		})
	}

	return g.Wait()
}

// metafilePath names the metafile after the platform and the current time
// so successive bundles can be compared.
func (o bundleOutputs) metafilePath() string {
	now := time.Now
	if o.now != nil {
		now = o.now
	}
	name := fmt.Sprintf("metafile-%s-%d.json", o.platform, now().UnixMilli())
	return filepath.Join(o.root, name)
}

func writeOutputFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to create output directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to write "+path)
	}
	return nil
}
