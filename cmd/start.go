package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/server"
	"github.com/woody-morgan/react-native-esbuild/internal/watcher"
	"github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bundler with the dev server",
	Long: `Start the dev server. Bundles are built on first request and rebuilt
whenever a source file under the project root changes; connected apps are
reloaded after every successful rebuild.

In a terminal, press r to reload connected apps and d to open their
developer menu.

Examples:
  rne start
  rne start --port 8082 --entry-file src/index.tsx
  rne start --reset-cache --verbose`,
	PreRunE: bindStartFlags,
	RunE:    runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("entry-file", "", "entry file path")
	startCmd.Flags().String("host", config.DefaultHost, "dev server host")
	startCmd.Flags().Int("port", config.DefaultPort, "dev server port")

	addCompatFlags(startCmd.Flags(),
		compatFlag{name: "watchFolders", kind: compatSlice},
		compatFlag{name: "assetPlugins", kind: compatSlice},
		compatFlag{name: "sourceExts", kind: compatSlice},
		compatFlag{name: "max-workers", kind: compatInt},
		compatFlag{name: "transformer", kind: compatString},
	)
}

func bindStartFlags(cmd *cobra.Command, _ []string) error {
	bindings := map[string]string{
		"entryFile":   "entry-file",
		"server.host": "host",
		"server.port": "port",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	sockets := websocket.NewManager(websocket.Options{
		Logger:   logger,
		Reporter: hooks.Reporter,
	})
	srv, err := server.New(server.Options{
		Config:  cfg,
		Bundler: b.registry,
		Sockets: sockets,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	fw, err := newSourceWatcher(cfg, b.registry, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		if err := fw.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		err := fw.Stop()
		fw.Wait()
		return err
	})

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		g.Go(func() error {
			return runInteractive(gctx, fd, os.Stdin, srv, logger)
		})
	}

	logger.Info(ctx, "Bundler started", "root", cfg.Root, "entry", cfg.EntryFile,
		"host", cfg.Server.Host, "port", cfg.Server.Port)

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && ctx.Err() == nil {
		return err
	}
	return nil
}

// newSourceWatcher watches the project sources and rebuilds every watch
// mode target on change. The cache directory is excluded so cache writes
// never trigger rebuilds.
func newSourceWatcher(cfg *config.Config, registry *build.Registry, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(watcher.DefaultDebounce, logger)
	if err != nil {
		return nil, err
	}

	fw.AddFilter(watcher.SourceFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoTempFilter)
	fw.AddFilter(watcher.NotUnderFilter(cfg.CacheDir))
	fw.Ignore(cfg.CacheDir)

	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		logger.Debug(ctx, "Source files changed", "files", len(events))
		registry.RebuildWatching(ctx)
		return nil
	})

	if err := fw.AddRecursive(cfg.Root); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

type compatKind int

const (
	compatString compatKind = iota
	compatSlice
	compatInt
	compatBool
)

// compatFlag is accepted for react-native CLI compatibility and ignored.
type compatFlag struct {
	name string
	kind compatKind
}

func addCompatFlags(flags *pflag.FlagSet, compat ...compatFlag) {
	const usage = "no-op (just for react-native cli compatibility)"
	for _, f := range compat {
		switch f.kind {
		case compatSlice:
			flags.StringSlice(f.name, nil, usage)
		case compatInt:
			flags.Int(f.name, 0, usage)
		case compatBool:
			flags.Bool(f.name, false, usage)
		default:
			flags.String(f.name, "", usage)
		}
	}
}
