package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/woody-morgan/react-native-esbuild/internal/cache"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the transform cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the persistent transform cache",
	Long: `Remove every entry of the persistent transform cache. The next build
transforms all sources again.

Examples:
  rne cache clean
  RNE_CACHEDIR=/tmp/rne rne cache clean`,
	RunE: runCacheClean,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
}

func runCacheClean(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir := cache.TransformDir(cfg.CacheDir)
	if err := cache.Clean(cfg.CacheDir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Transform cache cleaned: %s\n", dir)
	return nil
}
