// Package cmd provides the rne command-line interface.
//
// Configuration is read with the following precedence, highest first:
//  1. Command-line flags (--entry-file, --port, ...)
//  2. Environment variables with the RNE_ prefix (RNE_SERVER_PORT, ...)
//  3. The config file: --config, then RNE_CONFIG_FILE, then
//     react-native-esbuild.config.{yaml,yml,json,toml} in the working directory
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins/builtin"
	"github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

const configName = "react-native-esbuild.config"

var (
	cfgFile    string
	verbose    bool
	resetCache bool

	// hooks carries the function-valued settings that cannot come from a
	// config file.
	hooks Hooks
)

// Hooks are Go-level extension points of the bundler.
type Hooks struct {
	// Rules are custom transform rules applied before runtime transforms.
	Rules builtin.Rules
	// Reporter receives every client log event relayed by the control channel.
	Reporter websocket.Reporter
}

var rootCmd = &cobra.Command{
	Use:   "rne",
	Short: "Bundle react-native applications with esbuild",
	Long: `rne bundles react-native applications with esbuild.

It serves incremental builds to running apps in watch mode and writes
release bundles, source maps and assets in bundle mode.

Quick Start:
  rne start                                  Start the dev server
  rne bundle --platform ios --bundle-output main.jsbundle
  rne cache clean                            Remove the transform cache
  rne config                                 Print the effective configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return execute()
}

// ExecuteWith runs the root command with Go-level hooks installed.
func ExecuteWith(h Hooks) error {
	hooks = h
	return execute()
}

func execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err with the engine diagnostics it carries.
func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", errors.FormatError(err))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+configName+".yaml, can also use RNE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "print all logs")
	rootCmd.PersistentFlags().BoolVar(&resetCache, "reset-cache", false, "reset transform cache")
}

// initConfig selects the config file and enables RNE_ environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("RNE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(configName)
	}

	viper.SetEnvPrefix("RNE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the logger section of cfg.
func newLogger(cmd *cobra.Command, cfg *config.Config) logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:      level,
		Format:     "text",
		Output:     cmd.ErrOrStderr(),
		TimeFormat: cfg.Logger.Timestamp,
		Disabled:   cfg.Logger.Disabled,
	})
}
