// Package config provides configuration management for react-native-esbuild
// using Viper for loading from config files, environment variables and
// command-line flags.
//
// The configuration is loaded once at startup and treated as read-only for
// the lifetime of the process. Values that are functions (custom transform
// rules, client log reporters) cannot come from a file and are passed to the
// plugin pipeline and control channel through their Go APIs instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
)

// Config is the process-wide configuration.
type Config struct {
	// Root is the project root. Defaults to the working directory.
	Root string `mapstructure:"root" yaml:"root" json:"root"`
	// EntryFile is resolved against Root. Defaults to index.js.
	EntryFile string `mapstructure:"entryFile" yaml:"entryFile" json:"entryFile"`
	// Cache enables the transform cache. Defaults to true.
	Cache bool `mapstructure:"cache" yaml:"cache" json:"cache"`
	// CacheDir holds the persistent transform cache.
	CacheDir string `mapstructure:"cacheDir" yaml:"cacheDir" json:"cacheDir"`
	// MainFields are the package.json fields used to resolve modules.
	MainFields  []string          `mapstructure:"mainFields" yaml:"mainFields" json:"mainFields"`
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger" json:"logger"`
	Transformer TransformerConfig `mapstructure:"transformer" yaml:"transformer" json:"transformer"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
}

type LoggerConfig struct {
	Disabled bool `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
	// Timestamp is a Go time layout printed with every record; empty disables it.
	Timestamp string `mapstructure:"timestamp" yaml:"timestamp" json:"timestamp"`
}

type TransformerConfig struct {
	// ConvertSvg turns svg imports into react-native-svg components.
	ConvertSvg bool `mapstructure:"convertSvg" yaml:"convertSvg" json:"convertSvg"`
	// StripFlowPackageNames lists node_modules packages whose Flow syntax is stripped.
	StripFlowPackageNames []string `mapstructure:"stripFlowPackageNames" yaml:"stripFlowPackageNames" json:"stripFlowPackageNames"`
	// FullyTransformPackageNames lists node_modules packages downleveled to ES2015.
	FullyTransformPackageNames []string `mapstructure:"fullyTransformPackageNames" yaml:"fullyTransformPackageNames" json:"fullyTransformPackageNames"`
	// Target is the syntax target for project sources.
	Target string `mapstructure:"target" yaml:"target" json:"target"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

// Default values.
var (
	DefaultMainFields            = []string{"react-native", "browser", "main", "module"}
	DefaultStripFlowPackageNames = []string{"react-native"}
)

const (
	DefaultEntryFile = "index.js"
	DefaultHost      = "localhost"
	DefaultPort      = 8081
	DefaultTarget    = "es2020"
	cacheDirName     = "com.react-native-esbuild"
)

var supportedTargets = map[string]bool{
	"es2015": true, "es2016": true, "es2017": true, "es2018": true,
	"es2019": true, "es2020": true, "es2021": true, "es2022": true,
	"esnext": true,
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and applies defaults.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "failed to decode configuration")
	}

	if config.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "failed to resolve working directory")
		}
		config.Root = wd
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "failed to resolve root")
	}
	config.Root = root

	if config.EntryFile == "" {
		config.EntryFile = DefaultEntryFile
	}

	// Bool defaults need IsSet: the zero value is a valid explicit setting
	if !v.IsSet("cache") {
		config.Cache = true
	}
	if config.CacheDir == "" {
		config.CacheDir = filepath.Join(os.TempDir(), cacheDirName)
	}

	if !v.IsSet("mainFields") {
		config.MainFields = append([]string(nil), DefaultMainFields...)
	}
	if !v.IsSet("transformer.stripFlowPackageNames") {
		config.Transformer.StripFlowPackageNames = append([]string(nil), DefaultStripFlowPackageNames...)
	}
	if config.Transformer.FullyTransformPackageNames == nil {
		config.Transformer.FullyTransformPackageNames = []string{}
	}
	if config.Transformer.Target == "" {
		config.Transformer.Target = DefaultTarget
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if !v.IsSet("server.port") {
		config.Server.Port = DefaultPort
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by an empty config source.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return cfg
}

// EntryPath returns the absolute path of the entry file.
func (c *Config) EntryPath() string {
	if filepath.IsAbs(c.EntryFile) {
		return c.EntryFile
	}
	return filepath.Join(c.Root, c.EntryFile)
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid server config")
	}

	if err := validatePath(config.EntryFile); err != nil {
		return errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid entryFile")
	}

	if len(config.MainFields) == 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "mainFields must not be empty")
	}
	for _, field := range config.MainFields {
		if strings.TrimSpace(field) == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "mainFields contains an empty field name")
		}
	}

	if !supportedTargets[strings.ToLower(config.Transformer.Target)] {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("transformer.target %q is not supported", config.Transformer.Target))
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

// validatePath validates a file path
func validatePath(path string) error {
	if path == "" {
		return errors.New("empty path")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
