package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/woody-morgan/react-native-esbuild/internal/config"
)

// Mode is the bundle mode of a build target.
type Mode string

const (
	ModeBundle Mode = "bundle"
	ModeWatch  Mode = "watch"
)

// Platform is a react-native target platform.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// Platforms lists the supported platforms.
var Platforms = []Platform{PlatformAndroid, PlatformIOS, PlatformWeb}

// ParsePlatform validates a platform name.
func ParsePlatform(name string) (Platform, error) {
	for _, p := range Platforms {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported platform %q", name)
}

// Well-known AdditionalData keys.
const (
	// AssetsKey holds the []Asset registered during the last successful build.
	AssetsKey = "assets"
)

// Context is shared by every plugin of one build task.
type Context struct {
	ID       int
	Root     string
	Config   *config.Config
	Mode     Mode
	Platform Platform
	Dev      bool
	Minify   bool

	mu   sync.RWMutex
	data map[string]interface{}
}

// NewContext creates a plugin context for one build task.
func NewContext(id int, cfg *config.Config, mode Mode, platform Platform, dev, minify bool) *Context {
	return &Context{
		ID:       id,
		Root:     cfg.Root,
		Config:   cfg,
		Mode:     mode,
		Platform: platform,
		Dev:      dev,
		Minify:   minify,
		data:     make(map[string]interface{}),
	}
}

// Data returns the value stored under key.
func (c *Context) Data(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// SetData stores value under key.
func (c *Context) SetData(key string, value interface{}) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}

// UpdateData replaces the value under key with fn's result. fn runs under
// the context lock, so concurrent updates of one key never interleave.
func (c *Context) UpdateData(key string, fn func(old interface{}) interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = fn(c.data[key])
}

// DataKeys returns the stored keys in sorted order.
func (c *Context) DataKeys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Assets returns the asset list published by the last successful build.
func (c *Context) Assets() []Asset {
	v, ok := c.Data(AssetsKey)
	if !ok {
		return nil
	}
	assets, _ := v.([]Asset)
	return assets
}

// Asset is an image registered with the react-native asset registry.
type Asset struct {
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	HTTPServerLocation string    `json:"httpServerLocation"`
	Width              int       `json:"width,omitempty"`
	Height             int       `json:"height,omitempty"`
	Scales             []float64 `json:"scales"`
	Hash               string    `json:"hash"`
	// Files maps each scale's file name to its absolute path.
	Files map[string]string `json:"-"`
}
