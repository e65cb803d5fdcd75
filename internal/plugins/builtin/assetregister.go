package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// DefaultPublicPath is where the dev server serves registered assets.
const DefaultPublicPath = "/assets"

// AssetRegistryModule is the react-native module assets register with.
const AssetRegistryModule = "react-native/Libraries/Image/AssetRegistry"

var (
	imageExtensions = []string{".bmp", ".gif", ".jpeg", ".jpg", ".png", ".webp"}
	scaleSuffix     = regexp.MustCompile(`@(\d+(?:\.\d+)?)x$`)
)

// registryKey holds the map[string]plugins.Asset accumulated during a build.
const registryKey = "asset-register:registry"

// AssetRegisterOptions configures the asset plugin.
type AssetRegisterOptions struct {
	// PublicPath prefixes httpServerLocation. Defaults to DefaultPublicPath.
	PublicPath string
}

// AssetRegister turns image imports into asset registry modules.
func AssetRegister(opts AssetRegisterOptions) plugins.Factory {
	return func(pctx *plugins.Context) (plugins.Plugin, error) {
		publicPath := opts.PublicPath
		if publicPath == "" {
			publicPath = DefaultPublicPath
		}

		extensions := make(map[string]bool, len(imageExtensions)+1)
		for _, ext := range imageExtensions {
			extensions[ext] = true
		}
		if pctx.Config == nil || !pctx.Config.Transformer.ConvertSvg {
			extensions[".svg"] = true
		}

		return &assetRegister{pctx: pctx, publicPath: publicPath, extensions: extensions}, nil
	}
}

type assetRegister struct {
	pctx       *plugins.Context
	publicPath string
	extensions map[string]bool
}

func (a *assetRegister) Name() string       { return string(plugins.KindAssetRegister) }
func (a *assetRegister) Kind() plugins.Kind { return plugins.KindAssetRegister }

// SkipCache keeps assets out of the transform cache: registering them is a
// side effect every build needs.
func (a *assetRegister) SkipCache() bool { return true }

func (a *assetRegister) Test(p string, _ []byte) bool {
	return a.extensions[strings.ToLower(filepath.Ext(p))]
}

func (a *assetRegister) Apply(ctx context.Context, file *plugins.File) error {
	asset, err := a.describe(file)
	if err != nil {
		return err
	}

	a.pctx.UpdateData(registryKey, func(old interface{}) interface{} {
		registry, _ := old.(map[string]plugins.Asset)
		if registry == nil {
			registry = make(map[string]plugins.Asset)
		}
		registry[asset.HTTPServerLocation+"/"+asset.Name+"."+asset.Type] = asset
		return registry
	})

	module, err := registerAssetModule(asset)
	if err != nil {
		return err
	}
	file.Code = module
	file.Loader = plugins.LoaderJS
	return nil
}

// Start drops the assets registered by the previous build so removed
// imports do not linger in the published list.
func (a *assetRegister) Start(_ context.Context, pctx *plugins.Context) error {
	pctx.SetData(registryKey, make(map[string]plugins.Asset))
	return nil
}

// Finalize publishes the accumulated assets, sorted by location.
func (a *assetRegister) Finalize(_ context.Context, pctx *plugins.Context) error {
	v, _ := pctx.Data(registryKey)
	registry, _ := v.(map[string]plugins.Asset)

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assets := make([]plugins.Asset, 0, len(keys))
	for _, k := range keys {
		assets = append(assets, registry[k])
	}
	pctx.SetData(plugins.AssetsKey, assets)
	return nil
}

func (a *assetRegister) describe(file *plugins.File) (plugins.Asset, error) {
	dir := filepath.Dir(file.Path)
	ext := filepath.Ext(file.Path)
	name := scaleSuffix.ReplaceAllString(strings.TrimSuffix(filepath.Base(file.Path), ext), "")

	rel, err := filepath.Rel(a.pctx.Root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = ""
	}
	location := path.Join(a.publicPath, filepath.ToSlash(rel))

	asset := plugins.Asset{
		Name:               name,
		Type:               strings.TrimPrefix(strings.ToLower(ext), "."),
		HTTPServerLocation: location,
		Hash:               fmt.Sprintf("%016x", xxhash.Sum64(file.Code)),
		Files:              make(map[string]string),
	}

	scales, err := findScales(dir, name, ext)
	if err != nil {
		return asset, err
	}
	if len(scales) == 0 {
		// The imported file itself is the only variant
		scales = map[float64]string{1: file.Path}
	}
	for scale, p := range scales {
		asset.Scales = append(asset.Scales, scale)
		asset.Files[filepath.Base(p)] = p
	}
	sort.Float64s(asset.Scales)

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(file.Code)); err == nil {
		width, height := cfg.Width, cfg.Height
		if s := ScaleOf(file.Path); s > 1 {
			width, height = int(float64(width)/s), int(float64(height)/s)
		}
		asset.Width, asset.Height = width, height
	}

	return asset, nil
}

// findScales lists the scale variants of name next to each other in dir.
func findScales(dir, name, ext string) (map[float64]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	scales := make(map[float64]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if base == name {
			scales[1] = filepath.Join(dir, entry.Name())
			continue
		}
		if m := scaleSuffix.FindStringSubmatch(base); m != nil && strings.TrimSuffix(base, m[0]) == name {
			if s, err := strconv.ParseFloat(m[1], 64); err == nil {
				scales[s] = filepath.Join(dir, entry.Name())
			}
		}
	}
	return scales, nil
}

// ScaleOf returns the density encoded in an @<n>x file name suffix, or 1.
func ScaleOf(p string) float64 {
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	if m := scaleSuffix.FindStringSubmatch(base); m != nil {
		if s, err := strconv.ParseFloat(m[1], 64); err == nil {
			return s
		}
	}
	return 1
}

type registeredAsset struct {
	PackagerAsset      bool      `json:"__packager_asset"`
	HTTPServerLocation string    `json:"httpServerLocation"`
	Width              int       `json:"width,omitempty"`
	Height             int       `json:"height,omitempty"`
	Scales             []float64 `json:"scales"`
	Hash               string    `json:"hash"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
}

func registerAssetModule(asset plugins.Asset) ([]byte, error) {
	payload, err := json.Marshal(registeredAsset{
		PackagerAsset:      true,
		HTTPServerLocation: asset.HTTPServerLocation,
		Width:              asset.Width,
		Height:             asset.Height,
		Scales:             asset.Scales,
		Hash:               asset.Hash,
		Name:               asset.Name,
		Type:               asset.Type,
	})
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("module.exports = require(%q).registerAsset(%s);\n",
		AssetRegistryModule, payload)), nil
}
